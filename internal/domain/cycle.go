package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActionKind es el tipo de acción ejecutada por el ciclo.
type ActionKind string

const (
	ActionOpenLong  ActionKind = "OPEN_LONG"
	ActionOpenShort ActionKind = "OPEN_SHORT"
	ActionCloseKind ActionKind = "CLOSE"
)

// CycleAction es una acción ejecutada durante un ciclo.
type CycleAction struct {
	Kind     ActionKind
	Book     Book
	Symbol   string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Amount   decimal.Decimal
	PnL      decimal.Decimal // solo cierres
	Score    float64
	Reason   string
}

// SkippedOpportunity es una entrada descartada por un gate (no es un error).
type SkippedOpportunity struct {
	Book   Book
	Symbol string
	Side   Side
	Reason RejectReason
	Detail string
}

// SymbolError es un fallo aislado de un símbolo en un ciclo.
type SymbolError struct {
	Book   Book
	Symbol string
	Stage  string // fetch | exit | entry | persist
	Err    string
}

// CycleReport resume un ciclo de decisión completo.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Scanned    int
	Actions    []CycleAction
	Skipped    []SkippedOpportunity
	Errors     []SymbolError
	Drawdown   float64         // fracción, 0.05 = 5%
	Value      decimal.Decimal // valor total del portfolio al final del ciclo
	Halted     bool
	Defensive  bool
	Stopped    bool // el contexto se canceló antes de terminar
	Scores     map[Book][]ScoreRecord
}

// Duration devuelve la duración del ciclo.
func (r CycleReport) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// CountActions devuelve cuántas acciones del tipo dado hubo.
func (r CycleReport) CountActions(kind ActionKind) int {
	n := 0
	for _, a := range r.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// EquityPoint es una muestra de la curva de valor del portfolio.
type EquityPoint struct {
	At    time.Time
	Value float64
}
