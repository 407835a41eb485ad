package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction es la acción que el guard evalúa o registra.
type TradeAction string

const (
	ActionOpen  TradeAction = "OPEN"
	ActionClose TradeAction = "CLOSE"
)

// CooldownEntry bloquea temporalmente un símbolo tras un trade reciente.
// Hay una sola entrada activa por (symbol, book).
type CooldownEntry struct {
	Symbol string
	Book   Book
	Until  time.Time
	Reason string
	SetAt  time.Time
}

// Active indica si el cooldown sigue vigente en now.
func (c CooldownEntry) Active(now time.Time) bool { return now.Before(c.Until) }

// BlacklistEntry es un bloqueo de varios días por pérdidas repetidas o severas.
// Pueden existir varias históricas; solo la última no expirada cuenta.
type BlacklistEntry struct {
	ID                string
	Symbol            string
	Book              Book
	Until             time.Time
	Reason            string
	ConsecutiveLosses int
	CreatedAt         time.Time
}

// Active indica si la entrada sigue vigente en now.
func (b BlacklistEntry) Active(now time.Time) bool { return now.Before(b.Until) }

// LossStreak es el contador de cierres perdedores consecutivos de un símbolo.
type LossStreak struct {
	Symbol    string
	Book      Book
	Count     int
	UpdatedAt time.Time
}

// DailyCount es el número de trades de un book en un día (UTC, YYYY-MM-DD).
type DailyCount struct {
	Book  Book
	Day   string
	Count int
}

// Outcome describe un trade ejecutado para que el guard fije cooldowns y blacklist.
// RealizedPnL solo aplica a cierres.
type Outcome struct {
	Symbol         string
	Book           Book
	Action         TradeAction
	Price          decimal.Decimal
	RealizedPnL    *decimal.Decimal
	RealizedPnLPct float64
}
