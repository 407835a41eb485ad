package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger es el estado de capital de un book.
//
// Invariantes:
//   - LiquidCapital >= 0
//   - InvestedCapital >= 0
//   - PositionCount <= MaxPositions
//
// Solo se modifica a través de open/close del portfolio manager.
type Ledger struct {
	Book            Book
	InitialCapital  decimal.Decimal
	LiquidCapital   decimal.Decimal
	InvestedCapital decimal.Decimal
	RealizedPnL     decimal.Decimal
	PositionCount   int
	MaxPositions    int
	UpdatedAt       time.Time
}

// NewLedger crea el ledger inicial de un book con todo el capital líquido.
func NewLedger(book Book, capital decimal.Decimal, maxPositions int) Ledger {
	return Ledger{
		Book:            book,
		InitialCapital:  capital,
		LiquidCapital:   capital,
		InvestedCapital: decimal.Zero,
		RealizedPnL:     decimal.Zero,
		MaxPositions:    maxPositions,
	}
}

// Validate comprueba los invariantes del ledger.
func (l Ledger) Validate() error {
	if l.LiquidCapital.IsNegative() {
		return fmt.Errorf("ledger %s: negative liquid capital %s", l.Book, l.LiquidCapital)
	}
	if l.InvestedCapital.IsNegative() {
		return fmt.Errorf("ledger %s: negative invested capital %s", l.Book, l.InvestedCapital)
	}
	if l.PositionCount < 0 || l.PositionCount > l.MaxPositions {
		return fmt.Errorf("ledger %s: position count %d outside [0, %d]", l.Book, l.PositionCount, l.MaxPositions)
	}
	return nil
}

// Utilization es el % de capital (líquido + invertido) que está invertido.
func (l Ledger) Utilization() float64 {
	total := l.LiquidCapital.Add(l.InvestedCapital)
	if total.IsZero() {
		return 0
	}
	return l.InvestedCapital.Div(total).Mul(hundred).InexactFloat64()
}

// HasCapacity indica si queda hueco para otra posición.
func (l Ledger) HasCapacity() bool { return l.PositionCount < l.MaxPositions }

// Summary es la vista de reporting de un book.
type Summary struct {
	Book               Book
	LiquidCapital      decimal.Decimal
	InvestedCapital    decimal.Decimal
	RealizedPnL        decimal.Decimal
	UnrealizedPnL      decimal.Decimal
	OpenPositions      int
	MaxPositions       int
	UtilizationPercent float64
}

// TotalValue es líquido + valor de mercado de las posiciones.
func (s Summary) TotalValue() decimal.Decimal {
	return s.LiquidCapital.Add(s.InvestedCapital).Add(s.UnrealizedPnL)
}

// Allocation es la vista de solo-lectura que necesita el sizing: capital del book
// y exposición actual agrupada por sector/categoría y por símbolo.
type Allocation struct {
	Book           Book
	LiquidCapital  decimal.Decimal
	BookValue      decimal.Decimal // líquido + invertido a mercado
	PortfolioValue decimal.Decimal // suma de ambos books
	Invested       decimal.Decimal
	BySector       map[string]decimal.Decimal
	BySymbol       map[string]decimal.Decimal
}
