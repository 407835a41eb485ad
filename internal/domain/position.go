package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Position es una exposición abierta a un símbolo dentro de un book.
// Hay como máximo una por (symbol, book).
type Position struct {
	ID           string
	Symbol       string
	Book         Book
	Side         Side
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	OpenedAt     time.Time
	UpdatedAt    time.Time
	Source       Source
	Sector       string // sector (equity) o categoría (crypto)
	Notes        string
}

// Cost es el capital comprometido al abrir: entry_price × quantity.
func (p Position) Cost() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// Value es el valor nominal a precio actual.
func (p Position) Value() decimal.Decimal {
	return p.CurrentPrice.Mul(p.Quantity)
}

// PnLAt calcula el P&L si la posición se valorase a price.
// LONG gana cuando el precio sube, SHORT cuando baja.
func (p Position) PnLAt(price decimal.Decimal) decimal.Decimal {
	if p.Side == SideShort {
		return p.EntryPrice.Sub(price).Mul(p.Quantity)
	}
	return price.Sub(p.EntryPrice).Mul(p.Quantity)
}

// UnrealizedPnL es el P&L a precio actual.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.PnLAt(p.CurrentPrice)
}

// UnrealizedPnLPercent es unrealized_pnl / coste × 100.
func (p Position) UnrealizedPnLPercent() decimal.Decimal {
	cost := p.Cost()
	if cost.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL().Div(cost).Mul(hundred)
}

// MarkValue es lo que la posición aporta al valor del book: coste + P&L no realizado.
// Para un SHORT no coincide con Value().
func (p Position) MarkValue() decimal.Decimal {
	return decimal.Max(decimal.Zero, p.Cost().Add(p.UnrealizedPnL()))
}

// StopHit indica si el precio actual alcanzó el stop-loss.
func (p Position) StopHit() bool {
	if p.StopLoss.IsZero() {
		return false
	}
	if p.Side == SideShort {
		return p.CurrentPrice.GreaterThanOrEqual(p.StopLoss)
	}
	return p.CurrentPrice.LessThanOrEqual(p.StopLoss)
}

// TakeProfitHit indica si el precio actual alcanzó el objetivo.
func (p Position) TakeProfitHit() bool {
	if p.TakeProfit.IsZero() {
		return false
	}
	if p.Side == SideShort {
		return p.CurrentPrice.LessThanOrEqual(p.TakeProfit)
	}
	return p.CurrentPrice.GreaterThanOrEqual(p.TakeProfit)
}

// HeldFor devuelve cuánto lleva abierta la posición en now.
func (p Position) HeldFor(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// ProtectiveLevels calcula stop-loss y take-profit a partir del precio de entrada.
// stopPct y targetPct son fracciones (0.05 = 5%).
func ProtectiveLevels(side Side, entry decimal.Decimal, stopPct, targetPct float64) (stop, target decimal.Decimal) {
	sl := decimal.NewFromFloat(stopPct)
	tp := decimal.NewFromFloat(targetPct)
	one := decimal.NewFromInt(1)
	if side == SideShort {
		return entry.Mul(one.Add(sl)), entry.Mul(one.Sub(tp))
	}
	return entry.Mul(one.Sub(sl)), entry.Mul(one.Add(tp))
}

// ClosedTrade es el registro histórico (append-only) de una posición cerrada.
type ClosedTrade struct {
	ID             string
	PositionID     string
	Symbol         string
	Book           Book
	Side           Side
	Quantity       decimal.Decimal
	EntryPrice     decimal.Decimal
	ExitPrice      decimal.Decimal
	RealizedPnL    decimal.Decimal
	RealizedPnLPct decimal.Decimal
	Proceeds       decimal.Decimal
	OpenedAt       time.Time
	ClosedAt       time.Time
	Reason         string
	Source         Source
}

// IsWin indica si el trade cerró con beneficio.
func (t ClosedTrade) IsWin() bool { return t.RealizedPnL.IsPositive() }
