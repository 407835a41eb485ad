package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/guard"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/portfolio"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

// ManualOrder es una posición introducida por el operador.
// Price cero usa el snapshot actual del símbolo.
type ManualOrder struct {
	Book     domain.Book
	Symbol   string
	Side     domain.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Sector   string
	Notes    string
}

// RefreshPrices actualiza el precio de las posiciones automáticas sin tomar
// decisiones. Devuelve cuántas posiciones se actualizaron.
func (e *Engine) RefreshPrices(ctx context.Context) int {
	auto := domain.SourceAutomated
	updated := 0
	for _, book := range e.books() {
		open := e.portfolio.Positions(portfolio.PositionFilter{Book: &book, Source: &auto})
		if len(open) == 0 {
			continue
		}
		symbols := make([]string, len(open))
		for i, p := range open {
			symbols[i] = p.Symbol
		}
		res := e.scanner.Fetch(ctx, symbols)
		for _, p := range open {
			snap, ok := res.Snapshots[p.Symbol]
			if !ok {
				continue
			}
			err := e.portfolio.UpdatePrice(ctx, book, p.Symbol, decimal.NewFromFloat(snap.Price), domain.SourceAutomated)
			if err != nil {
				slog.Debug("refresh: price update skipped", "book", book, "symbol", p.Symbol, "err", err)
				continue
			}
			updated++
		}
	}
	e.flush(ctx)
	slog.Debug("prices refreshed", "positions", updated)
	return updated
}

// PortfolioSummary devuelve el resumen de un book, o de ambos si book es nil.
func (e *Engine) PortfolioSummary(book *domain.Book) ([]domain.Summary, error) {
	books := e.books()
	if book != nil {
		books = []domain.Book{*book}
	}
	out := make([]domain.Summary, 0, len(books))
	for _, b := range books {
		s, err := e.portfolio.Summary(b)
		if err != nil {
			return nil, fmt.Errorf("engine.PortfolioSummary: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Positions devuelve las posiciones abiertas que cumplen el filtro.
func (e *Engine) Positions(f portfolio.PositionFilter) []domain.Position {
	return e.portfolio.Positions(f)
}

// GuardStatus devuelve cooldowns, blacklist y contadores diarios activos.
func (e *Engine) GuardStatus() guard.Status {
	return e.guard.Status()
}

// OpenManualPosition registra una posición MANUAL. No pasa por guard ni sizing:
// el operador decide el tamaño, pero el ledger sigue aplicando sus límites.
func (e *Engine) OpenManualPosition(ctx context.Context, o ManualOrder) (domain.Position, error) {
	price := o.Price
	if price.IsZero() {
		p, err := e.currentPrice(ctx, o.Symbol)
		if err != nil {
			return domain.Position{}, fmt.Errorf("engine.OpenManualPosition: %w", err)
		}
		price = p
	}
	sector := o.Sector
	if sector == "" {
		sector = e.sectors[o.Book][o.Symbol]
	}

	pos, err := e.portfolio.Open(ctx, portfolio.OpenRequest{
		Book:     o.Book,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Price:    price,
		Quantity: o.Quantity,
		Source:   domain.SourceManual,
		Sector:   sector,
		Notes:    o.Notes,
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine.OpenManualPosition: %w", err)
	}
	e.flush(ctx)
	e.notify(ports.EventPositionOpened, pos.Symbol, fmt.Sprintf("%s %s %s qty %s @ %s (manual)",
		pos.Book, pos.Side, pos.Symbol, pos.Quantity.String(), pos.EntryPrice.StringFixed(2)))
	return pos, nil
}

// ClosePosition cierra una posición a precio actual (o al último conocido si
// no hay snapshot). Las posiciones MANUAL requieren override.
func (e *Engine) ClosePosition(ctx context.Context, book domain.Book, symbol, reason string, override bool) (domain.ClosedTrade, error) {
	if reason == "" {
		reason = "manual close"
	}
	price, err := e.currentPrice(ctx, symbol)
	if err != nil {
		slog.Warn("close: no fresh price, using last known", "book", book, "symbol", symbol, "err", err)
		price = decimal.Zero
	}

	trade, err := e.portfolio.Close(ctx, portfolio.CloseRequest{
		Book:     book,
		Symbol:   symbol,
		Price:    price,
		Reason:   reason,
		Override: override,
	})
	if err != nil {
		return domain.ClosedTrade{}, fmt.Errorf("engine.ClosePosition: %w", err)
	}
	e.afterClose(ctx, trade)
	e.flush(ctx)
	return trade, nil
}

func (e *Engine) currentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	res := e.scanner.Fetch(ctx, []string{symbol})
	snap, ok := res.Snapshots[symbol]
	if !ok {
		if err := res.Errors[symbol]; err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, domain.ErrDataUnavailable)
	}
	return decimal.NewFromFloat(snap.Price), nil
}
