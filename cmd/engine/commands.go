package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/adapters/notify"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/engine"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/portfolio"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// command son las operaciones de una sola vez que se piden por flags.
type command struct {
	summary   bool
	positions bool
	closeSym  string
	force     bool
	openSym   string
	book      string
	side      string
	qty       string
	price     string
}

// run ejecuta el comando pedido. handled=false si no se pidió ninguno.
func (c command) run(ctx context.Context, eng *engine.Engine, console *notify.Console) (bool, error) {
	switch {
	case c.summary:
		var book *domain.Book
		if c.book != "" {
			b, err := domain.ParseBook(c.book)
			if err != nil {
				return true, err
			}
			book = &b
		}
		summaries, err := eng.PortfolioSummary(book)
		if err != nil {
			return true, fmt.Errorf("summary: %w", err)
		}
		console.PrintSummary(summaries)
		return true, nil

	case c.positions:
		var f portfolio.PositionFilter
		if c.book != "" {
			b, err := domain.ParseBook(c.book)
			if err != nil {
				return true, err
			}
			f.Book = &b
		}
		console.PrintPositions(eng.Positions(f))
		st := eng.GuardStatus()
		console.PrintGuard(st.Cooldowns, st.Blacklist)
		return true, nil

	case c.closeSym != "":
		book, err := c.targetBook()
		if err != nil {
			return true, err
		}
		t, err := eng.ClosePosition(ctx, book, c.closeSym, "manual close", c.force)
		if err != nil {
			return true, fmt.Errorf("close %s: %w", c.closeSym, err)
		}
		slog.Info("position closed",
			"symbol", t.Symbol,
			"book", t.Book,
			"side", t.Side,
			"exit_price", t.ExitPrice.StringFixed(4),
			"pnl", t.RealizedPnL.StringFixed(2),
		)
		return true, nil

	case c.openSym != "":
		order, err := c.manualOrder()
		if err != nil {
			return true, err
		}
		p, err := eng.OpenManualPosition(ctx, order)
		if err != nil {
			return true, fmt.Errorf("open %s: %w", c.openSym, err)
		}
		slog.Info("manual position opened",
			"symbol", p.Symbol,
			"book", p.Book,
			"side", p.Side,
			"qty", p.Quantity.String(),
			"entry", p.EntryPrice.StringFixed(4),
		)
		return true, nil
	}
	return false, nil
}

func (c command) targetBook() (domain.Book, error) {
	if c.book == "" {
		return domain.BookEquity, nil
	}
	return domain.ParseBook(c.book)
}

func (c command) manualOrder() (engine.ManualOrder, error) {
	book, err := c.targetBook()
	if err != nil {
		return engine.ManualOrder{}, err
	}
	side, err := domain.ParseSide(c.side)
	if err != nil {
		return engine.ManualOrder{}, err
	}
	if c.qty == "" {
		return engine.ManualOrder{}, errors.New("-open requires -qty")
	}
	qty, err := decimal.NewFromString(c.qty)
	if err != nil {
		return engine.ManualOrder{}, fmt.Errorf("invalid -qty %q: %w", c.qty, err)
	}
	var price decimal.Decimal
	if c.price != "" {
		if price, err = decimal.NewFromString(c.price); err != nil {
			return engine.ManualOrder{}, fmt.Errorf("invalid -price %q: %w", c.price, err)
		}
	}
	return engine.ManualOrder{
		Book:     book,
		Symbol:   c.openSym,
		Side:     side,
		Quantity: qty,
		Price:    price,
		Notes:    "cli",
	}, nil
}
