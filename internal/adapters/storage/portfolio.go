package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

const positionColumns = `id, book, symbol, side, quantity, entry_price, current_price,
	stop_loss, take_profit, opened_at, updated_at, source, sector, notes`

// LoadPositions devuelve las posiciones abiertas de un book ordenadas por símbolo.
func (s *SQLiteStorage) LoadPositions(ctx context.Context, book domain.Book) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE book = ? ORDER BY symbol`, string(book))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.LoadPositions: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePosition inserta la posición (o la reemplaza si ya existe la fila).
func (s *SQLiteStorage) SavePosition(ctx context.Context, p domain.Position) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book, symbol) DO UPDATE SET
			id            = excluded.id,
			side          = excluded.side,
			quantity      = excluded.quantity,
			entry_price   = excluded.entry_price,
			current_price = excluded.current_price,
			stop_loss     = excluded.stop_loss,
			take_profit   = excluded.take_profit,
			opened_at     = excluded.opened_at,
			updated_at    = excluded.updated_at,
			source        = excluded.source,
			sector        = excluded.sector,
			notes         = excluded.notes`,
		p.ID, string(p.Book), p.Symbol, string(p.Side),
		p.Quantity.String(), p.EntryPrice.String(), p.CurrentPrice.String(),
		p.StopLoss.String(), p.TakeProfit.String(),
		formatTime(p.OpenedAt), formatTime(p.UpdatedAt),
		string(p.Source), p.Sector, p.Notes,
	); err != nil {
		return fmt.Errorf("storage.SavePosition: %s/%s: %w", p.Book, p.Symbol, err)
	}
	return nil
}

// UpdatePosition actualiza los campos mutables de una posición existente.
func (s *SQLiteStorage) UpdatePosition(ctx context.Context, p domain.Position) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET current_price = ?, stop_loss = ?, take_profit = ?, updated_at = ?, notes = ?
		WHERE book = ? AND symbol = ?`,
		p.CurrentPrice.String(), p.StopLoss.String(), p.TakeProfit.String(),
		formatTime(p.UpdatedAt), p.Notes, string(p.Book), p.Symbol,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdatePosition: %s/%s: %w", p.Book, p.Symbol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdatePosition: %s/%s: %w", p.Book, p.Symbol, domain.ErrNotFound)
	}
	return nil
}

// DeletePosition borra la posición. Borrar una fila inexistente no es error.
func (s *SQLiteStorage) DeletePosition(ctx context.Context, book domain.Book, symbol string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM positions WHERE book = ? AND symbol = ?`, string(book), symbol,
	); err != nil {
		return fmt.Errorf("storage.DeletePosition: %s/%s: %w", book, symbol, err)
	}
	return nil
}

// LoadLedger devuelve domain.ErrNotFound si el book nunca se inicializó.
func (s *SQLiteStorage) LoadLedger(ctx context.Context, book domain.Book) (domain.Ledger, error) {
	var l domain.Ledger
	var initial, liquid, invested, realized, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT initial_capital, liquid_capital, invested_capital, realized_pnl,
		       position_count, max_positions, updated_at
		FROM ledgers WHERE book = ?`, string(book),
	).Scan(&initial, &liquid, &invested, &realized, &l.PositionCount, &l.MaxPositions, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ledger{}, fmt.Errorf("storage.LoadLedger: %s: %w", book, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Ledger{}, fmt.Errorf("storage.LoadLedger: %s: %w", book, err)
	}

	l.Book = book
	l.UpdatedAt = parseTime(updated)
	if l.InitialCapital, err = parseDecimal("initial_capital", initial); err != nil {
		return domain.Ledger{}, fmt.Errorf("storage.LoadLedger: %w", err)
	}
	if l.LiquidCapital, err = parseDecimal("liquid_capital", liquid); err != nil {
		return domain.Ledger{}, fmt.Errorf("storage.LoadLedger: %w", err)
	}
	if l.InvestedCapital, err = parseDecimal("invested_capital", invested); err != nil {
		return domain.Ledger{}, fmt.Errorf("storage.LoadLedger: %w", err)
	}
	if l.RealizedPnL, err = parseDecimal("realized_pnl", realized); err != nil {
		return domain.Ledger{}, fmt.Errorf("storage.LoadLedger: %w", err)
	}
	return l, nil
}

// UpdateLedger hace upsert del ledger del book.
func (s *SQLiteStorage) UpdateLedger(ctx context.Context, l domain.Ledger) error {
	updated := l.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ledgers (book, initial_capital, liquid_capital, invested_capital,
		                     realized_pnl, position_count, max_positions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book) DO UPDATE SET
			initial_capital  = excluded.initial_capital,
			liquid_capital   = excluded.liquid_capital,
			invested_capital = excluded.invested_capital,
			realized_pnl     = excluded.realized_pnl,
			position_count   = excluded.position_count,
			max_positions    = excluded.max_positions,
			updated_at       = excluded.updated_at`,
		string(l.Book), l.InitialCapital.String(), l.LiquidCapital.String(),
		l.InvestedCapital.String(), l.RealizedPnL.String(),
		l.PositionCount, l.MaxPositions, formatTime(updated),
	); err != nil {
		return fmt.Errorf("storage.UpdateLedger: %s: %w", l.Book, err)
	}
	return nil
}

// InsertTrade añade un trade cerrado al histórico.
func (s *SQLiteStorage) InsertTrade(ctx context.Context, t domain.ClosedTrade) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, position_id, book, symbol, side, quantity, entry_price,
		                    exit_price, realized_pnl, realized_pnl_pct, proceeds,
		                    opened_at, closed_at, reason, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PositionID, string(t.Book), t.Symbol, string(t.Side),
		t.Quantity.String(), t.EntryPrice.String(), t.ExitPrice.String(),
		t.RealizedPnL.String(), t.RealizedPnLPct.String(), t.Proceeds.String(),
		formatTime(t.OpenedAt), formatTime(t.ClosedAt), t.Reason, string(t.Source),
	); err != nil {
		return fmt.Errorf("storage.InsertTrade: %s/%s: %w", t.Book, t.Symbol, err)
	}
	return nil
}

// ListTrades devuelve los trades del book cerrados en [from, to], en orden cronológico.
// to cero significa "hasta ahora".
func (s *SQLiteStorage) ListTrades(ctx context.Context, book domain.Book, from, to time.Time) ([]domain.ClosedTrade, error) {
	if to.IsZero() {
		to = s.now()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position_id, symbol, side, quantity, entry_price, exit_price,
		       realized_pnl, realized_pnl_pct, proceeds, opened_at, closed_at, reason, source
		FROM trades
		WHERE book = ? AND closed_at BETWEEN ? AND ?
		ORDER BY closed_at ASC`,
		string(book), formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.ListTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		var side, source, opened, closed string
		var qty, entry, exit, realized, realizedPct, proc string
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &side, &qty, &entry, &exit,
			&realized, &realizedPct, &proc, &opened, &closed, &t.Reason, &source); err != nil {
			return nil, fmt.Errorf("storage.ListTrades: scan row: %w", err)
		}
		t.Book = book
		t.Side = domain.Side(side)
		t.Source = domain.Source(source)
		t.OpenedAt = parseTime(opened)
		t.ClosedAt = parseTime(closed)
		for _, f := range []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{
			{"quantity", qty, &t.Quantity},
			{"entry_price", entry, &t.EntryPrice},
			{"exit_price", exit, &t.ExitPrice},
			{"realized_pnl", realized, &t.RealizedPnL},
			{"realized_pnl_pct", realizedPct, &t.RealizedPnLPct},
			{"proceeds", proc, &t.Proceeds},
		} {
			v, err := parseDecimal(f.name, f.raw)
			if err != nil {
				return nil, fmt.Errorf("storage.ListTrades: %s: %w", t.ID, err)
			}
			*f.dst = v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(r rowScanner) (domain.Position, error) {
	var p domain.Position
	var book, side, source, opened, update string
	var qty, entry, current, stop, target string
	if err := r.Scan(&p.ID, &book, &p.Symbol, &side, &qty, &entry, &current,
		&stop, &target, &opened, &update, &source, &p.Sector, &p.Notes); err != nil {
		return domain.Position{}, fmt.Errorf("scan position: %w", err)
	}
	p.Book = domain.Book(book)
	p.Side = domain.Side(side)
	p.Source = domain.Source(source)
	p.OpenedAt = parseTime(opened)
	p.UpdatedAt = parseTime(update)

	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"quantity", qty, &p.Quantity},
		{"entry_price", entry, &p.EntryPrice},
		{"current_price", current, &p.CurrentPrice},
		{"stop_loss", stop, &p.StopLoss},
		{"take_profit", target, &p.TakeProfit},
	} {
		v, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return domain.Position{}, fmt.Errorf("position %s/%s: %w", book, p.Symbol, err)
		}
		*f.dst = v
	}
	return p, nil
}
