package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// persist.go: write-behind hacia el storage.
//
// Las mutaciones solo marcan qué cambió; Flush escribe el estado más reciente
// fuera del lock del book. Si una escritura falla, la operación vuelve a la cola
// y se reintenta en el siguiente Flush. La memoria es la verdad mientras tanto.

type posOp int

const (
	opNone posOp = iota
	opSave
	opUpdate
	opDelete
)

type pending struct {
	ledger    bool
	positions map[string]posOp
	trades    []domain.ClosedTrade
}

func newPending() pending {
	return pending{positions: make(map[string]posOp)}
}

func (p *pending) markPosition(symbol string, op posOp) {
	next := combine(p.positions[symbol], op)
	if next == opNone {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = next
}

// combine fusiona una operación pendiente con una posterior sobre el mismo símbolo.
// Un save no escrito seguido de update sigue siendo save; seguido de delete
// nunca llegó al storage y desaparece.
func combine(prev, next posOp) posOp {
	switch {
	case prev == opSave && next == opUpdate:
		return opSave
	case prev == opSave && next == opDelete:
		return opNone
	case prev == opDelete && next == opUpdate:
		return opDelete
	}
	return next
}

func (p pending) empty() bool {
	return !p.ledger && len(p.positions) == 0 && len(p.trades) == 0
}

// Pending indica si quedan escrituras sin persistir en algún book.
func (m *Manager) Pending() bool {
	for _, b := range m.books {
		b.mu.RLock()
		empty := b.pending.empty()
		b.mu.RUnlock()
		if !empty {
			return true
		}
	}
	return false
}

// Flush persiste el estado pendiente de todos los books.
// Devuelve un error que envuelve domain.ErrPersistence si alguna escritura falló;
// lo que falló queda pendiente para el siguiente Flush.
func (m *Manager) Flush(ctx context.Context) error {
	var errs []error
	for _, book := range domain.Books() {
		b, ok := m.books[book]
		if !ok {
			continue
		}
		if err := m.flushBook(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("portfolio.Flush: %w: %w", domain.ErrPersistence, errors.Join(errs...))
	}
	return nil
}

func (m *Manager) flushBook(ctx context.Context, b *bookState) error {
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	// Tomar la cola y una copia del estado actual bajo el lock; escribir fuera.
	b.mu.Lock()
	work := b.pending
	b.pending = newPending()
	ledger := b.ledger
	snapshot := make(map[string]domain.Position, len(work.positions))
	for symbol := range work.positions {
		if p, ok := b.positions[symbol]; ok {
			snapshot[symbol] = p
		}
	}
	b.mu.Unlock()

	if work.empty() {
		return nil
	}

	failed := newPending()
	var errs []error

	for symbol, op := range work.positions {
		var err error
		switch op {
		case opSave:
			if p, ok := snapshot[symbol]; ok {
				err = m.store.SavePosition(ctx, p)
			}
		case opUpdate:
			if p, ok := snapshot[symbol]; ok {
				err = m.store.UpdatePosition(ctx, p)
			}
		case opDelete:
			err = m.store.DeletePosition(ctx, b.settings.Book, symbol)
		}
		if err != nil {
			failed.positions[symbol] = op
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}

	for i, t := range work.trades {
		if err := m.store.InsertTrade(ctx, t); err != nil {
			failed.trades = append(failed.trades, work.trades[i:]...)
			errs = append(errs, fmt.Errorf("trade %s: %w", t.Symbol, err))
			break
		}
	}

	if work.ledger {
		if err := m.store.UpdateLedger(ctx, ledger); err != nil {
			failed.ledger = true
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}

	if failed.empty() {
		return nil
	}

	// Reencolar lo fallido por delante de lo que llegó mientras tanto.
	b.mu.Lock()
	merged := newPending()
	merged.ledger = failed.ledger || b.pending.ledger
	for symbol, op := range failed.positions {
		merged.positions[symbol] = op
	}
	for symbol, op := range b.pending.positions {
		merged.markPosition(symbol, op)
	}
	merged.trades = append(failed.trades, b.pending.trades...)
	b.pending = merged
	b.mu.Unlock()

	slog.Warn("persistence failed, will retry next cycle",
		"book", b.settings.Book,
		"failed_positions", len(failed.positions),
		"failed_trades", len(failed.trades),
		"ledger", failed.ledger,
	)
	return fmt.Errorf("%s: %w", b.settings.Book, errors.Join(errs...))
}
