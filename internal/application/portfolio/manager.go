// Package portfolio mantiene el estado autoritativo de capital y posiciones de
// cada book. Todas las mutaciones de un book pasan por un único escritor.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

// Store es el subconjunto de ports.Storage que usa el manager.
type Store interface {
	ports.PositionStore
	ports.LedgerStore
	ports.TradeStore
}

// BookSettings son los parámetros fijos de un book.
type BookSettings struct {
	Book               domain.Book
	InitialCapital     decimal.Decimal
	MaxPositions       int
	StopLossPct        float64
	TakeProfitPct      float64
	ShortStopLossPct   float64
	ShortTakeProfitPct float64
}

// OpenRequest describe una apertura.
type OpenRequest struct {
	Book     domain.Book
	Symbol   string
	Side     domain.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Source   domain.Source
	Sector   string
	Notes    string
}

// CloseRequest describe un cierre. Price cero usa el último precio conocido.
type CloseRequest struct {
	Book     domain.Book
	Symbol   string
	Price    decimal.Decimal
	Reason   string
	Override bool // permite cerrar posiciones MANUAL
}

// PositionFilter filtra Positions; campos nil no filtran.
type PositionFilter struct {
	Book   *domain.Book
	Source *domain.Source
}

const defaultConflictWait = 2 * time.Second

// Manager es el Ledger & Position State de ambos books.
type Manager struct {
	store        Store
	books        map[domain.Book]*bookState
	now          func() time.Time
	conflictWait time.Duration
}

type bookState struct {
	settings BookSettings

	// slot garantiza un solo escritor por book; mu da a los lectores una vista consistente.
	slot      chan struct{}
	mu        sync.RWMutex
	ledger    domain.Ledger
	positions map[string]domain.Position
	pending   pending

	persistMu sync.Mutex
}

// Option configura el Manager.
type Option func(*Manager)

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithConflictWait fija cuánto espera un escritor que encuentra el book ocupado.
func WithConflictWait(d time.Duration) Option { return func(m *Manager) { m.conflictWait = d } }

// NewManager crea el manager con el ledger inicial de cada book en memoria.
// Llamar a Load antes de operar para recuperar el estado persistido.
func NewManager(store Store, settings []BookSettings, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		books:        make(map[domain.Book]*bookState, len(settings)),
		now:          time.Now,
		conflictWait: defaultConflictWait,
	}
	for _, o := range opts {
		o(m)
	}
	for _, s := range settings {
		m.books[s.Book] = &bookState{
			settings:  s,
			slot:      make(chan struct{}, 1),
			ledger:    domain.NewLedger(s.Book, s.InitialCapital, s.MaxPositions),
			positions: make(map[string]domain.Position),
			pending:   newPending(),
		}
	}
	return m
}

// Load recupera ledger y posiciones de cada book. Un ledger ausente se inicializa
// desde la configuración; un estado persistido inconsistente devuelve domain.ErrFatal.
func (m *Manager) Load(ctx context.Context) error {
	for _, book := range domain.Books() {
		b, ok := m.books[book]
		if !ok {
			continue
		}
		if err := m.loadBook(ctx, b); err != nil {
			return fmt.Errorf("portfolio.Load: %s: %w", book, err)
		}
	}
	return nil
}

func (m *Manager) loadBook(ctx context.Context, b *bookState) error {
	book := b.settings.Book

	ledger, err := m.store.LoadLedger(ctx, book)
	fresh := false
	switch {
	case errors.Is(err, domain.ErrNotFound):
		ledger = domain.NewLedger(book, b.settings.InitialCapital, b.settings.MaxPositions)
		ledger.UpdatedAt = m.now()
		fresh = true
	case err != nil:
		return fmt.Errorf("%w: load ledger: %v", domain.ErrFatal, err)
	}
	ledger.MaxPositions = b.settings.MaxPositions

	positions, err := m.store.LoadPositions(ctx, book)
	if err != nil {
		return fmt.Errorf("%w: load positions: %v", domain.ErrFatal, err)
	}

	if err := ledger.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFatal, err)
	}
	if ledger.PositionCount != len(positions) {
		return fmt.Errorf("%w: ledger %s counts %d positions, storage has %d",
			domain.ErrFatal, book, ledger.PositionCount, len(positions))
	}
	invested := decimal.Zero
	bySymbol := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		if _, dup := bySymbol[p.Symbol]; dup {
			return fmt.Errorf("%w: duplicate position %s in %s", domain.ErrFatal, p.Symbol, book)
		}
		if !p.Quantity.IsPositive() || !p.EntryPrice.IsPositive() {
			return fmt.Errorf("%w: position %s in %s has invalid quantity/price", domain.ErrFatal, p.Symbol, book)
		}
		invested = invested.Add(p.Cost())
		bySymbol[p.Symbol] = p
	}
	if !invested.Equal(ledger.InvestedCapital) {
		return fmt.Errorf("%w: ledger %s invested %s but positions cost %s",
			domain.ErrFatal, book, ledger.InvestedCapital, invested)
	}

	b.mu.Lock()
	b.ledger = ledger
	b.positions = bySymbol
	b.pending = newPending()
	if fresh {
		b.pending.ledger = true
	}
	b.mu.Unlock()

	slog.Info("book loaded",
		"book", book,
		"liquid", ledger.LiquidCapital.StringFixed(2),
		"invested", ledger.InvestedCapital.StringFixed(2),
		"positions", len(positions),
		"fresh", fresh,
	)
	return nil
}

// Open abre una posición moviendo price×quantity de líquido a invertido.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (domain.Position, error) {
	b, err := m.book(req.Book)
	if err != nil {
		return domain.Position{}, err
	}
	if req.Symbol == "" {
		return domain.Position{}, domain.Reject(domain.ReasonInvalidInput, "empty symbol")
	}
	if !req.Price.IsPositive() || !req.Quantity.IsPositive() {
		return domain.Position{}, domain.Reject(domain.ReasonInvalidInput,
			"%s: price %s and quantity %s must be > 0", req.Symbol, req.Price, req.Quantity)
	}
	if req.Side != domain.SideLong && req.Side != domain.SideShort {
		return domain.Position{}, domain.Reject(domain.ReasonInvalidInput, "%s: unknown side %q", req.Symbol, req.Side)
	}
	if req.Source == "" {
		req.Source = domain.SourceAutomated
	}

	release, err := b.acquire(ctx, m.conflictWait)
	if err != nil {
		return domain.Position{}, err
	}
	defer release()

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.positions[req.Symbol]; exists {
		return domain.Position{}, domain.Reject(domain.ReasonPositionExists, "%s already open in %s", req.Symbol, req.Book)
	}
	if !b.ledger.HasCapacity() {
		return domain.Position{}, domain.Reject(domain.ReasonPositionLimitReached,
			"%s: %d/%d positions", req.Book, b.ledger.PositionCount, b.ledger.MaxPositions)
	}
	cost := req.Price.Mul(req.Quantity)
	if cost.GreaterThan(b.ledger.LiquidCapital) {
		return domain.Position{}, domain.Reject(domain.ReasonCapitalInsufficient,
			"%s: need %s, liquid %s", req.Symbol, cost.StringFixed(2), b.ledger.LiquidCapital.StringFixed(2))
	}

	now := m.now()
	stopPct, targetPct := b.settings.StopLossPct, b.settings.TakeProfitPct
	if req.Side == domain.SideShort {
		stopPct, targetPct = b.settings.ShortStopLossPct, b.settings.ShortTakeProfitPct
	}
	stop, target := domain.ProtectiveLevels(req.Side, req.Price, stopPct, targetPct)

	pos := domain.Position{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		Book:         req.Book,
		Side:         req.Side,
		Quantity:     req.Quantity,
		EntryPrice:   req.Price,
		CurrentPrice: req.Price,
		StopLoss:     stop,
		TakeProfit:   target,
		OpenedAt:     now,
		UpdatedAt:    now,
		Source:       req.Source,
		Sector:       req.Sector,
		Notes:        req.Notes,
	}

	b.ledger.LiquidCapital = b.ledger.LiquidCapital.Sub(cost)
	b.ledger.InvestedCapital = b.ledger.InvestedCapital.Add(cost)
	b.ledger.PositionCount++
	b.ledger.UpdatedAt = now
	b.positions[req.Symbol] = pos

	b.pending.markPosition(req.Symbol, opSave)
	b.pending.ledger = true

	slog.Debug("position opened",
		"book", req.Book, "symbol", req.Symbol, "side", req.Side,
		"qty", req.Quantity.String(), "price", req.Price.String(), "source", req.Source,
	)
	return pos, nil
}

// UpdatePrice actualiza el precio actual. Nunca mueve capital.
// Es un no-op para posiciones MANUAL cuando lo llama el camino automático.
func (m *Manager) UpdatePrice(ctx context.Context, book domain.Book, symbol string, price decimal.Decimal, actor domain.Source) error {
	b, err := m.book(book)
	if err != nil {
		return err
	}
	if !price.IsPositive() {
		return domain.Reject(domain.ReasonInvalidInput, "%s: price %s must be > 0", symbol, price)
	}

	release, err := b.acquire(ctx, m.conflictWait)
	if err != nil {
		return err
	}
	defer release()

	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		return domain.Reject(domain.ReasonPositionNotFound, "%s not open in %s", symbol, book)
	}
	if pos.Source == domain.SourceManual && actor != domain.SourceManual {
		return nil
	}
	pos.CurrentPrice = price
	pos.UpdatedAt = m.now()
	b.positions[symbol] = pos
	b.pending.markPosition(symbol, opUpdate)
	return nil
}

// Close cierra una posición, realiza el P&L y devuelve el capital al líquido.
// Proceeds = max(0, coste + pnl): un SHORT nunca deja el líquido negativo.
func (m *Manager) Close(ctx context.Context, req CloseRequest) (domain.ClosedTrade, error) {
	b, err := m.book(req.Book)
	if err != nil {
		return domain.ClosedTrade{}, err
	}
	if req.Price.IsNegative() {
		return domain.ClosedTrade{}, domain.Reject(domain.ReasonInvalidInput, "%s: negative exit price", req.Symbol)
	}

	release, err := b.acquire(ctx, m.conflictWait)
	if err != nil {
		return domain.ClosedTrade{}, err
	}
	defer release()

	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[req.Symbol]
	if !ok {
		return domain.ClosedTrade{}, domain.Reject(domain.ReasonPositionNotFound, "%s not open in %s", req.Symbol, req.Book)
	}
	if pos.Source == domain.SourceManual && !req.Override {
		return domain.ClosedTrade{}, domain.Reject(domain.ReasonManualPosition, "%s is a manual position", req.Symbol)
	}

	exit := req.Price
	if exit.IsZero() {
		exit = pos.CurrentPrice
	}
	cost := pos.Cost()
	pnl := pos.PnLAt(exit)
	proceeds := decimal.Max(decimal.Zero, cost.Add(pnl))
	realized := proceeds.Sub(cost)
	pct := decimal.Zero
	if cost.IsPositive() {
		pct = realized.Div(cost).Mul(decimal.NewFromInt(100))
	}

	now := m.now()
	trade := domain.ClosedTrade{
		ID:             uuid.NewString(),
		PositionID:     pos.ID,
		Symbol:         pos.Symbol,
		Book:           pos.Book,
		Side:           pos.Side,
		Quantity:       pos.Quantity,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      exit,
		RealizedPnL:    realized,
		RealizedPnLPct: pct,
		Proceeds:       proceeds,
		OpenedAt:       pos.OpenedAt,
		ClosedAt:       now,
		Reason:         req.Reason,
		Source:         pos.Source,
	}

	b.ledger.InvestedCapital = b.ledger.InvestedCapital.Sub(cost)
	b.ledger.LiquidCapital = b.ledger.LiquidCapital.Add(proceeds)
	b.ledger.RealizedPnL = b.ledger.RealizedPnL.Add(realized)
	b.ledger.PositionCount--
	b.ledger.UpdatedAt = now
	delete(b.positions, req.Symbol)

	b.pending.markPosition(req.Symbol, opDelete)
	b.pending.ledger = true
	b.pending.trades = append(b.pending.trades, trade)

	slog.Debug("position closed",
		"book", req.Book, "symbol", req.Symbol, "side", pos.Side,
		"exit", exit.String(), "pnl", realized.StringFixed(2), "reason", req.Reason,
	)
	return trade, nil
}

// Ledger devuelve una copia del ledger del book.
func (m *Manager) Ledger(book domain.Book) (domain.Ledger, error) {
	b, err := m.book(book)
	if err != nil {
		return domain.Ledger{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ledger, nil
}

// Position devuelve la posición abierta de symbol en book.
func (m *Manager) Position(book domain.Book, symbol string) (domain.Position, bool) {
	b, err := m.book(book)
	if err != nil {
		return domain.Position{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	return p, ok
}

// Positions devuelve las posiciones que cumplen el filtro, ordenadas por book y símbolo.
func (m *Manager) Positions(f PositionFilter) []domain.Position {
	var out []domain.Position
	for _, book := range domain.Books() {
		if f.Book != nil && *f.Book != book {
			continue
		}
		b, ok := m.books[book]
		if !ok {
			continue
		}
		b.mu.RLock()
		for _, p := range b.positions {
			if f.Source != nil && *f.Source != p.Source {
				continue
			}
			out = append(out, p)
		}
		b.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Book != out[j].Book {
			return out[i].Book < out[j].Book
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Summary devuelve la vista de reporting de un book.
func (m *Manager) Summary(book domain.Book) (domain.Summary, error) {
	b, err := m.book(book)
	if err != nil {
		return domain.Summary{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	unrealized := decimal.Zero
	for _, p := range b.positions {
		unrealized = unrealized.Add(p.UnrealizedPnL())
	}
	return domain.Summary{
		Book:               book,
		LiquidCapital:      b.ledger.LiquidCapital,
		InvestedCapital:    b.ledger.InvestedCapital,
		RealizedPnL:        b.ledger.RealizedPnL,
		UnrealizedPnL:      unrealized,
		OpenPositions:      b.ledger.PositionCount,
		MaxPositions:       b.ledger.MaxPositions,
		UtilizationPercent: b.ledger.Utilization(),
	}, nil
}

// TotalValue es la suma, a precios de mercado, de ambos books.
func (m *Manager) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, b := range m.books {
		total = total.Add(b.value())
	}
	return total
}

// Allocation devuelve la exposición actual del book para el sizing.
func (m *Manager) Allocation(book domain.Book) (domain.Allocation, error) {
	b, err := m.book(book)
	if err != nil {
		return domain.Allocation{}, err
	}
	portfolio := m.TotalValue()

	b.mu.RLock()
	defer b.mu.RUnlock()
	alloc := domain.Allocation{
		Book:           book,
		LiquidCapital:  b.ledger.LiquidCapital,
		PortfolioValue: portfolio,
		Invested:       decimal.Zero,
		BySector:       make(map[string]decimal.Decimal),
		BySymbol:       make(map[string]decimal.Decimal, len(b.positions)),
	}
	for _, p := range b.positions {
		v := p.MarkValue()
		alloc.Invested = alloc.Invested.Add(v)
		alloc.BySymbol[p.Symbol] = v
		if p.Sector != "" {
			alloc.BySector[p.Sector] = alloc.BySector[p.Sector].Add(v)
		}
	}
	alloc.BookValue = b.ledger.LiquidCapital.Add(alloc.Invested)
	return alloc, nil
}

func (b *bookState) value() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v := b.ledger.LiquidCapital
	for _, p := range b.positions {
		v = v.Add(p.MarkValue())
	}
	return v
}

func (m *Manager) book(book domain.Book) (*bookState, error) {
	b, ok := m.books[book]
	if !ok {
		return nil, domain.Reject(domain.ReasonInvalidInput, "unknown book %q", book)
	}
	return b, nil
}

// acquire toma el slot de escritura del book. Si está ocupado espera una vez
// hasta wait; un segundo conflicto aborta con ConcurrencyConflict.
func (b *bookState) acquire(ctx context.Context, wait time.Duration) (func(), error) {
	release := func() { <-b.slot }

	select {
	case b.slot <- struct{}{}:
		return release, nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case b.slot <- struct{}{}:
		return release, nil
	case <-timer.C:
		return nil, domain.Reject(domain.ReasonConcurrencyConflict, "book %s busy", b.settings.Book)
	case <-ctx.Done():
		return nil, fmt.Errorf("portfolio: acquire %s: %w", b.settings.Book, ctx.Err())
	}
}
