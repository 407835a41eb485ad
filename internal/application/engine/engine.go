// Package engine es el ciclo de decisión y ejecución: orquesta scoring, guard,
// sizing y ledger para los dos books y produce un CycleReport por ciclo.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/guard"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/portfolio"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/risk"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/scanner"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/scoring"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/metrics"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

const (
	notifyTimeout              = 10 * time.Second
	defaultPersistFailureAlert = 3
)

// Instrument es un símbolo del universo de un book con su sector o categoría.
type Instrument struct {
	Symbol string
	Sector string
}

// BookConfig son los umbrales de decisión de un book.
// Equity y crypto comparten el mismo ciclo; solo cambian estos valores.
type BookConfig struct {
	Universe []Instrument

	BuyThreshold        float64
	SellThreshold       float64 // LONG: salir con score <= SellThreshold
	ShortThreshold      float64
	ShortCoverThreshold float64 // SHORT: salir con score >= ShortCoverThreshold
	MaxHold             time.Duration

	ShortsEnabled         bool
	ShortMinVolume        float64
	ShortMaxRecentGainPct float64
	ShortMinConfirmations int
	MaxShortPositions     int
	MaxShortExposurePct   float64 // fracción del valor del book
}

// Config parametriza el Engine.
type Config struct {
	Books map[domain.Book]BookConfig

	RefreshInterval         time.Duration
	CycleInterval           time.Duration
	MaxNewPositionsPerCycle int // <= 0 sin límite
	FetchWorkers            int
	HoldOnHalt              bool // el breaker solo bloquea entradas, sin cerrar posiciones
	EquityMarketHours       bool
	StopFile                string
	DrawdownLookback        time.Duration
	PersistFailureAlert     int // flushes fallidos seguidos antes de notificar
}

// Deps son los componentes que el engine orquesta.
// Cycles, Notifier y Metrics pueden ser nil.
type Deps struct {
	Market    ports.MarketData
	Portfolio *portfolio.Manager
	Scoring   *scoring.Engine
	Sizer     *risk.Sizer
	Guard     *guard.Guard
	Drawdown  *risk.DrawdownMonitor
	Cycles    ports.CycleStore
	Notifier  ports.Notifier
	Metrics   *metrics.Recorder
}

// Engine ejecuta el ciclo de decisión de los dos books.
type Engine struct {
	cfg       Config
	scanner   *scanner.Scanner
	portfolio *portfolio.Manager
	scoring   *scoring.Engine
	sizer     *risk.Sizer
	guard     *guard.Guard
	drawdown  *risk.DrawdownMonitor
	cycles    ports.CycleStore
	notifier  ports.Notifier
	metrics   *metrics.Recorder
	now       func() time.Time
	onReport  func(domain.CycleReport)

	sectors  map[domain.Book]map[string]string
	cycleMu  sync.Mutex
	halted   bool
	flushMu  sync.Mutex
	failures int
	notifyWg sync.WaitGroup
}

// Option configura el Engine.
type Option func(*Engine)

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithReportHandler registra un callback que Run invoca tras cada ciclo.
func WithReportHandler(fn func(domain.CycleReport)) Option {
	return func(e *Engine) { e.onReport = fn }
}

// New crea el engine. Llamar a Load antes del primer ciclo.
func New(cfg Config, deps Deps, opts ...Option) *Engine {
	if cfg.PersistFailureAlert <= 0 {
		cfg.PersistFailureAlert = defaultPersistFailureAlert
	}
	e := &Engine{
		cfg:       cfg,
		scanner:   scanner.New(deps.Market, cfg.FetchWorkers),
		portfolio: deps.Portfolio,
		scoring:   deps.Scoring,
		sizer:     deps.Sizer,
		guard:     deps.Guard,
		drawdown:  deps.Drawdown,
		cycles:    deps.Cycles,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		now:       time.Now,
		sectors:   make(map[domain.Book]map[string]string, len(cfg.Books)),
	}
	for _, o := range opts {
		o(e)
	}
	for book, bc := range cfg.Books {
		m := make(map[string]string, len(bc.Universe))
		for _, in := range bc.Universe {
			m[in.Symbol] = in.Sector
		}
		e.sectors[book] = m
	}
	return e
}

// Load recupera el estado persistido: ledgers y posiciones, guard y la curva
// de valor para el drawdown. Un estado corrupto devuelve domain.ErrFatal.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.portfolio.Load(ctx); err != nil {
		return fmt.Errorf("engine.Load: %w", err)
	}
	if err := e.guard.Load(ctx); err != nil {
		return fmt.Errorf("engine.Load: %w", err)
	}
	if e.cycles != nil {
		since := e.now().Add(-e.cfg.DrawdownLookback)
		points, err := e.cycles.LoadEquityCurve(ctx, since)
		if err != nil {
			slog.Warn("engine: equity curve unavailable, drawdown starts fresh", "err", err)
		} else {
			e.drawdown.Seed(points)
			slog.Debug("engine: drawdown seeded", "points", len(points))
		}
	}
	return nil
}

// Close espera a las notificaciones en vuelo y persiste lo pendiente.
func (e *Engine) Close() error {
	e.notifyWg.Wait()
	if err := e.portfolio.Flush(context.Background()); err != nil {
		return fmt.Errorf("engine.Close: %w", err)
	}
	return nil
}

// books devuelve los books configurados en orden estable.
func (e *Engine) books() []domain.Book {
	out := make([]domain.Book, 0, len(e.cfg.Books))
	for _, b := range domain.Books() {
		if _, ok := e.cfg.Books[b]; ok {
			out = append(out, b)
		}
	}
	return out
}

func (e *Engine) inUniverse(book domain.Book, symbol string) bool {
	_, ok := e.sectors[book][symbol]
	return ok
}

// notify despacha una notificación sin bloquear al llamador.
func (e *Engine) notify(event, symbol, message string) {
	if e.notifier == nil {
		return
	}
	e.notifyWg.Add(1)
	go func() {
		defer e.notifyWg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, event, symbol, message); err != nil {
			slog.Warn("engine: notification failed", "event", event, "symbol", symbol, "err", err)
		}
	}()
}

// flush persiste el estado pendiente del portfolio. Un fallo no detiene nada:
// lo pendiente se reintenta en el siguiente flush y, si se repite, se notifica.
func (e *Engine) flush(ctx context.Context) {
	err := e.portfolio.Flush(ctx)

	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	if err == nil {
		if e.failures > 0 {
			slog.Info("engine: persistence recovered", "failed_flushes", e.failures)
		}
		e.failures = 0
		return
	}
	e.failures++
	e.metrics.FlushFailed()
	slog.Warn("engine: flush failed, state kept in memory", "attempt", e.failures, "err", err)
	if e.failures == e.cfg.PersistFailureAlert {
		e.notify(ports.EventPersistenceFailure, "",
			fmt.Sprintf("%d consecutive flushes failed: %v", e.failures, err))
	}
}
