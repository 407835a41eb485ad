package ports

import (
	"context"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// PositionStore persiste las posiciones abiertas, una fila por (symbol, book).
type PositionStore interface {
	LoadPositions(ctx context.Context, book domain.Book) ([]domain.Position, error)
	SavePosition(ctx context.Context, p domain.Position) error
	UpdatePosition(ctx context.Context, p domain.Position) error
	DeletePosition(ctx context.Context, book domain.Book, symbol string) error
}

// LedgerStore persiste el ledger de cada book.
type LedgerStore interface {
	// LoadLedger devuelve domain.ErrNotFound si el book nunca se inicializó.
	LoadLedger(ctx context.Context, book domain.Book) (domain.Ledger, error)
	UpdateLedger(ctx context.Context, l domain.Ledger) error
}

// GuardStore persiste cooldowns, blacklist, rachas de pérdidas y contadores diarios.
type GuardStore interface {
	LoadCooldowns(ctx context.Context, book domain.Book) ([]domain.CooldownEntry, error)
	UpsertCooldown(ctx context.Context, c domain.CooldownEntry) error
	LoadBlacklist(ctx context.Context, book domain.Book) ([]domain.BlacklistEntry, error)
	InsertBlacklist(ctx context.Context, b domain.BlacklistEntry) error
	LoadLossStreaks(ctx context.Context, book domain.Book) ([]domain.LossStreak, error)
	UpsertLossStreak(ctx context.Context, s domain.LossStreak) error
	LoadDailyCounts(ctx context.Context, day string) ([]domain.DailyCount, error)
	UpsertDailyCount(ctx context.Context, c domain.DailyCount) error
	// PurgeExpired borra cooldowns y blacklist expirados en now. Devuelve cuántas filas borró.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// TradeStore es el histórico append-only de trades cerrados.
type TradeStore interface {
	InsertTrade(ctx context.Context, t domain.ClosedTrade) error
	ListTrades(ctx context.Context, book domain.Book, from, to time.Time) ([]domain.ClosedTrade, error)
}

// CycleStore guarda un resumen ligero por ciclo.
type CycleStore interface {
	SaveCycle(ctx context.Context, r domain.CycleReport) error
	// LoadEquityCurve devuelve el valor del portfolio de cada ciclo desde since, en orden.
	LoadEquityCurve(ctx context.Context, since time.Time) ([]domain.EquityPoint, error)
}

// Storage agrupa todo lo que el engine necesita persistir.
type Storage interface {
	PositionStore
	LedgerStore
	GuardStore
	TradeStore
	CycleStore

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
