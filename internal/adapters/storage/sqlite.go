package storage

// sqlite.go: persistencia del engine.
//
// Estrategia:
//   - `positions` y `ledgers`: estado vivo, una fila por (book, symbol) y por book (UPSERT).
//   - `trades`: histórico append-only de cierres.
//   - `cooldowns`, `blacklist`, `loss_streaks`, `daily_counts`: estado del guard.
//   - `cycles`: resumen ligero por ciclo; alimenta la curva de valor del drawdown.
//   - Importes en TEXT (decimal exacto), fechas en TEXT UTC de ancho fijo.
//   - Prune automático al arrancar: cycles > 90d, cooldowns/blacklist expirados.

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id            TEXT NOT NULL,
    book          TEXT NOT NULL,
    symbol        TEXT NOT NULL,
    side          TEXT NOT NULL,
    quantity      TEXT NOT NULL,
    entry_price   TEXT NOT NULL,
    current_price TEXT NOT NULL,
    stop_loss     TEXT NOT NULL,
    take_profit   TEXT NOT NULL,
    opened_at     TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    source        TEXT NOT NULL DEFAULT 'AUTOMATED',
    sector        TEXT NOT NULL DEFAULT '',
    notes         TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (book, symbol)
);

CREATE TABLE IF NOT EXISTS ledgers (
    book             TEXT PRIMARY KEY,
    initial_capital  TEXT NOT NULL,
    liquid_capital   TEXT NOT NULL,
    invested_capital TEXT NOT NULL,
    realized_pnl     TEXT NOT NULL,
    position_count   INTEGER NOT NULL DEFAULT 0,
    max_positions    INTEGER NOT NULL,
    updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id               TEXT PRIMARY KEY,
    position_id      TEXT NOT NULL,
    book             TEXT NOT NULL,
    symbol           TEXT NOT NULL,
    side             TEXT NOT NULL,
    quantity         TEXT NOT NULL,
    entry_price      TEXT NOT NULL,
    exit_price       TEXT NOT NULL,
    realized_pnl     TEXT NOT NULL,
    realized_pnl_pct TEXT NOT NULL,
    proceeds         TEXT NOT NULL,
    opened_at        TEXT NOT NULL,
    closed_at        TEXT NOT NULL,
    reason           TEXT NOT NULL DEFAULT '',
    source           TEXT NOT NULL DEFAULT 'AUTOMATED'
);

CREATE TABLE IF NOT EXISTS cooldowns (
    book   TEXT NOT NULL,
    symbol TEXT NOT NULL,
    until  TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    set_at TEXT NOT NULL,
    PRIMARY KEY (book, symbol)
);

CREATE TABLE IF NOT EXISTS blacklist (
    id                 TEXT PRIMARY KEY,
    book               TEXT NOT NULL,
    symbol             TEXT NOT NULL,
    until              TEXT NOT NULL,
    reason             TEXT NOT NULL DEFAULT '',
    consecutive_losses INTEGER NOT NULL DEFAULT 0,
    created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS loss_streaks (
    book       TEXT NOT NULL,
    symbol     TEXT NOT NULL,
    count      INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (book, symbol)
);

CREATE TABLE IF NOT EXISTS daily_counts (
    book  TEXT NOT NULL,
    day   TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (book, day)
);

-- Resumen ligero por ciclo de decisión
CREATE TABLE IF NOT EXISTS cycles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at  TEXT    NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    scanned     INTEGER NOT NULL DEFAULT 0,
    opened      INTEGER NOT NULL DEFAULT 0,
    closed      INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    errors      INTEGER NOT NULL DEFAULT 0,
    drawdown    REAL    NOT NULL DEFAULT 0,
    value       TEXT    NOT NULL DEFAULT '0',
    halted      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_closed   ON trades(book, closed_at);
CREATE INDEX IF NOT EXISTS idx_blacklist_sym   ON blacklist(book, symbol, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cycles_started  ON cycles(started_at);
`

const (
	retentionCycles = 90 * 24 * time.Hour // ciclos: 90 días (cubre el lookback del drawdown)
	// ancho fijo para que el orden lexicográfico coincida con el cronológico
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveCycle persiste el resumen del ciclo. Siempre una fila.
func (s *SQLiteStorage) SaveCycle(ctx context.Context, r domain.CycleReport) error {
	halted := 0
	if r.Halted {
		halted = 1
	}
	opened := r.CountActions(domain.ActionOpenLong) + r.CountActions(domain.ActionOpenShort)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (started_at, duration_ms, scanned, opened, closed, skipped, errors, drawdown, value, halted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(r.StartedAt), r.Duration().Milliseconds(), r.Scanned,
		opened, r.CountActions(domain.ActionCloseKind), len(r.Skipped), len(r.Errors),
		r.Drawdown, r.Value.String(), halted,
	); err != nil {
		return fmt.Errorf("storage.SaveCycle: insert: %w", err)
	}
	return nil
}

// LoadEquityCurve devuelve el valor del portfolio por ciclo desde since, en orden cronológico.
func (s *SQLiteStorage) LoadEquityCurve(ctx context.Context, since time.Time) ([]domain.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT started_at, value FROM cycles WHERE started_at >= ? ORDER BY started_at ASC`,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadEquityCurve: query: %w", err)
	}
	defer rows.Close()

	var points []domain.EquityPoint
	for rows.Next() {
		var at, value string
		if err := rows.Scan(&at, &value); err != nil {
			return nil, fmt.Errorf("storage.LoadEquityCurve: scan row: %w", err)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("storage.LoadEquityCurve: value %q: %w", value, err)
		}
		if v <= 0 {
			continue // ciclos sin valoración
		}
		points = append(points, domain.EquityPoint{At: parseTime(at), Value: v})
	}
	return points, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	now := s.now().UTC()
	s.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, formatTime(now.Add(-retentionCycles)))
	s.PurgeExpired(ctx, now)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return d, nil
}
