package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// LoadCooldowns devuelve todos los cooldowns guardados del book, incluso expirados.
func (s *SQLiteStorage) LoadCooldowns(ctx context.Context, book domain.Book) ([]domain.CooldownEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, until, reason, set_at FROM cooldowns WHERE book = ?`, string(book))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadCooldowns: query: %w", err)
	}
	defer rows.Close()

	var out []domain.CooldownEntry
	for rows.Next() {
		var c domain.CooldownEntry
		var until, setAt string
		if err := rows.Scan(&c.Symbol, &until, &c.Reason, &setAt); err != nil {
			return nil, fmt.Errorf("storage.LoadCooldowns: scan row: %w", err)
		}
		c.Book = book
		c.Until = parseTime(until)
		c.SetAt = parseTime(setAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCooldown reemplaza el cooldown del (book, symbol).
func (s *SQLiteStorage) UpsertCooldown(ctx context.Context, c domain.CooldownEntry) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cooldowns (book, symbol, until, reason, set_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(book, symbol) DO UPDATE SET
			until  = excluded.until,
			reason = excluded.reason,
			set_at = excluded.set_at`,
		string(c.Book), c.Symbol, formatTime(c.Until), c.Reason, formatTime(c.SetAt),
	); err != nil {
		return fmt.Errorf("storage.UpsertCooldown: %s/%s: %w", c.Book, c.Symbol, err)
	}
	return nil
}

// LoadBlacklist devuelve el histórico de blacklist del book, la más reciente primero.
func (s *SQLiteStorage) LoadBlacklist(ctx context.Context, book domain.Book) ([]domain.BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, until, reason, consecutive_losses, created_at
		FROM blacklist WHERE book = ? ORDER BY created_at DESC`, string(book))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadBlacklist: query: %w", err)
	}
	defer rows.Close()

	var out []domain.BlacklistEntry
	for rows.Next() {
		var b domain.BlacklistEntry
		var until, created string
		if err := rows.Scan(&b.ID, &b.Symbol, &until, &b.Reason, &b.ConsecutiveLosses, &created); err != nil {
			return nil, fmt.Errorf("storage.LoadBlacklist: scan row: %w", err)
		}
		b.Book = book
		b.Until = parseTime(until)
		b.CreatedAt = parseTime(created)
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertBlacklist añade una entrada; el histórico se conserva hasta que expira.
func (s *SQLiteStorage) InsertBlacklist(ctx context.Context, b domain.BlacklistEntry) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO blacklist (id, book, symbol, until, reason, consecutive_losses, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, string(b.Book), b.Symbol, formatTime(b.Until), b.Reason,
		b.ConsecutiveLosses, formatTime(b.CreatedAt),
	); err != nil {
		return fmt.Errorf("storage.InsertBlacklist: %s/%s: %w", b.Book, b.Symbol, err)
	}
	return nil
}

// LoadLossStreaks devuelve las rachas de pérdidas no nulas del book.
func (s *SQLiteStorage) LoadLossStreaks(ctx context.Context, book domain.Book) ([]domain.LossStreak, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, count, updated_at FROM loss_streaks WHERE book = ? AND count > 0`, string(book))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadLossStreaks: query: %w", err)
	}
	defer rows.Close()

	var out []domain.LossStreak
	for rows.Next() {
		var l domain.LossStreak
		var updated string
		if err := rows.Scan(&l.Symbol, &l.Count, &updated); err != nil {
			return nil, fmt.Errorf("storage.LoadLossStreaks: scan row: %w", err)
		}
		l.Book = book
		l.UpdatedAt = parseTime(updated)
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertLossStreak guarda la racha actual del (book, symbol).
func (s *SQLiteStorage) UpsertLossStreak(ctx context.Context, l domain.LossStreak) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO loss_streaks (book, symbol, count, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(book, symbol) DO UPDATE SET
			count      = excluded.count,
			updated_at = excluded.updated_at`,
		string(l.Book), l.Symbol, l.Count, formatTime(l.UpdatedAt),
	); err != nil {
		return fmt.Errorf("storage.UpsertLossStreak: %s/%s: %w", l.Book, l.Symbol, err)
	}
	return nil
}

// LoadDailyCounts devuelve los contadores de todos los books para day (YYYY-MM-DD).
func (s *SQLiteStorage) LoadDailyCounts(ctx context.Context, day string) ([]domain.DailyCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT book, count FROM daily_counts WHERE day = ?`, day)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadDailyCounts: query: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyCount
	for rows.Next() {
		c := domain.DailyCount{Day: day}
		var book string
		if err := rows.Scan(&book, &c.Count); err != nil {
			return nil, fmt.Errorf("storage.LoadDailyCounts: scan row: %w", err)
		}
		c.Book = domain.Book(book)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertDailyCount guarda el contador del (book, day).
func (s *SQLiteStorage) UpsertDailyCount(ctx context.Context, c domain.DailyCount) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_counts (book, day, count) VALUES (?, ?, ?)
		ON CONFLICT(book, day) DO UPDATE SET count = excluded.count`,
		string(c.Book), c.Day, c.Count,
	); err != nil {
		return fmt.Errorf("storage.UpsertDailyCount: %s/%s: %w", c.Book, c.Day, err)
	}
	return nil
}

// PurgeExpired borra cooldowns y blacklist expirados y contadores diarios de más de 7 días.
func (s *SQLiteStorage) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := formatTime(now)
	var total int64
	for _, q := range []struct {
		query string
		arg   string
	}{
		{`DELETE FROM cooldowns WHERE until <= ?`, cutoff},
		{`DELETE FROM blacklist WHERE until <= ?`, cutoff},
		{`DELETE FROM daily_counts WHERE day < ?`, now.UTC().AddDate(0, 0, -7).Format("2006-01-02")},
	} {
		res, err := s.db.ExecContext(ctx, q.query, q.arg)
		if err != nil {
			return total, fmt.Errorf("storage.PurgeExpired: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
