// Package guard implementa el control anti-overtrading: cooldowns por símbolo,
// blacklist por pérdidas y límite diario de operaciones.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

// BookRules son las duraciones de cooldown y el límite diario de un book.
type BookRules struct {
	AfterOpen      time.Duration
	AfterClose     time.Duration
	AfterLoss      time.Duration
	MaxDailyTrades int
}

// Config parametriza el Guard.
type Config struct {
	Books             map[domain.Book]BookRules
	MaxDailyTotal     int
	ConsecutiveLosses int
	LossThresholdPct  float64 // pérdida (en %) que blacklistea de una vez
	BlacklistDuration time.Duration
}

// DefaultConfig devuelve la configuración por defecto.
func DefaultConfig() Config {
	return Config{
		Books: map[domain.Book]BookRules{
			domain.BookEquity: {AfterOpen: 4 * time.Hour, AfterClose: 6 * time.Hour, AfterLoss: 24 * time.Hour, MaxDailyTrades: 5},
			domain.BookCrypto: {AfterOpen: 2 * time.Hour, AfterClose: 4 * time.Hour, AfterLoss: 12 * time.Hour, MaxDailyTrades: 3},
		},
		MaxDailyTotal:     8,
		ConsecutiveLosses: 3,
		LossThresholdPct:  15,
		BlacklistDuration: 7 * 24 * time.Hour,
	}
}

type key struct {
	book   domain.Book
	symbol string
}

// Guard es el Overtrading Guard. Es seguro para uso concurrente.
// La memoria es la verdad; el storage es best-effort.
type Guard struct {
	cfg   Config
	store ports.GuardStore
	now   func() time.Time

	mu        sync.Mutex
	cooldowns map[key]domain.CooldownEntry
	blacklist map[key]domain.BlacklistEntry
	streaks   map[key]int
	day       string
	daily     map[domain.Book]int
}

// Option configura el Guard.
type Option func(*Guard)

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) Option { return func(g *Guard) { g.now = now } }

// New crea un Guard. store puede ser nil (solo memoria).
func New(cfg Config, store ports.GuardStore, opts ...Option) *Guard {
	g := &Guard{
		cfg:       cfg,
		store:     store,
		now:       time.Now,
		cooldowns: make(map[key]domain.CooldownEntry),
		blacklist: make(map[key]domain.BlacklistEntry),
		streaks:   make(map[key]int),
		daily:     make(map[domain.Book]int),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func dayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Load recupera el estado persistido. Las entradas expiradas se ignoran.
func (g *Guard) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, book := range domain.Books() {
		cds, err := g.store.LoadCooldowns(ctx, book)
		if err != nil {
			return fmt.Errorf("guard.Load: cooldowns %s: %w", book, err)
		}
		for _, c := range cds {
			if c.Active(now) {
				g.cooldowns[key{c.Book, c.Symbol}] = c
			}
		}

		bl, err := g.store.LoadBlacklist(ctx, book)
		if err != nil {
			return fmt.Errorf("guard.Load: blacklist %s: %w", book, err)
		}
		for _, b := range bl {
			k := key{b.Book, b.Symbol}
			if !b.Active(now) {
				continue
			}
			// solo la más reciente cuenta
			if cur, ok := g.blacklist[k]; !ok || b.CreatedAt.After(cur.CreatedAt) {
				g.blacklist[k] = b
			}
		}

		streaks, err := g.store.LoadLossStreaks(ctx, book)
		if err != nil {
			return fmt.Errorf("guard.Load: loss streaks %s: %w", book, err)
		}
		for _, s := range streaks {
			g.streaks[key{s.Book, s.Symbol}] = s.Count
		}
	}

	g.day = dayOf(now)
	counts, err := g.store.LoadDailyCounts(ctx, g.day)
	if err != nil {
		return fmt.Errorf("guard.Load: daily counts: %w", err)
	}
	for _, c := range counts {
		g.daily[c.Book] = c.Count
	}
	return nil
}

// CanTrade decide si se permite la acción. Orden: blacklist, cooldown, límite diario.
// Los cierres nunca se bloquean.
func (g *Guard) CanTrade(_ context.Context, symbol string, book domain.Book, action domain.TradeAction) (bool, string) {
	if action == domain.ActionClose {
		return true, ""
	}
	now := g.now()
	k := key{book, symbol}

	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.blacklist[k]; ok {
		if b.Active(now) {
			return false, fmt.Sprintf("blacklisted until %s: %s", b.Until.Format(time.RFC3339), b.Reason)
		}
		delete(g.blacklist, k)
	}
	if c, ok := g.cooldowns[k]; ok {
		if c.Active(now) {
			return false, fmt.Sprintf("cooldown until %s (%s)", c.Until.Format(time.RFC3339), c.Reason)
		}
		delete(g.cooldowns, k)
	}

	g.rollDay(now)
	rules := g.cfg.Books[book]
	if rules.MaxDailyTrades > 0 && g.daily[book] >= rules.MaxDailyTrades {
		return false, fmt.Sprintf("daily limit reached for %s (%d)", book, rules.MaxDailyTrades)
	}
	if g.cfg.MaxDailyTotal > 0 && g.totalToday() >= g.cfg.MaxDailyTotal {
		return false, fmt.Sprintf("global daily limit reached (%d)", g.cfg.MaxDailyTotal)
	}
	return true, ""
}

// RecordOutcome fija el cooldown correspondiente y actualiza la racha de pérdidas.
// Un cierre perdedor que completa la racha, o que pierde más del umbral, crea una
// entrada de blacklist y reinicia la racha. Un cierre ganador la reinicia.
func (g *Guard) RecordOutcome(ctx context.Context, o domain.Outcome) {
	now := g.now()
	k := key{o.Book, o.Symbol}
	rules := g.cfg.Books[o.Book]

	var (
		cooldown  domain.CooldownEntry
		streak    *domain.LossStreak
		blacklist *domain.BlacklistEntry
		daily     *domain.DailyCount
	)

	g.mu.Lock()
	g.rollDay(now)
	// aperturas y cierres consumen el mismo cupo diario
	g.daily[o.Book]++
	daily = &domain.DailyCount{Book: o.Book, Day: g.day, Count: g.daily[o.Book]}

	switch o.Action {
	case domain.ActionOpen:
		cooldown = g.setCooldown(k, now, rules.AfterOpen, "after open")

	case domain.ActionClose:
		loss := o.RealizedPnL != nil && o.RealizedPnL.IsNegative()
		if !loss {
			cooldown = g.setCooldown(k, now, rules.AfterClose, "after close")
			g.streaks[k] = 0
			streak = &domain.LossStreak{Symbol: o.Symbol, Book: o.Book, Count: 0, UpdatedAt: now}
			break
		}

		cooldown = g.setCooldown(k, now, rules.AfterLoss, "after losing close")
		g.streaks[k]++
		count := g.streaks[k]
		severe := g.cfg.LossThresholdPct > 0 && -o.RealizedPnLPct >= g.cfg.LossThresholdPct
		if (g.cfg.ConsecutiveLosses > 0 && count >= g.cfg.ConsecutiveLosses) || severe {
			reason := fmt.Sprintf("%d consecutive losses", count)
			if severe {
				reason = fmt.Sprintf("loss of %.1f%%", -o.RealizedPnLPct)
			}
			entry := domain.BlacklistEntry{
				ID:                uuid.NewString(),
				Symbol:            o.Symbol,
				Book:              o.Book,
				Until:             now.Add(g.cfg.BlacklistDuration),
				Reason:            reason,
				ConsecutiveLosses: count,
				CreatedAt:         now,
			}
			g.blacklist[k] = entry
			blacklist = &entry
			g.streaks[k] = 0
			count = 0
		}
		streak = &domain.LossStreak{Symbol: o.Symbol, Book: o.Book, Count: count, UpdatedAt: now}
	}
	g.mu.Unlock()

	if blacklist != nil {
		slog.Info("symbol blacklisted",
			"book", o.Book, "symbol", o.Symbol,
			"until", blacklist.Until.Format(time.RFC3339), "reason", blacklist.Reason,
		)
	}
	g.persist(ctx, cooldown, streak, blacklist, daily)
}

// setCooldown nunca acorta un cooldown vigente.
func (g *Guard) setCooldown(k key, now time.Time, d time.Duration, reason string) domain.CooldownEntry {
	entry := domain.CooldownEntry{Symbol: k.symbol, Book: k.book, Until: now.Add(d), Reason: reason, SetAt: now}
	if cur, ok := g.cooldowns[k]; ok && cur.Until.After(entry.Until) {
		return cur
	}
	g.cooldowns[k] = entry
	return entry
}

func (g *Guard) persist(ctx context.Context, c domain.CooldownEntry, s *domain.LossStreak, b *domain.BlacklistEntry, d *domain.DailyCount) {
	if g.store == nil {
		return
	}
	if c.Symbol != "" {
		if err := g.store.UpsertCooldown(ctx, c); err != nil {
			slog.Warn("guard: persist cooldown failed", "symbol", c.Symbol, "err", err)
		}
	}
	if s != nil {
		if err := g.store.UpsertLossStreak(ctx, *s); err != nil {
			slog.Warn("guard: persist loss streak failed", "symbol", s.Symbol, "err", err)
		}
	}
	if b != nil {
		if err := g.store.InsertBlacklist(ctx, *b); err != nil {
			slog.Warn("guard: persist blacklist failed", "symbol", b.Symbol, "err", err)
		}
	}
	if d != nil {
		if err := g.store.UpsertDailyCount(ctx, *d); err != nil {
			slog.Warn("guard: persist daily count failed", "book", d.Book, "err", err)
		}
	}
}

// Purge elimina entradas expiradas de memoria y del storage. Best-effort.
func (g *Guard) Purge(ctx context.Context) {
	now := g.now()
	g.mu.Lock()
	for k, c := range g.cooldowns {
		if !c.Active(now) {
			delete(g.cooldowns, k)
		}
	}
	for k, b := range g.blacklist {
		if !b.Active(now) {
			delete(g.blacklist, k)
		}
	}
	g.rollDay(now)
	g.mu.Unlock()

	if g.store == nil {
		return
	}
	n, err := g.store.PurgeExpired(ctx, now)
	if err != nil {
		slog.Warn("guard: purge failed", "err", err)
		return
	}
	if n > 0 {
		slog.Debug("guard: purged expired entries", "rows", n)
	}
}

// Status es la vista de reporting del guard.
type Status struct {
	Cooldowns   []domain.CooldownEntry
	Blacklist   []domain.BlacklistEntry
	DailyTrades map[domain.Book]int
}

// Status devuelve las entradas activas ordenadas por símbolo.
func (g *Guard) Status() Status {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	st := Status{DailyTrades: make(map[domain.Book]int, len(g.daily))}
	for _, c := range g.cooldowns {
		if c.Active(now) {
			st.Cooldowns = append(st.Cooldowns, c)
		}
	}
	for _, b := range g.blacklist {
		if b.Active(now) {
			st.Blacklist = append(st.Blacklist, b)
		}
	}
	if g.day == dayOf(now) {
		for b, n := range g.daily {
			st.DailyTrades[b] = n
		}
	}
	sort.Slice(st.Cooldowns, func(i, j int) bool { return st.Cooldowns[i].Symbol < st.Cooldowns[j].Symbol })
	sort.Slice(st.Blacklist, func(i, j int) bool { return st.Blacklist[i].Symbol < st.Blacklist[j].Symbol })
	return st
}

// LossStreak devuelve la racha actual de pérdidas del símbolo.
func (g *Guard) LossStreak(book domain.Book, symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streaks[key{book, symbol}]
}

// rollDay reinicia los contadores al cambiar de día (UTC). Requiere g.mu.
func (g *Guard) rollDay(now time.Time) {
	today := dayOf(now)
	if g.day == today {
		return
	}
	g.day = today
	g.daily = make(map[domain.Book]int)
}

func (g *Guard) totalToday() int {
	total := 0
	for _, n := range g.daily {
		total += n
	}
	return total
}
