package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/adapters/storage"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makePosition(symbol string, book domain.Book) domain.Position {
	opened := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	return domain.Position{
		ID:           "pos-" + symbol,
		Symbol:       symbol,
		Book:         book,
		Side:         domain.SideLong,
		Quantity:     d("10"),
		EntryPrice:   d("150.25"),
		CurrentPrice: d("151"),
		StopLoss:     d("142.7375"),
		TakeProfit:   d("168.28"),
		OpenedAt:     opened,
		UpdatedAt:    opened,
		Source:       domain.SourceAutomated,
		Sector:       "technology",
	}
}

func TestSQLiteStorage_PositionRoundTrip(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	p := makePosition("AAPL", domain.BookEquity)
	require.NoError(t, db.SavePosition(ctx, p))
	require.NoError(t, db.SavePosition(ctx, makePosition("BTC-USD", domain.BookCrypto)))

	got, err := db.LoadPositions(ctx, domain.BookEquity)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.True(t, got[0].EntryPrice.Equal(p.EntryPrice))
	assert.True(t, got[0].StopLoss.Equal(p.StopLoss))
	assert.Equal(t, p.OpenedAt, got[0].OpenedAt)
	assert.Equal(t, "technology", got[0].Sector)

	p.CurrentPrice = d("160.5")
	p.UpdatedAt = p.UpdatedAt.Add(time.Hour)
	require.NoError(t, db.UpdatePosition(ctx, p))
	got, err = db.LoadPositions(ctx, domain.BookEquity)
	require.NoError(t, err)
	assert.True(t, got[0].CurrentPrice.Equal(d("160.5")))

	require.NoError(t, db.DeletePosition(ctx, domain.BookEquity, "AAPL"))
	require.NoError(t, db.DeletePosition(ctx, domain.BookEquity, "AAPL"), "borrar dos veces no es error")
	got, err = db.LoadPositions(ctx, domain.BookEquity)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStorage_UpdateMissingPosition(t *testing.T) {
	db := newDB(t)
	err := db.UpdatePosition(context.Background(), makePosition("MSFT", domain.BookEquity))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStorage_Ledger(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	_, err := db.LoadLedger(ctx, domain.BookCrypto)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	l := domain.NewLedger(domain.BookCrypto, d("30000"), 6)
	require.NoError(t, db.UpdateLedger(ctx, l))

	l.LiquidCapital = d("29000.123456")
	l.InvestedCapital = d("1000")
	l.PositionCount = 1
	require.NoError(t, db.UpdateLedger(ctx, l))

	got, err := db.LoadLedger(ctx, domain.BookCrypto)
	require.NoError(t, err)
	assert.True(t, got.LiquidCapital.Equal(d("29000.123456")))
	assert.True(t, got.InvestedCapital.Equal(d("1000")))
	assert.Equal(t, 1, got.PositionCount)
	assert.Equal(t, 6, got.MaxPositions)
}

func TestSQLiteStorage_Trades(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	closed := time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC)

	for i, sym := range []string{"AAPL", "JPM"} {
		require.NoError(t, db.InsertTrade(ctx, domain.ClosedTrade{
			ID:             "t" + sym,
			PositionID:     "p" + sym,
			Symbol:         sym,
			Book:           domain.BookEquity,
			Side:           domain.SideLong,
			Quantity:       d("10"),
			EntryPrice:     d("100"),
			ExitPrice:      d("95"),
			RealizedPnL:    d("-50"),
			RealizedPnLPct: d("-5"),
			Proceeds:       d("950"),
			OpenedAt:       closed.Add(-48 * time.Hour),
			ClosedAt:       closed.Add(time.Duration(i) * time.Hour),
			Reason:         "stop loss",
			Source:         domain.SourceAutomated,
		}))
	}

	trades, err := db.ListTrades(ctx, domain.BookEquity, closed.Add(-time.Minute), closed.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "AAPL", trades[0].Symbol)
	assert.True(t, trades[0].RealizedPnL.Equal(d("-50")))
	assert.False(t, trades[0].IsWin())

	trades, err = db.ListTrades(ctx, domain.BookEquity, closed.Add(30*time.Minute), closed.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "JPM", trades[0].Symbol)

	trades, err = db.ListTrades(ctx, domain.BookCrypto, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestSQLiteStorage_GuardState(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, db.UpsertCooldown(ctx, domain.CooldownEntry{Symbol: "AAPL", Book: domain.BookEquity, Until: now.Add(time.Hour), Reason: "after open", SetAt: now}))
	require.NoError(t, db.UpsertCooldown(ctx, domain.CooldownEntry{Symbol: "AAPL", Book: domain.BookEquity, Until: now.Add(24 * time.Hour), Reason: "after losing close", SetAt: now}))
	cds, err := db.LoadCooldowns(ctx, domain.BookEquity)
	require.NoError(t, err)
	require.Len(t, cds, 1)
	assert.Equal(t, now.Add(24*time.Hour), cds[0].Until)

	require.NoError(t, db.InsertBlacklist(ctx, domain.BlacklistEntry{ID: "b1", Symbol: "SOL-USD", Book: domain.BookCrypto, Until: now.Add(-time.Hour), CreatedAt: now.Add(-8 * 24 * time.Hour)}))
	require.NoError(t, db.InsertBlacklist(ctx, domain.BlacklistEntry{ID: "b2", Symbol: "SOL-USD", Book: domain.BookCrypto, Until: now.Add(7 * 24 * time.Hour), ConsecutiveLosses: 3, CreatedAt: now}))
	bl, err := db.LoadBlacklist(ctx, domain.BookCrypto)
	require.NoError(t, err)
	require.Len(t, bl, 2)
	assert.Equal(t, "b2", bl[0].ID)
	assert.Equal(t, 3, bl[0].ConsecutiveLosses)

	require.NoError(t, db.UpsertLossStreak(ctx, domain.LossStreak{Symbol: "NVDA", Book: domain.BookEquity, Count: 2, UpdatedAt: now}))
	require.NoError(t, db.UpsertLossStreak(ctx, domain.LossStreak{Symbol: "KO", Book: domain.BookEquity, Count: 0, UpdatedAt: now}))
	streaks, err := db.LoadLossStreaks(ctx, domain.BookEquity)
	require.NoError(t, err)
	require.Len(t, streaks, 1)
	assert.Equal(t, 2, streaks[0].Count)

	day := now.Format("2006-01-02")
	require.NoError(t, db.UpsertDailyCount(ctx, domain.DailyCount{Book: domain.BookCrypto, Day: day, Count: 1}))
	require.NoError(t, db.UpsertDailyCount(ctx, domain.DailyCount{Book: domain.BookCrypto, Day: day, Count: 2}))
	counts, err := db.LoadDailyCounts(ctx, day)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 2, counts[0].Count)

	n, err := db.PurgeExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "solo la blacklist vieja expira")
}

func TestSQLiteStorage_CyclesAndEquityCurve(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-3 * time.Hour)

	values := []string{"100000", "98000", "99500.5"}
	for i, v := range values {
		at := start.Add(time.Duration(i) * time.Hour)
		require.NoError(t, db.SaveCycle(ctx, domain.CycleReport{
			StartedAt:  at,
			FinishedAt: at.Add(2 * time.Second),
			Scanned:    14,
			Actions:    []domain.CycleAction{{Kind: domain.ActionOpenLong}},
			Value:      d(v),
		}))
	}

	curve, err := db.LoadEquityCurve(ctx, start.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, curve, 2)
	assert.InDelta(t, 98000, curve[0].Value, 0.001)
	assert.InDelta(t, 99500.5, curve[1].Value, 0.001)
	assert.True(t, curve[0].At.Before(curve[1].At))
}
