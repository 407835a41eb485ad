package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

func TestMemory_TTL(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	assert.False(t, m.IsFresh(ctx, "AAPL"))
	_, err := m.Get(ctx, "AAPL")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, m.Put(ctx, domain.MarketSnapshot{Symbol: "AAPL", Price: 190}, time.Minute))
	assert.True(t, m.IsFresh(ctx, "AAPL"))
	snap, err := m.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 190.0, snap.Price)

	now = now.Add(time.Minute)
	assert.False(t, m.IsFresh(ctx, "AAPL"))
	_, err = m.Get(ctx, "AAPL")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory_PutSweepsExpired(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, domain.MarketSnapshot{Symbol: "A", Price: 1}, time.Second))
	now = now.Add(2 * time.Second)
	require.NoError(t, m.Put(ctx, domain.MarketSnapshot{Symbol: "B", Price: 1}, time.Second))
	assert.Equal(t, 1, m.Len())
}

// Requiere un Redis real: REDIS_TEST_ADDR=localhost:6379 go test ./internal/adapters/cache
func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer r.Close()

	snap := domain.MarketSnapshot{Symbol: "TEST-" + time.Now().Format("150405.000"), Price: 42, RSI: domain.Float(55)}
	require.NoError(t, r.Put(ctx, snap, 2*time.Second))
	assert.True(t, r.IsFresh(ctx, snap.Symbol))

	got, err := r.Get(ctx, snap.Symbol)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Price)
	require.NotNil(t, got.RSI)
	assert.Equal(t, 55.0, *got.RSI)

	_, err = r.Get(ctx, "missing-"+snap.Symbol)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
