package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/adapters/cache"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

func newTestClient(url string) *Client {
	c := NewClient(Config{BaseURL: url, APIKey: "k", RatePerSec: 1000, Burst: 10, MaxConcurrent: 2})
	c.retry = time.Millisecond
	return c
}

func TestClient_Snapshot_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/snapshot/BTC-USD", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		w.Write([]byte(`{"symbol":"BTC-USD","price":64250.5,"percent_change":-1.8,"volume":3.1e10,
			"rsi":28.4,"ma20":65000,"ma50":61000,"trend_signal":"bullish","trend_crossover_signal":"none"}`))
	}))
	defer srv.Close()

	snap, err := newTestClient(srv.URL).Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 64250.5, snap.Price)
	require.NotNil(t, snap.RSI)
	assert.Equal(t, 28.4, *snap.RSI)
	assert.Nil(t, snap.VolumeRatio)
	assert.Equal(t, domain.TrendBullish, snap.Trend)
	assert.Equal(t, domain.CrossoverNone, snap.Crossover)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestClient_Snapshot_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"symbol":"AAPL","price":190,"percent_change":0.4}`))
	}))
	defer srv.Close()

	snap, err := newTestClient(srv.URL).Snapshot(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 190.0, snap.Price)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Snapshot_NotFoundIsDataUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Snapshot(context.Background(), "NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	assert.Equal(t, int32(1), calls.Load(), "404 no se reintenta")
}

func TestClient_Snapshot_InvalidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"symbol":"KO","price":0}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Snapshot(context.Background(), "KO")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
	assert.ErrorIs(t, err, domain.ErrInvalidSnapshot)
}

func TestClient_Snapshot_BoundsInFlight(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		json.NewEncoder(w).Encode(map[string]any{"symbol": "X", "price": 1.0})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Snapshot(context.Background(), "X")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestClient_Snapshot_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL).Snapshot(ctx, "AAPL")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
snapshots:
  - symbol: NVDA
    price: 118.4
    percent_change: -2.1
    volume: 250000000
    rsi: 31
    trend_signal: bullish
`), 0o600))

	f, err := LoadFixtures(path)
	require.NoError(t, err)

	snap, err := f.Snapshot(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, 118.4, snap.Price)
	require.NotNil(t, snap.RSI)
	assert.Equal(t, 31.0, *snap.RSI)
	assert.Nil(t, snap.MA20)

	_, err = f.Snapshot(context.Background(), "AAPL")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)

	f.Remove("NVDA")
	_, err = f.Snapshot(context.Background(), "NVDA")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

type countingSource struct {
	calls atomic.Int32
	inner *Fixtures
}

func (s *countingSource) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	s.calls.Add(1)
	return s.inner.Snapshot(ctx, symbol)
}

func TestCached_ServesFreshFromCache(t *testing.T) {
	src := &countingSource{inner: NewFixtures(domain.MarketSnapshot{Symbol: "ETH-USD", Price: 3100})}
	c := NewCached(src, cache.NewMemory(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		snap, err := c.Snapshot(ctx, "ETH-USD")
		require.NoError(t, err)
		assert.Equal(t, 3100.0, snap.Price)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCached_ZeroTTLBypassesCache(t *testing.T) {
	src := &countingSource{inner: NewFixtures(domain.MarketSnapshot{Symbol: "ETH-USD", Price: 3100})}
	c := NewCached(src, cache.NewMemory(), 0)
	for i := 0; i < 2; i++ {
		_, err := c.Snapshot(context.Background(), "ETH-USD")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCached_SourceErrorPropagates(t *testing.T) {
	c := NewCached(&countingSource{inner: NewFixtures()}, cache.NewMemory(), time.Minute)
	_, err := c.Snapshot(context.Background(), "XYZ")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}
