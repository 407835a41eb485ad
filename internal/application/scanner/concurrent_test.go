package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

type fakeSource struct {
	mu     sync.Mutex
	calls  map[string]int
	fail   map[string]bool
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
}

func (f *fakeSource) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[symbol]++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail[symbol] {
		return domain.MarketSnapshot{}, fmt.Errorf("fetch %s: %w", symbol, domain.ErrDataUnavailable)
	}
	if symbol == "ZERO" {
		return domain.MarketSnapshot{Symbol: symbol}, nil
	}
	return domain.MarketSnapshot{Symbol: symbol, Price: 10}, nil
}

func TestFetch_IsolatesFailures(t *testing.T) {
	src := &fakeSource{fail: map[string]bool{"BAD": true}}
	res := New(src, 4).Fetch(context.Background(), []string{"AAPL", "BAD", "MSFT", "ZERO"})

	assert.Len(t, res.Snapshots, 2)
	require.Len(t, res.Errors, 2)
	assert.True(t, errors.Is(res.Errors["BAD"], domain.ErrDataUnavailable))
	assert.True(t, errors.Is(res.Errors["ZERO"], domain.ErrInvalidSnapshot))
	assert.False(t, res.Stopped)
}

func TestFetch_DedupesSymbols(t *testing.T) {
	src := &fakeSource{}
	res := New(src, 2).Fetch(context.Background(), []string{"BTC-USD", "BTC-USD", "", "ETH-USD"})
	assert.Len(t, res.Snapshots, 2)
	assert.Equal(t, 1, src.calls["BTC-USD"])
}

func TestFetch_BoundedWorkers(t *testing.T) {
	src := &fakeSource{delay: 10 * time.Millisecond}
	symbols := make([]string, 12)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d", i)
	}
	res := New(src, 3).Fetch(context.Background(), symbols)
	assert.Len(t, res.Snapshots, 12)
	assert.LessOrEqual(t, src.peak.Load(), int32(3))
}

func TestFetch_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New(&fakeSource{}, 2).Fetch(ctx, []string{"A", "B"})
	assert.True(t, res.Stopped)
	assert.Empty(t, res.Snapshots)
}

func TestFetch_Empty(t *testing.T) {
	res := New(&fakeSource{}, 2).Fetch(context.Background(), nil)
	assert.Empty(t, res.Snapshots)
	assert.Empty(t, res.Errors)
}
