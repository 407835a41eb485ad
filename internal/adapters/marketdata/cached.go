package marketdata

import (
	"context"
	"log/slog"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

// Cached decora un proveedor con una cache de snapshots: si el símbolo está
// fresco se sirve de la cache y no se gasta presupuesto del proveedor.
type Cached struct {
	source ports.MarketData
	cache  ports.SnapshotCache
	ttl    time.Duration
}

// NewCached crea el decorador. ttl <= 0 desactiva la cache.
func NewCached(source ports.MarketData, cache ports.SnapshotCache, ttl time.Duration) *Cached {
	return &Cached{source: source, cache: cache, ttl: ttl}
}

// Snapshot implementa ports.MarketData.
func (c *Cached) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	if c.ttl > 0 && c.cache.IsFresh(ctx, symbol) {
		snap, err := c.cache.Get(ctx, symbol)
		if err == nil {
			return snap, nil
		}
		slog.Debug("snapshot cache miss", "symbol", symbol, "err", err)
	}

	snap, err := c.source.Snapshot(ctx, symbol)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	if c.ttl > 0 {
		if err := c.cache.Put(ctx, snap, c.ttl); err != nil {
			slog.Warn("snapshot cache put failed", "symbol", symbol, "err", err)
		}
	}
	return snap, nil
}
