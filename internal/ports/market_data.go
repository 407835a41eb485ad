package ports

import (
	"context"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// MarketData obtiene el snapshot de mercado (precio + indicadores) de un símbolo.
type MarketData interface {
	// Snapshot devuelve el último snapshot disponible.
	// Si no se puede obtener devuelve un error que envuelve domain.ErrDataUnavailable.
	Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error)
}

// SnapshotCache guarda snapshots recientes para no repetir llamadas al proveedor.
// Vive en el adapter de market data, nunca en el core.
type SnapshotCache interface {
	IsFresh(ctx context.Context, symbol string) bool
	// Get devuelve domain.ErrNotFound si no hay entrada vigente.
	Get(ctx context.Context, symbol string) (domain.MarketSnapshot, error)
	Put(ctx context.Context, snap domain.MarketSnapshot, ttl time.Duration) error
}
