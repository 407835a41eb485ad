// Package cache implementa ports.SnapshotCache en memoria y sobre Redis.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

type entry struct {
	snap    domain.MarketSnapshot
	expires time.Time
}

// Memory es una cache de snapshots con TTL por entrada. Segura para uso concurrente.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory crea una cache vacía.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// IsFresh indica si hay un snapshot no expirado para el símbolo.
func (m *Memory) IsFresh(_ context.Context, symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[symbol]
	return ok && m.now().Before(e.expires)
}

// Get devuelve el snapshot o domain.ErrNotFound si no existe o expiró.
func (m *Memory) Get(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	m.mu.RLock()
	e, ok := m.entries[symbol]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		return domain.MarketSnapshot{}, fmt.Errorf("cache.Get: %s: %w", symbol, domain.ErrNotFound)
	}
	return e.snap, nil
}

// Put guarda el snapshot durante ttl.
func (m *Memory) Put(_ context.Context, snap domain.MarketSnapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[snap.Symbol] = entry{snap: snap, expires: now.Add(ttl)}

	// barrido oportunista de expirados
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Len devuelve el número de entradas (incluidas expiradas aún no barridas).
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ ports.SnapshotCache = (*Memory)(nil)
