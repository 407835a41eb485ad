package marketdata

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// fixtureFile es el formato de config/fixtures.example.yaml.
type fixtureFile struct {
	Snapshots []domain.MarketSnapshot `yaml:"snapshots"`
}

// Fixtures sirve snapshots estáticos desde memoria. Se usa en -dry-run y en tests.
type Fixtures struct {
	mu    sync.RWMutex
	snaps map[string]domain.MarketSnapshot
}

// NewFixtures crea el proveedor con los snapshots dados.
func NewFixtures(snaps ...domain.MarketSnapshot) *Fixtures {
	f := &Fixtures{snaps: make(map[string]domain.MarketSnapshot, len(snaps))}
	for _, s := range snaps {
		f.snaps[s.Symbol] = s
	}
	return f
}

// LoadFixtures lee un fichero YAML con una lista `snapshots`.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata.LoadFixtures: read %q: %w", path, err)
	}
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("marketdata.LoadFixtures: parse %q: %w", path, err)
	}
	return NewFixtures(file.Snapshots...), nil
}

// Set reemplaza (o añade) el snapshot de un símbolo.
func (f *Fixtures) Set(s domain.MarketSnapshot) {
	f.mu.Lock()
	f.snaps[s.Symbol] = s
	f.mu.Unlock()
}

// Remove hace que el símbolo deje de estar disponible.
func (f *Fixtures) Remove(symbol string) {
	f.mu.Lock()
	delete(f.snaps, symbol)
	f.mu.Unlock()
}

// Snapshot devuelve una copia del fixture. Símbolos desconocidos son ErrDataUnavailable.
func (f *Fixtures) Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata.Fixtures: %w: %w", domain.ErrDataUnavailable, err)
	}
	f.mu.RLock()
	s, ok := f.snaps[symbol]
	f.mu.RUnlock()
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("marketdata.Fixtures: %s: %w", symbol, domain.ErrDataUnavailable)
	}
	s.FetchedAt = time.Now().UTC()
	return s, nil
}
