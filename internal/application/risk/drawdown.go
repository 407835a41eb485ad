package risk

import (
	"sync"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// DrawdownState es el estado del circuit breaker tras la última observación.
type DrawdownState struct {
	Peak      float64
	Current   float64
	Drawdown  float64 // (peak − current) / peak
	Halted    bool    // no se permiten entradas nuevas
	Defensive bool    // se reducen los tamaños
}

// DrawdownMonitor sigue el valor del portfolio dentro de una ventana y activa
// el circuit breaker cuando la caída desde el pico supera el umbral.
// Se desactiva solo cuando el drawdown vuelve por debajo del umbral.
type DrawdownMonitor struct {
	mu        sync.Mutex
	halt      float64
	defensive float64
	lookback  time.Duration
	points    []domain.EquityPoint
	state     DrawdownState
}

// NewDrawdownMonitor crea un monitor. defensive <= 0 desactiva el modo defensivo.
func NewDrawdownMonitor(halt, defensive float64, lookback time.Duration) *DrawdownMonitor {
	return &DrawdownMonitor{halt: halt, defensive: defensive, lookback: lookback}
}

// Seed carga puntos históricos (p.ej. de ciclos persistidos) sin evaluar el estado.
func (d *DrawdownMonitor) Seed(points []domain.EquityPoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.points = append(d.points, points...)
}

// Observe registra el valor actual del portfolio y recalcula el estado.
func (d *DrawdownMonitor) Observe(at time.Time, value float64) DrawdownState {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.points = append(d.points, domain.EquityPoint{At: at, Value: value})

	cutoff := at.Add(-d.lookback)
	kept := d.points[:0]
	for _, p := range d.points {
		if d.lookback <= 0 || !p.At.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	d.points = kept

	peak := value
	for _, p := range d.points {
		if p.Value > peak {
			peak = p.Value
		}
	}

	st := DrawdownState{Peak: peak, Current: value}
	if peak > 0 {
		st.Drawdown = (peak - value) / peak
	}
	st.Halted = d.halt > 0 && st.Drawdown >= d.halt
	st.Defensive = d.defensive > 0 && st.Drawdown >= d.defensive
	d.state = st
	return st
}

// State devuelve el último estado calculado.
func (d *DrawdownMonitor) State() DrawdownState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
