// Package metrics expone contadores y gauges Prometheus del engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// Recorder agrupa las métricas del engine en un registry propio.
// Un Recorder nil es válido y no hace nada.
type Recorder struct {
	reg *prometheus.Registry

	cycles        prometheus.Counter
	actions       *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	symbolErrors  *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	drawdown      prometheus.Gauge
	halted        prometheus.Gauge
	portfolio     prometheus.Gauge
	liquid        *prometheus.GaugeVec
	invested      *prometheus.GaugeVec
	openPositions *prometheus.GaugeVec
	flushFailures prometheus.Counter
}

// New crea y registra las métricas.
func New() *Recorder {
	r := &Recorder{reg: prometheus.NewRegistry()}
	r.cycles = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_cycles_total", Help: "Decision cycles completed"})
	r.actions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_actions_total", Help: "Positions opened/closed by the cycle"}, []string{"book", "kind"})
	r.skipped = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_skipped_total", Help: "Entry candidates rejected by a gate"}, []string{"book", "reason"})
	r.symbolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_symbol_errors_total", Help: "Per-symbol failures isolated by the cycle"}, []string{"book", "stage"})
	r.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_cycle_duration_seconds",
		Help:    "Wall time of a decision cycle",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	r.drawdown = prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_drawdown_ratio", Help: "Current drawdown from the lookback peak (0.05 = 5%)"})
	r.halted = prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_halted", Help: "1 while new entries are halted by drawdown"})
	r.portfolio = prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_portfolio_value", Help: "Total value of both books"})
	r.liquid = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "engine_liquid_capital", Help: "Liquid capital per book"}, []string{"book"})
	r.invested = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "engine_invested_capital", Help: "Invested capital per book"}, []string{"book"})
	r.openPositions = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "engine_open_positions", Help: "Open positions per book"}, []string{"book"})
	r.flushFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_flush_failures_total", Help: "Write-behind flushes that failed"})

	r.reg.MustRegister(
		r.cycles, r.actions, r.skipped, r.symbolErrors, r.cycleDuration,
		r.drawdown, r.halted, r.portfolio, r.liquid, r.invested, r.openPositions,
		r.flushFailures,
	)
	return r
}

// ObserveCycle registra el resultado de un ciclo.
func (r *Recorder) ObserveCycle(rep domain.CycleReport) {
	if r == nil {
		return
	}
	r.cycles.Inc()
	r.cycleDuration.Observe(rep.Duration().Seconds())
	for _, a := range rep.Actions {
		r.actions.WithLabelValues(string(a.Book), string(a.Kind)).Inc()
	}
	for _, s := range rep.Skipped {
		r.skipped.WithLabelValues(string(s.Book), string(s.Reason)).Inc()
	}
	for _, e := range rep.Errors {
		r.symbolErrors.WithLabelValues(string(e.Book), e.Stage).Inc()
	}
	r.drawdown.Set(rep.Drawdown)
	if rep.Halted {
		r.halted.Set(1)
	} else {
		r.halted.Set(0)
	}
	r.portfolio.Set(rep.Value.InexactFloat64())
}

// ObserveBook registra el estado de capital de un book.
func (r *Recorder) ObserveBook(s domain.Summary) {
	if r == nil {
		return
	}
	book := string(s.Book)
	r.liquid.WithLabelValues(book).Set(s.LiquidCapital.InexactFloat64())
	r.invested.WithLabelValues(book).Set(s.InvestedCapital.InexactFloat64())
	r.openPositions.WithLabelValues(book).Set(float64(s.OpenPositions))
}

// FlushFailed cuenta un flush fallido.
func (r *Recorder) FlushFailed() {
	if r == nil {
		return
	}
	r.flushFailures.Inc()
}

// Handler sirve /metrics con el registry propio.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Registry expone el registry (tests).
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }
