package engine

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // America/New_York sin depender del sistema

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// exitReason decide si una posición automática debe cerrarse y por qué.
// Orden: stop, objetivo, tiempo máximo, score, liquidación por drawdown.
// Un score degradado nunca dispara una salida.
func exitReason(p domain.Position, rec domain.ScoreRecord, hasRec bool, bc BookConfig, now time.Time, liquidate bool) string {
	switch {
	case p.StopHit():
		return fmt.Sprintf("stop loss %s hit", p.StopLoss.StringFixed(2))
	case p.TakeProfitHit():
		return fmt.Sprintf("take profit %s hit", p.TakeProfit.StringFixed(2))
	case bc.MaxHold > 0 && p.HeldFor(now) >= bc.MaxHold:
		return fmt.Sprintf("max holding period %s", bc.MaxHold)
	}
	if hasRec && !rec.Degraded {
		if p.Side == domain.SideLong && rec.Score <= bc.SellThreshold {
			return fmt.Sprintf("score %.1f <= sell threshold %.1f", rec.Score, bc.SellThreshold)
		}
		if p.Side == domain.SideShort && rec.Score >= bc.ShortCoverThreshold {
			return fmt.Sprintf("score %.1f >= cover threshold %.1f", rec.Score, bc.ShortCoverThreshold)
		}
	}
	if liquidate {
		return "drawdown halt liquidation"
	}
	return ""
}

// bearishConfirmations cuenta señales bajistas independientes del snapshot:
// cruce o tendencia bajista, medias invertidas, volumen alto en caída,
// caída fuerte y sobrecompra.
func bearishConfirmations(s domain.MarketSnapshot) int {
	n := 0
	if s.Crossover == domain.CrossoverBearish || s.Trend == domain.TrendBearish {
		n++
	}
	if s.MA20 != nil && s.MA50 != nil && s.Price < *s.MA20 && *s.MA20 < *s.MA50 {
		n++
	}
	if s.VolumeRatio != nil && *s.VolumeRatio >= 1.2 && s.PercentChange < 0 {
		n++
	}
	if s.PercentChange <= -2 {
		n++
	}
	if s.RSI != nil && *s.RSI >= 70 {
		n++
	}
	return n
}

var newYork = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("engine: load location %s: %v", name, err))
	}
	return loc
}

// equityMarketOpen indica si t cae en la sesión regular (9:30-16:00 NY, lunes a viernes).
// No contempla festivos.
func equityMarketOpen(t time.Time) bool {
	ny := t.In(newYork)
	if ny.Weekday() == time.Saturday || ny.Weekday() == time.Sunday {
		return false
	}
	minute := ny.Hour()*60 + ny.Minute()
	return minute >= 9*60+30 && minute < 16*60
}

// entryBudget limita las aperturas nuevas de un ciclo entre ambos books.
type entryBudget struct {
	mu        sync.Mutex
	left      int
	unlimited bool
}

func newEntryBudget(limit int) *entryBudget {
	return &entryBudget{left: limit, unlimited: limit <= 0}
}

func (b *entryBudget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unlimited {
		return true
	}
	if b.left <= 0 {
		return false
	}
	b.left--
	return true
}

func (b *entryBudget) refund() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.unlimited {
		b.left++
	}
}
