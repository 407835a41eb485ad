// Package scoring convierte snapshots de mercado en un score acotado por clase
// de activo y aplica un ranking relativo dentro de cada ciclo.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// Config parametriza el Scoring Engine.
type Config struct {
	BaseScore        float64 // por debajo del punto medio: sesgo a ser selectivo
	EquityCeiling    float64
	CryptoCeiling    float64
	RankingEnabled   bool
	RankingMinSample int
	LargeCapEquity   float64
	LargeCapCrypto   float64
	CryptoMajors     []string
}

// DefaultConfig devuelve la configuración por defecto.
func DefaultConfig() Config {
	return Config{
		BaseScore:        4.0,
		EquityCeiling:    10,
		CryptoCeiling:    8,
		RankingEnabled:   true,
		RankingMinSample: 5,
		LargeCapEquity:   100e9,
		LargeCapCrypto:   50e9,
		CryptoMajors:     []string{"BTC-USD", "ETH-USD"},
	}
}

// Engine calcula scores. No tiene estado mutable: es seguro usarlo desde varias goroutines.
type Engine struct {
	cfg    Config
	majors map[string]bool
	now    func() time.Time
}

// New crea un Engine.
func New(cfg Config) *Engine {
	majors := make(map[string]bool, len(cfg.CryptoMajors))
	for _, s := range cfg.CryptoMajors {
		majors[s] = true
	}
	return &Engine{cfg: cfg, majors: majors, now: time.Now}
}

// Ceiling devuelve el score máximo del book.
func (e *Engine) Ceiling(book domain.Book) float64 {
	if book == domain.BookCrypto {
		return e.cfg.CryptoCeiling
	}
	return e.cfg.EquityCeiling
}

// Score calcula el ScoreRecord absoluto de un símbolo.
// Un snapshot inválido no devuelve error: produce un score neutral marcado como Degraded.
func (e *Engine) Score(book domain.Book, snap domain.MarketSnapshot) domain.ScoreRecord {
	ceiling := e.Ceiling(book)
	rec := domain.ScoreRecord{
		Symbol:     snap.Symbol,
		Book:       book,
		Snapshot:   snap,
		ScoredAt:   e.now(),
		Percentile: 100,
	}

	if err := snap.Validate(); err != nil {
		neutral := domain.RoundHalf(ceiling / 2)
		rec.RawScore = neutral
		rec.Score = neutral
		rec.Degraded = true
		rec.Tier = domain.TierFor(neutral)
		return rec
	}

	score := e.cfg.BaseScore
	add := func(factor string, delta float64) {
		if delta == 0 {
			return
		}
		score += delta
		rec.Adjustments = append(rec.Adjustments, domain.ScoreAdjustment{Factor: factor, Delta: delta})
	}

	if snap.RSI != nil {
		add("rsi", rsiAdjustment(*snap.RSI))
	}
	add("recent_change", changeAdjustment(book, snap.PercentChange))
	add("trend", trendAdjustment(snap.Trend, snap.Crossover))
	if snap.MA20 != nil && snap.MA50 != nil {
		add("moving_averages", maAdjustment(snap.Price, *snap.MA20, *snap.MA50))
	}
	if snap.VolumeRatio != nil {
		add("volume", volumeAdjustment(*snap.VolumeRatio))
	}
	if e.isEstablished(book, snap) {
		add("stability", 0.5)
	}

	score = domain.Clamp(domain.RoundHalf(score), 0, ceiling)
	rec.RawScore = score
	rec.Score = score
	rec.Tier = domain.TierFor(score)
	return rec
}

// ScoreAll puntúa todos los snapshots de un book y aplica el ranking relativo.
func (e *Engine) ScoreAll(book domain.Book, snaps []domain.MarketSnapshot) []domain.ScoreRecord {
	records := make([]domain.ScoreRecord, 0, len(snaps))
	for _, s := range snaps {
		records = append(records, e.Score(book, s))
	}
	return e.Rank(records)
}

// Rank recalcula percentiles dentro del conjunto y limita el score efectivo
// de todo lo que no esté en las bandas superiores. Nunca sube un score.
//
//	percentil >= 98 → sin límite extra (techo del book)
//	percentil >= 90 → máx 7.5
//	percentil >= 75 → máx 6.5
//	resto          → máx 6.0
//
// Con menos de RankingMinSample registros solo se calculan percentiles.
func (e *Engine) Rank(records []domain.ScoreRecord) []domain.ScoreRecord {
	n := len(records)
	if n == 0 {
		return records
	}

	sorted := make([]float64, n)
	for i, r := range records {
		sorted[i] = r.RawScore
	}
	sort.Float64s(sorted)

	capped := e.cfg.RankingEnabled && n >= e.cfg.RankingMinSample
	out := make([]domain.ScoreRecord, n)
	for i, r := range records {
		r.Percentile = percentile(sorted, r.RawScore)
		r.Score = r.RawScore
		if capped {
			r.Score = math.Min(r.RawScore, bandCap(r.Percentile, e.Ceiling(r.Book)))
		}
		r.Tier = domain.TierFor(r.Score)
		out[i] = r
	}
	return out
}

// percentile devuelve el % de los demás registros con score <= v.
func percentile(sorted []float64, v float64) float64 {
	n := len(sorted)
	if n == 1 {
		return 100
	}
	atOrBelow := sort.Search(n, func(i int) bool { return sorted[i] > v })
	return float64(atOrBelow-1) / float64(n-1) * 100
}

func bandCap(pct, ceiling float64) float64 {
	switch {
	case pct >= 98:
		return ceiling
	case pct >= 90:
		return 7.5
	case pct >= 75:
		return 6.5
	default:
		return 6.0
	}
}

// rsiAdjustment premia sobreventa y penaliza sobrecompra, con magnitudes asimétricas.
func rsiAdjustment(rsi float64) float64 {
	switch {
	case rsi <= 25:
		return 2.0
	case rsi <= 30:
		return 1.5
	case rsi <= 40:
		return 0.5
	case rsi >= 80:
		return -2.5
	case rsi >= 70:
		return -1.5
	case rsi >= 65:
		return -0.5
	}
	return 0
}

// changeAdjustment penaliza subidas grandes recientes (anti-FOMO) y las caídas
// en picado. Los umbrales de crypto son el doble que los de equity.
func changeAdjustment(book domain.Book, pc float64) float64 {
	k := 1.0
	if book == domain.BookCrypto {
		k = 2.0
	}
	switch {
	case pc > 8*k:
		return -2.0
	case pc > 5*k:
		return -1.0
	case pc > 2*k:
		return 0
	case pc >= -1*k:
		return 0.5
	case pc >= -5*k:
		return 1.0
	case pc >= -10*k:
		return 0
	default:
		return -1.0
	}
}

// trendAdjustment: el cruce pesa más que la tendencia simple y no se suman.
func trendAdjustment(trend domain.Trend, cross domain.Crossover) float64 {
	switch cross {
	case domain.CrossoverBullish:
		return 1.5
	case domain.CrossoverBearish:
		return -1.5
	}
	switch trend {
	case domain.TrendBullish:
		return 0.5
	case domain.TrendBearish:
		return -0.5
	}
	return 0
}

func maAdjustment(price, ma20, ma50 float64) float64 {
	switch {
	case price > ma20 && ma20 > ma50:
		return 0.5
	case price < ma20 && ma20 < ma50:
		return -1.0
	}
	return 0
}

// volumeAdjustment: volumen muy bajo es iliquidez, volumen alto confirma.
func volumeAdjustment(ratio float64) float64 {
	switch {
	case ratio < 0.5:
		return -1.0
	case ratio >= 1.5:
		return 0.5
	}
	return 0
}

func (e *Engine) isEstablished(book domain.Book, snap domain.MarketSnapshot) bool {
	if book == domain.BookCrypto {
		return e.majors[snap.Symbol] || (e.cfg.LargeCapCrypto > 0 && snap.MarketCap >= e.cfg.LargeCapCrypto)
	}
	return e.cfg.LargeCapEquity > 0 && snap.MarketCap >= e.cfg.LargeCapEquity
}
