package scoring

import (
	"testing"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(symbol string, price, change float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{Symbol: symbol, Price: price, PercentChange: change}
}

func TestScore_BaseOnly(t *testing.T) {
	e := New(DefaultConfig())
	// change 3% → sin ajuste, sin indicadores
	rec := e.Score(domain.BookEquity, snap("AAPL", 150, 3))
	assert.Equal(t, 4.0, rec.RawScore)
	assert.Equal(t, domain.TierNeutral, rec.Tier)
	assert.False(t, rec.Degraded)
	assert.Empty(t, rec.Adjustments)
}

func TestScore_OversoldBullish(t *testing.T) {
	e := New(DefaultConfig())
	s := snap("AAPL", 150, -2)
	s.RSI = domain.Float(24)
	s.Crossover = domain.CrossoverBullish
	s.MA20 = domain.Float(140)
	s.MA50 = domain.Float(130)
	s.VolumeRatio = domain.Float(1.8)
	s.MarketCap = 3e12

	rec := e.Score(domain.BookEquity, s)
	// 4 + 2 (rsi) + 1 (caída moderada) + 1.5 (cruce) + 0.5 (medias) + 0.5 (volumen) + 0.5 (large cap) = 10
	assert.Equal(t, 10.0, rec.RawScore)
	assert.Equal(t, domain.TierElite, rec.Tier)
	assert.Len(t, rec.Adjustments, 6)
}

func TestScore_CryptoCappedAtEight(t *testing.T) {
	e := New(DefaultConfig())
	s := snap("BTC-USD", 60000, -3)
	s.RSI = domain.Float(20)
	s.Crossover = domain.CrossoverBullish
	s.VolumeRatio = domain.Float(2)

	rec := e.Score(domain.BookCrypto, s)
	assert.Equal(t, 8.0, rec.RawScore)
}

func TestScore_AntiFOMOPenalty(t *testing.T) {
	e := New(DefaultConfig())
	calm := e.Score(domain.BookEquity, snap("NVDA", 900, 1))
	rally := e.Score(domain.BookEquity, snap("NVDA", 900, 12))
	assert.Greater(t, calm.RawScore, rally.RawScore)
	assert.Equal(t, 2.0, rally.RawScore)
}

func TestScore_CryptoChangeThresholdsWider(t *testing.T) {
	e := New(DefaultConfig())
	// +9%: penalización fuerte en equity, ninguna en crypto
	eq := e.Score(domain.BookEquity, snap("X", 10, 9))
	cr := e.Score(domain.BookCrypto, snap("SOL-USD", 10, 9))
	assert.Equal(t, 2.0, eq.RawScore)
	assert.Equal(t, 4.0, cr.RawScore)
}

func TestScore_OverboughtBearish(t *testing.T) {
	e := New(DefaultConfig())
	s := snap("TSLA", 250, 6)
	s.RSI = domain.Float(82)
	s.Crossover = domain.CrossoverBearish
	s.VolumeRatio = domain.Float(0.3)

	rec := e.Score(domain.BookEquity, s)
	// 4 - 2.5 - 1 - 1.5 - 1 = -2 → 0
	assert.Equal(t, 0.0, rec.RawScore)
	assert.Equal(t, domain.TierWeak, rec.Tier)
}

func TestScore_TrendOnlyWithoutCrossover(t *testing.T) {
	e := New(DefaultConfig())
	s := snap("KO", 60, 3)
	s.Trend = domain.TrendBullish
	s.Crossover = domain.CrossoverNone
	assert.Equal(t, 4.5, e.Score(domain.BookEquity, s).RawScore)

	s.Trend = domain.TrendBearish
	assert.Equal(t, 3.5, e.Score(domain.BookEquity, s).RawScore)
}

func TestScore_MajorStabilityBonus(t *testing.T) {
	e := New(DefaultConfig())
	assert.Equal(t, 4.5, e.Score(domain.BookCrypto, snap("ETH-USD", 3000, 5)).RawScore)
	assert.Equal(t, 4.0, e.Score(domain.BookCrypto, snap("PEPE-USD", 0.001, 5)).RawScore)
}

func TestScore_InvalidSnapshotDegradesToNeutral(t *testing.T) {
	e := New(DefaultConfig())

	eq := e.Score(domain.BookEquity, domain.MarketSnapshot{Symbol: "AAPL"})
	assert.True(t, eq.Degraded)
	assert.Equal(t, 5.0, eq.RawScore)

	cr := e.Score(domain.BookCrypto, domain.MarketSnapshot{Symbol: "BTC-USD", Price: -1})
	assert.True(t, cr.Degraded)
	assert.Equal(t, 4.0, cr.RawScore)
}

func TestScore_RoundsToHalfPoint(t *testing.T) {
	for _, rsi := range []float64{10, 28, 35, 50, 66, 75, 90} {
		s := snap("X", 10, 0)
		s.RSI = domain.Float(rsi)
		rec := New(DefaultConfig()).Score(domain.BookEquity, s)
		assert.Equal(t, 0.0, rec.RawScore*2-float64(int(rec.RawScore*2)), "rsi=%v", rsi)
	}
}

// --- Rank ---

func records(book domain.Book, scores ...float64) []domain.ScoreRecord {
	out := make([]domain.ScoreRecord, len(scores))
	for i, s := range scores {
		out[i] = domain.ScoreRecord{Symbol: string(rune('A' + i)), Book: book, RawScore: s, Score: s}
	}
	return out
}

func TestRank_CapsAllButTopBand(t *testing.T) {
	e := New(DefaultConfig())
	ranked := e.Rank(records(domain.BookEquity, 9, 9, 8.5, 8, 7, 6, 5, 4, 3, 2, 1))

	// el primero y el segundo empatan en el percentil 100
	assert.Equal(t, 100.0, ranked[0].Percentile)
	assert.Equal(t, 9.0, ranked[0].Score)
	assert.Equal(t, 9.0, ranked[1].Score)
	// 8.5 → percentil 80 → máx 6.5
	assert.InDelta(t, 80.0, ranked[2].Percentile, 0.001)
	assert.Equal(t, 6.5, ranked[2].Score)
	// 8 → percentil 70 → máx 6.0
	assert.Equal(t, 6.0, ranked[3].Score)
	// nunca sube
	assert.Equal(t, 4.0, ranked[7].Score)
	assert.Equal(t, 0.0, ranked[10].Percentile)

	for _, r := range ranked {
		assert.LessOrEqual(t, r.Score, r.RawScore)
		assert.Equal(t, domain.TierFor(r.Score), r.Tier)
	}
}

func TestRank_SmallSampleNotCapped(t *testing.T) {
	e := New(DefaultConfig())
	ranked := e.Rank(records(domain.BookEquity, 9, 3))
	assert.Equal(t, 9.0, ranked[0].Score)
	assert.Equal(t, 3.0, ranked[1].Score)
	assert.Equal(t, 0.0, ranked[1].Percentile)
}

func TestRank_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RankingEnabled = false
	ranked := New(cfg).Rank(records(domain.BookEquity, 9, 8, 7, 6, 5, 4))
	for _, r := range ranked {
		assert.Equal(t, r.RawScore, r.Score)
	}
}

func TestRank_SingleRecord(t *testing.T) {
	ranked := New(DefaultConfig()).Rank(records(domain.BookCrypto, 7))
	require.Len(t, ranked, 1)
	assert.Equal(t, 100.0, ranked[0].Percentile)
}

func TestScoreAll_UsesBookCeiling(t *testing.T) {
	e := New(DefaultConfig())
	snaps := []domain.MarketSnapshot{snap("BTC-USD", 1, 3), snap("ETH-USD", 1, 3)}
	recs := e.ScoreAll(domain.BookCrypto, snaps)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.LessOrEqual(t, r.Score, 8.0)
		assert.Equal(t, domain.BookCrypto, r.Book)
	}
}
