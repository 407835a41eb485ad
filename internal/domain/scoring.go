package domain

import (
	"math"
	"time"
)

// Tier clasifica un score efectivo.
type Tier string

const (
	TierElite   Tier = "ELITE"
	TierStrong  Tier = "STRONG"
	TierNeutral Tier = "NEUTRAL"
	TierWeak    Tier = "WEAK"
)

// TierFor devuelve el tier de un score efectivo.
//
//	ELITE   >= 8
//	STRONG  >= 6
//	NEUTRAL >= 4
//	WEAK    <  4
func TierFor(score float64) Tier {
	switch {
	case score >= 8:
		return TierElite
	case score >= 6:
		return TierStrong
	case score >= 4:
		return TierNeutral
	default:
		return TierWeak
	}
}

// Icon devuelve el prefijo corto para la consola.
func (t Tier) Icon() string {
	switch t {
	case TierElite:
		return "[E]"
	case TierStrong:
		return "[S]"
	case TierNeutral:
		return "[N]"
	default:
		return "[W]"
	}
}

// ScoreAdjustment es un ajuste individual aplicado al score base.
type ScoreAdjustment struct {
	Factor string
	Delta  float64
}

// ScoreRecord es el resultado efímero del scoring de un símbolo en un ciclo.
type ScoreRecord struct {
	Symbol      string
	Book        Book
	RawScore    float64 // score absoluto, ya redondeado y acotado
	Score       float64 // score efectivo tras el ranking relativo
	Percentile  float64 // 0-100 dentro del book en este ciclo
	Tier        Tier
	Degraded    bool // snapshot inválido → score neutral
	Adjustments []ScoreAdjustment
	Snapshot    MarketSnapshot
	ScoredAt    time.Time
}

// RoundHalf redondea al medio punto más cercano.
func RoundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}

// Clamp acota v a [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
