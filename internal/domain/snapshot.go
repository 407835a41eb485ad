package domain

import (
	"errors"
	"fmt"
	"time"
)

// Trend es la señal de tendencia del proveedor de datos.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// Crossover es la señal de cruce tipo MACD.
type Crossover string

const (
	CrossoverBullish Crossover = "bullish_crossover"
	CrossoverBearish Crossover = "bearish_crossover"
	CrossoverNone    Crossover = "none"
)

// MarketSnapshot es lo que devuelve el proveedor de datos para un símbolo.
// Price y PercentChange son obligatorios; los indicadores opcionales son punteros
// y nil significa "no disponible" (el scoring omite ese ajuste).
type MarketSnapshot struct {
	Symbol        string    `json:"symbol" yaml:"symbol"`
	Price         float64   `json:"price" yaml:"price"`
	PercentChange float64   `json:"percent_change" yaml:"percent_change"`
	Volume        float64   `json:"volume" yaml:"volume"`
	MarketCap     float64   `json:"market_cap,omitempty" yaml:"market_cap"`
	VolumeRatio   *float64  `json:"volume_ratio,omitempty" yaml:"volume_ratio"`
	RSI           *float64  `json:"rsi,omitempty" yaml:"rsi"`
	MA20          *float64  `json:"ma20,omitempty" yaml:"ma20"`
	MA50          *float64  `json:"ma50,omitempty" yaml:"ma50"`
	Volatility    *float64  `json:"volatility,omitempty" yaml:"volatility"` // anualizada, 0.25 = 25%
	Trend         Trend     `json:"trend_signal,omitempty" yaml:"trend_signal"`
	Crossover     Crossover `json:"trend_crossover_signal,omitempty" yaml:"trend_crossover_signal"`
	FetchedAt     time.Time `json:"fetched_at" yaml:"-"`
}

// ErrInvalidSnapshot se devuelve cuando faltan campos obligatorios.
var ErrInvalidSnapshot = errors.New("invalid market snapshot")

// Validate rechaza snapshots sin símbolo o con precio no positivo,
// y RSI fuera de [0, 100].
func (s MarketSnapshot) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidSnapshot)
	}
	if s.Price <= 0 {
		return fmt.Errorf("%w: %s: non-positive price %.4f", ErrInvalidSnapshot, s.Symbol, s.Price)
	}
	if s.RSI != nil && (*s.RSI < 0 || *s.RSI > 100) {
		return fmt.Errorf("%w: %s: rsi %.2f out of range", ErrInvalidSnapshot, s.Symbol, *s.RSI)
	}
	return nil
}

// Float es un helper para construir indicadores opcionales.
func Float(v float64) *float64 { return &v }
