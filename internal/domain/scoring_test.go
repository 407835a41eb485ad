package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierElite, TierFor(8))
	assert.Equal(t, TierElite, TierFor(10))
	assert.Equal(t, TierStrong, TierFor(6))
	assert.Equal(t, TierStrong, TierFor(7.5))
	assert.Equal(t, TierNeutral, TierFor(4))
	assert.Equal(t, TierWeak, TierFor(3.5))
	assert.Equal(t, TierWeak, TierFor(0))
}

func TestRoundHalf(t *testing.T) {
	assert.Equal(t, 5.5, RoundHalf(5.3))
	assert.Equal(t, 5.0, RoundHalf(5.2))
	assert.Equal(t, 6.0, RoundHalf(5.8))
	assert.Equal(t, 4.5, RoundHalf(4.5))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 8.0, Clamp(9.5, 0, 8))
	assert.Equal(t, 0.0, Clamp(-1, 0, 10))
	assert.Equal(t, 6.5, Clamp(6.5, 0, 10))
}

// --- MarketSnapshot ---

func TestMarketSnapshot_Validate(t *testing.T) {
	ok := MarketSnapshot{Symbol: "AAPL", Price: 150, RSI: Float(45)}
	assert.NoError(t, ok.Validate())

	assert.ErrorIs(t, MarketSnapshot{Price: 10}.Validate(), ErrInvalidSnapshot)
	assert.ErrorIs(t, MarketSnapshot{Symbol: "AAPL"}.Validate(), ErrInvalidSnapshot)
	assert.ErrorIs(t, MarketSnapshot{Symbol: "AAPL", Price: 1, RSI: Float(120)}.Validate(), ErrInvalidSnapshot)
}
