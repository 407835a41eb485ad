package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestPosition_LongUnrealizedPnL(t *testing.T) {
	p := Position{Symbol: "AAPL", Side: SideLong, Quantity: d(10), EntryPrice: d(150), CurrentPrice: d(165)}

	assert.True(t, p.UnrealizedPnL().Equal(d(150)), "pnl=%s", p.UnrealizedPnL())
	assert.True(t, p.UnrealizedPnLPercent().Equal(d(10)), "pct=%s", p.UnrealizedPnLPercent())
	assert.True(t, p.Value().Equal(d(1650)))
}

func TestPosition_ShortUnrealizedPnL(t *testing.T) {
	p := Position{Symbol: "XYZ", Side: SideShort, Quantity: d(10), EntryPrice: d(100), CurrentPrice: d(90)}
	assert.True(t, p.UnrealizedPnL().Equal(d(100)))

	p.CurrentPrice = d(110)
	assert.True(t, p.UnrealizedPnL().Equal(d(-100)))
	assert.True(t, p.MarkValue().Equal(d(900)))
}

func TestPosition_ZeroCostPercent(t *testing.T) {
	p := Position{Side: SideLong}
	assert.True(t, p.UnrealizedPnLPercent().IsZero())
}

func TestProtectiveLevels(t *testing.T) {
	stop, target := ProtectiveLevels(SideLong, d(100), 0.05, 0.12)
	assert.True(t, stop.Equal(d(95)))
	assert.True(t, target.Equal(d(112)))

	stop, target = ProtectiveLevels(SideShort, d(100), 0.08, 0.05)
	assert.True(t, stop.Equal(d(108)))
	assert.True(t, target.Equal(d(95)))
}

func TestPosition_StopAndTargetHits(t *testing.T) {
	long := Position{Side: SideLong, StopLoss: d(95), TakeProfit: d(112)}
	long.CurrentPrice = d(94)
	assert.True(t, long.StopHit())
	long.CurrentPrice = d(113)
	assert.True(t, long.TakeProfitHit())
	long.CurrentPrice = d(100)
	assert.False(t, long.StopHit())
	assert.False(t, long.TakeProfitHit())

	short := Position{Side: SideShort, StopLoss: d(108), TakeProfit: d(95)}
	short.CurrentPrice = d(109)
	assert.True(t, short.StopHit())
	short.CurrentPrice = d(94)
	assert.True(t, short.TakeProfitHit())
}

func TestPosition_HeldFor(t *testing.T) {
	opened := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Position{OpenedAt: opened}
	assert.Equal(t, 48*time.Hour, p.HeldFor(opened.Add(48*time.Hour)))
}

// --- Ledger ---

func TestLedger_Validate(t *testing.T) {
	l := NewLedger(BookEquity, d(1000), 3)
	require.NoError(t, l.Validate())

	l.LiquidCapital = d(-1)
	assert.Error(t, l.Validate())

	l = NewLedger(BookEquity, d(1000), 3)
	l.PositionCount = 4
	assert.Error(t, l.Validate())
}

func TestLedger_Utilization(t *testing.T) {
	l := NewLedger(BookCrypto, d(750), 6)
	l.InvestedCapital = d(250)
	assert.InDelta(t, 25.0, l.Utilization(), 0.0001)
	assert.Equal(t, 0.0, Ledger{}.Utilization())
}

// --- Errors ---

func TestRejection_Is(t *testing.T) {
	err := fmt.Errorf("portfolio.Open: %w", Reject(ReasonPositionLimitReached, "3/3 positions"))

	assert.ErrorIs(t, err, ErrPositionLimitReached)
	assert.False(t, errors.Is(err, ErrCapitalInsufficient))
	assert.True(t, IsRejection(err))
	assert.Equal(t, ReasonPositionLimitReached, RejectionReason(err))
	assert.Contains(t, err.Error(), "3/3 positions")
}

func TestIsRejection_Failure(t *testing.T) {
	err := fmt.Errorf("fetch AAPL: %w", ErrDataUnavailable)
	assert.False(t, IsRejection(err))
	assert.Equal(t, RejectReason(""), RejectionReason(err))
}

func TestParseBookAndSide(t *testing.T) {
	b, err := ParseBook("crypto")
	require.NoError(t, err)
	assert.Equal(t, BookCrypto, b)
	_, err = ParseBook("bonds")
	assert.Error(t, err)

	s, err := ParseSide("short")
	require.NoError(t, err)
	assert.Equal(t, SideShort, s)
}
