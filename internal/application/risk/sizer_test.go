package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func emptyAlloc(book domain.Book, liquid, portfolio float64) domain.Allocation {
	return domain.Allocation{
		Book:           book,
		LiquidCapital:  dec(liquid),
		BookValue:      dec(liquid),
		PortfolioValue: dec(portfolio),
		Invested:       decimal.Zero,
		BySector:       map[string]decimal.Decimal{},
		BySymbol:       map[string]decimal.Decimal{},
	}
}

func stepNamed(d domain.SizingDecision, name string) (domain.SizingStep, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return domain.SizingStep{}, false
}

func TestKellyFraction(t *testing.T) {
	s := NewSizer(DefaultConfig())

	assert.InDelta(t, 0.120454, s.KellyFraction(domain.BookEquity, 5), 0.0001)
	assert.Equal(t, 0.01, s.KellyFraction(domain.BookEquity, 0))
	assert.Equal(t, 0.15, s.KellyFraction(domain.BookEquity, 10))
	assert.Equal(t, 0.15, s.KellyFraction(domain.BookCrypto, 7))
	// fuera de rango se acota a [0, 10]
	assert.Equal(t, s.KellyFraction(domain.BookEquity, 10), s.KellyFraction(domain.BookEquity, 14))
}

func TestKellyFraction_Monotonic(t *testing.T) {
	s := NewSizer(DefaultConfig())
	for _, book := range domain.Books() {
		prev := 0.0
		for c := 0.0; c <= 10; c += 0.5 {
			f := s.KellyFraction(book, c)
			assert.GreaterOrEqual(t, f, prev, "book %s confidence %.1f", book, c)
			prev = f
		}
	}
}

func TestSize_Base(t *testing.T) {
	s := NewSizer(DefaultConfig())
	d := s.Size(Request{Book: domain.BookEquity, Symbol: "AAPL", Confidence: 5, Price: dec(10)},
		emptyAlloc(domain.BookEquity, 70000, 100000))

	require.True(t, d.Approved, d.Reason)
	assert.True(t, d.Quantity.Equal(dec(843)), "qty %s", d.Quantity)
	assert.True(t, d.Amount.Equal(dec(8430)))
	assert.Equal(t, "kelly", d.Steps[0].Name)
	clamp, ok := stepNamed(d, "clamp")
	require.True(t, ok)
	assert.False(t, clamp.Changed)
}

func TestSize_Monotonic(t *testing.T) {
	s := NewSizer(DefaultConfig())
	allocs := []domain.Allocation{
		emptyAlloc(domain.BookEquity, 70000, 100000),
		emptyAlloc(domain.BookEquity, 5000, 100000),
		emptyAlloc(domain.BookCrypto, 30000, 100000),
	}
	for _, a := range allocs {
		for _, vol := range []*float64{nil, domain.Float(0.35), domain.Float(1.5)} {
			req := Request{Book: a.Book, Symbol: "X", Sector: "s", Price: dec(1), Volatility: vol}
			req.Confidence = 5
			low := s.Size(req, a)
			req.Confidence = 8
			high := s.Size(req, a)
			assert.True(t, high.Amount.GreaterThanOrEqual(low.Amount),
				"book %s: size(8)=%s < size(5)=%s", a.Book, high.Amount, low.Amount)
		}
	}
}

func TestSize_VolatilityTiers(t *testing.T) {
	s := NewSizer(DefaultConfig())
	alloc := emptyAlloc(domain.BookEquity, 70000, 100000)
	req := Request{Book: domain.BookEquity, Symbol: "TSLA", Confidence: 5, Price: dec(10)}

	req.Volatility = domain.Float(0.35)
	d := s.Size(req, alloc)
	assert.True(t, d.Quantity.Equal(dec(505)), "moderate qty %s", d.Quantity)

	req.Volatility = domain.Float(0.05)
	d = s.Size(req, alloc)
	assert.True(t, d.Quantity.Equal(dec(1011)), "calm qty %s", d.Quantity)
	step, _ := stepNamed(d, "volatility")
	assert.True(t, step.Changed)
}

func TestSize_CryptoNeverIncreasedForLowVolatility(t *testing.T) {
	s := NewSizer(DefaultConfig())
	alloc := emptyAlloc(domain.BookCrypto, 30000, 100000)
	req := Request{Book: domain.BookCrypto, Symbol: "BTC-USD", Confidence: 5, Price: dec(1)}

	base := s.Size(req, alloc)
	req.Volatility = domain.Float(0.05)
	calm := s.Size(req, alloc)
	assert.True(t, calm.Amount.Equal(base.Amount))

	req.Volatility = domain.Float(1.3)
	wild := s.Size(req, alloc)
	assert.True(t, wild.Amount.LessThan(base.Amount))
}

func TestSize_SectorConcentrationAndCorrelation(t *testing.T) {
	s := NewSizer(DefaultConfig())
	alloc := emptyAlloc(domain.BookEquity, 50000, 100000)
	alloc.Invested = dec(20000)
	alloc.BookValue = dec(70000)
	alloc.BySector["tech"] = dec(20000)
	alloc.BySymbol["MSFT"] = dec(20000)

	d := s.Size(Request{Book: domain.BookEquity, Symbol: "AAPL", Sector: "tech", Confidence: 5, Price: dec(10)}, alloc)

	conc, ok := stepNamed(d, "concentration")
	require.True(t, ok)
	assert.True(t, conc.Changed)
	corr, ok := stepNamed(d, "correlation")
	require.True(t, ok)
	assert.True(t, corr.Changed)
	// tope de sector: 30% de 70000 = 21000, ya hay 20000
	require.True(t, d.Approved, d.Reason)
	assert.True(t, d.Amount.Equal(dec(1000)), "amount %s", d.Amount)

	// otro sector no se ve afectado
	other := s.Size(Request{Book: domain.BookEquity, Symbol: "XOM", Sector: "energy", Confidence: 5, Price: dec(10)}, alloc)
	_, concentrated := stepNamed(other, "concentration")
	assert.False(t, concentrated)
	assert.True(t, other.Amount.GreaterThan(d.Amount))
}

func TestSize_CryptoAltExposureCap(t *testing.T) {
	s := NewSizer(DefaultConfig())
	alloc := emptyAlloc(domain.BookCrypto, 21000, 100000)
	alloc.Invested = dec(9000)
	alloc.BookValue = dec(30000)
	alloc.BySymbol["SOL-USD"] = dec(4000)
	alloc.BySymbol["BTC-USD"] = dec(5000)

	alt := s.Size(Request{Book: domain.BookCrypto, Symbol: "ADA-USD", Confidence: 8, Price: dec(1)}, alloc)
	require.True(t, alt.Approved, alt.Reason)
	assert.True(t, alt.Amount.Equal(dec(500)), "alt amount %s", alt.Amount)

	major := s.Size(Request{Book: domain.BookCrypto, Symbol: "ETH-USD", Confidence: 8, Price: dec(1)}, alloc)
	_, capped := stepNamed(major, "correlation")
	assert.False(t, capped)
	assert.True(t, major.Amount.GreaterThan(alt.Amount))
}

func TestSize_BelowMinimumRejected(t *testing.T) {
	s := NewSizer(DefaultConfig())
	alloc := emptyAlloc(domain.BookCrypto, 25500, 100000)
	alloc.Invested = dec(4450)
	alloc.BookValue = dec(30000)
	alloc.BySymbol["SOL-USD"] = dec(4450) // room de alts = 50

	d := s.Size(Request{Book: domain.BookCrypto, Symbol: "ADA-USD", Confidence: 8, Price: dec(1)}, alloc)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "below minimum")
}

func TestSize_FinalClampPerSymbol(t *testing.T) {
	s := NewSizer(DefaultConfig())
	alloc := emptyAlloc(domain.BookEquity, 20000, 20000)

	d := s.Size(Request{Book: domain.BookEquity, Symbol: "AAPL", Confidence: 10, Price: dec(10)}, alloc)
	require.True(t, d.Approved)
	// 15% de 20000 = 3000, pero el límite por símbolo de equity es 12% = 2400
	assert.True(t, d.Amount.Equal(dec(2400)), "amount %s", d.Amount)
	clamp, _ := stepNamed(d, "clamp")
	assert.True(t, clamp.Changed)
}

func TestSize_DefensiveHalvesSize(t *testing.T) {
	s := NewSizer(DefaultConfig())
	alloc := emptyAlloc(domain.BookEquity, 70000, 100000)
	req := Request{Book: domain.BookEquity, Symbol: "AAPL", Confidence: 5, Price: dec(1)}

	normal := s.Size(req, alloc)
	req.Defensive = true
	defensive := s.Size(req, alloc)
	assert.True(t, defensive.Amount.LessThan(normal.Amount))
	step, ok := stepNamed(defensive, "defensive")
	require.True(t, ok)
	assert.True(t, step.After.Equal(step.Before.Mul(dec(0.5))))
}

func TestSize_InvalidPrice(t *testing.T) {
	s := NewSizer(DefaultConfig())
	d := s.Size(Request{Book: domain.BookEquity, Symbol: "AAPL", Confidence: 5}, emptyAlloc(domain.BookEquity, 1000, 1000))
	assert.False(t, d.Approved)
}

func TestSize_CryptoFractionalQuantity(t *testing.T) {
	s := NewSizer(DefaultConfig())
	d := s.Size(Request{Book: domain.BookCrypto, Symbol: "BTC-USD", Confidence: 5, Price: dec(60000)},
		emptyAlloc(domain.BookCrypto, 30000, 100000))
	require.True(t, d.Approved)
	assert.True(t, d.Quantity.LessThan(dec(1)))
	assert.LessOrEqual(t, -d.Quantity.Exponent(), int32(6))
}

// --- Drawdown ---

func TestDrawdownMonitor_HaltAndRecover(t *testing.T) {
	m := NewDrawdownMonitor(0.15, 0.075, 30*24*time.Hour)
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	st := m.Observe(t0, 100000)
	assert.False(t, st.Halted)
	assert.Equal(t, 0.0, st.Drawdown)

	st = m.Observe(t0.Add(time.Hour), 90000)
	assert.InDelta(t, 0.10, st.Drawdown, 1e-9)
	assert.True(t, st.Defensive)
	assert.False(t, st.Halted)

	st = m.Observe(t0.Add(2*time.Hour), 84000)
	assert.True(t, st.Halted)
	assert.Equal(t, st, m.State())

	st = m.Observe(t0.Add(3*time.Hour), 90000)
	assert.False(t, st.Halted)
}

func TestDrawdownMonitor_LookbackDropsOldPeak(t *testing.T) {
	m := NewDrawdownMonitor(0.15, 0, 24*time.Hour)
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.Seed([]domain.EquityPoint{{At: t0, Value: 200000}})

	st := m.Observe(t0.Add(time.Hour), 100000)
	assert.True(t, st.Halted)

	st = m.Observe(t0.Add(48*time.Hour), 100000)
	assert.False(t, st.Halted)
	assert.Equal(t, 100000.0, st.Peak)
	assert.False(t, st.Defensive)
}
