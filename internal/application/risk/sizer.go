// Package risk calcula el tamaño de las posiciones nuevas y vigila el drawdown
// del portfolio. El sizing es una función pura sobre una vista de solo-lectura.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// VolatilityTiers: reducción escalonada por volatilidad anualizada.
// Calm <= 0 desactiva el aumento para activos tranquilos.
type VolatilityTiers struct {
	Mild, MildFactor         float64
	Moderate, ModerateFactor float64
	Severe, SevereFactor     float64
	Calm, CalmFactor         float64
}

// BookLimits son los límites del sizing propios de cada book.
type BookLimits struct {
	MaxSinglePositionPct  float64 // fracción del valor total del portfolio
	MaxCorrelatedExposure float64 // alts (crypto) o mismo sector (equity), fracción del book
	Majors                []string
	Volatility            VolatilityTiers
}

// Config parametriza el Sizer.
type Config struct {
	KellyScale             float64
	MinFraction            float64
	MaxFraction            float64
	MinPositionSize        float64
	MaxPositionPortfolio   float64
	MaxSectorConcentration float64
	ConcentrationFactor    float64
	DefensiveFactor        float64
	Books                  map[domain.Book]BookLimits
}

// DefaultConfig devuelve la configuración por defecto.
func DefaultConfig() Config {
	return Config{
		KellyScale:             0.25,
		MinFraction:            0.01,
		MaxFraction:            0.15,
		MinPositionSize:        100,
		MaxPositionPortfolio:   0.15,
		MaxSectorConcentration: 0.30,
		ConcentrationFactor:    0.5,
		DefensiveFactor:        0.5,
		Books: map[domain.Book]BookLimits{
			domain.BookEquity: {
				MaxSinglePositionPct:  0.12,
				MaxCorrelatedExposure: 0.30,
				Volatility: VolatilityTiers{
					Mild: 0.20, MildFactor: 0.8,
					Moderate: 0.30, ModerateFactor: 0.6,
					Severe: 0.45, SevereFactor: 0.4,
					Calm: 0.08, CalmFactor: 1.2,
				},
			},
			domain.BookCrypto: {
				MaxSinglePositionPct:  0.15,
				MaxCorrelatedExposure: 0.15,
				Majors:                []string{"BTC-USD", "ETH-USD"},
				Volatility: VolatilityTiers{
					Mild: 0.60, MildFactor: 0.9,
					Moderate: 0.80, ModerateFactor: 0.7,
					Severe: 1.20, SevereFactor: 0.5,
				},
			},
		},
	}
}

// Request es la entrada del sizing.
type Request struct {
	Book       domain.Book
	Symbol     string
	Sector     string
	Confidence float64 // 0-10
	Price      decimal.Decimal
	Volatility *float64
	Defensive  bool // drawdown por encima del umbral defensivo
}

// Sizer es el Risk & Sizing Engine.
type Sizer struct {
	cfg    Config
	majors map[domain.Book]map[string]bool
}

// NewSizer crea un Sizer.
func NewSizer(cfg Config) *Sizer {
	majors := make(map[domain.Book]map[string]bool, len(cfg.Books))
	for book, lim := range cfg.Books {
		set := make(map[string]bool, len(lim.Majors))
		for _, s := range lim.Majors {
			set[s] = true
		}
		majors[book] = set
	}
	return &Sizer{cfg: cfg, majors: majors}
}

// Size calcula el capital a asignar. No muta nada: cada paso queda registrado
// en la decisión con su motivo.
func (s *Sizer) Size(req Request, alloc domain.Allocation) domain.SizingDecision {
	dec := domain.SizingDecision{Book: req.Book, Symbol: req.Symbol, Confidence: req.Confidence}

	if !req.Price.IsPositive() {
		dec.Reason = "non-positive price"
		return dec
	}
	lim := s.cfg.Books[req.Book]

	// 1. Kelly fraccional sobre el capital líquido del book.
	f := s.KellyFraction(req.Book, req.Confidence)
	dec.Fraction = f
	size := alloc.LiquidCapital.Mul(decimal.NewFromFloat(f))
	dec.Steps = append(dec.Steps, domain.SizingStep{
		Name: "kelly", Before: alloc.LiquidCapital, After: size, Changed: true,
		Reason: fmt.Sprintf("confidence %.1f → %.2f%% of liquid", req.Confidence, f*100),
	})

	// 2. Volatilidad.
	if req.Volatility != nil {
		factor, tier := volatilityFactor(lim.Volatility, *req.Volatility)
		size = s.step(&dec, "volatility", size, factor, fmt.Sprintf("%s (%.0f%% annualized)", tier, *req.Volatility*100))
	}

	// 3. Concentración sectorial dentro del book.
	if req.Sector != "" && alloc.Invested.IsPositive() {
		share := alloc.BySector[req.Sector].Div(alloc.Invested).InexactFloat64()
		if share > s.cfg.MaxSectorConcentration {
			size = s.step(&dec, "concentration", size, s.cfg.ConcentrationFactor,
				fmt.Sprintf("%s is %.0f%% of invested", req.Sector, share*100))
		}
	}

	// 4. Correlación: tope absoluto de exposición correlacionada.
	if exposure, label, applies := s.correlatedExposure(req, alloc); applies && lim.MaxCorrelatedExposure > 0 {
		room := decimal.Max(decimal.Zero,
			alloc.BookValue.Mul(decimal.NewFromFloat(lim.MaxCorrelatedExposure)).Sub(exposure))
		before := size
		if size.GreaterThan(room) {
			size = room
		}
		dec.Steps = append(dec.Steps, domain.SizingStep{
			Name: "correlation", Before: before, After: size, Changed: !before.Equal(size),
			Reason: fmt.Sprintf("%s exposure %s, room %s", label, exposure.StringFixed(2), room.StringFixed(2)),
		})
	}

	// 5. Modo defensivo por drawdown.
	if req.Defensive {
		size = s.step(&dec, "defensive", size, s.cfg.DefensiveFactor, "portfolio drawdown above defensive threshold")
	}

	// 6. Clamp final: techo absoluto y por símbolo, nunca más que el líquido.
	before := size
	ceiling := alloc.PortfolioValue.Mul(decimal.NewFromFloat(s.cfg.MaxPositionPortfolio))
	if lim.MaxSinglePositionPct > 0 {
		perSymbol := alloc.PortfolioValue.Mul(decimal.NewFromFloat(lim.MaxSinglePositionPct)).Sub(alloc.BySymbol[req.Symbol])
		ceiling = decimal.Min(ceiling, perSymbol)
	}
	ceiling = decimal.Max(decimal.Zero, decimal.Min(ceiling, alloc.LiquidCapital))
	if size.GreaterThan(ceiling) {
		size = ceiling
	}
	dec.Steps = append(dec.Steps, domain.SizingStep{
		Name: "clamp", Before: before, After: size, Changed: !before.Equal(size),
		Reason: fmt.Sprintf("ceiling %s", ceiling.StringFixed(2)),
	})

	qty := quantityFor(req.Book, size, req.Price)
	amount := qty.Mul(req.Price)
	floor := decimal.NewFromFloat(s.cfg.MinPositionSize)
	if !qty.IsPositive() || amount.LessThan(floor) {
		dec.Amount = amount
		dec.Quantity = qty
		dec.Reason = fmt.Sprintf("size %s below minimum %s", amount.StringFixed(2), floor.StringFixed(2))
		return dec
	}

	dec.Amount = amount
	dec.Quantity = qty
	dec.Approved = true
	return dec
}

// KellyFraction mapea la confianza (0-10) a una fracción Kelly escalada y acotada.
//
//	p      = 0.5 + 0.04·c                 (0.5 .. 0.9)
//	odds   = expected_return / max_loss   (crypto: retornos y stops más amplios)
//	f      = (odds·p − (1−p)) / odds
//	result = clamp(f × scale, min, max)
func (s *Sizer) KellyFraction(book domain.Book, confidence float64) float64 {
	c := domain.Clamp(confidence, 0, 10)
	p := 0.5 + 0.04*c

	var expReturn, maxLoss float64
	if book == domain.BookCrypto {
		expReturn = 0.05 + 0.035*c
		maxLoss = 0.15 - 0.006*c
	} else {
		expReturn = 0.04 + 0.014*c
		maxLoss = 0.10 - 0.004*c
	}
	odds := expReturn / maxLoss
	f := (odds*p - (1 - p)) / odds
	return domain.Clamp(f*s.cfg.KellyScale, s.cfg.MinFraction, s.cfg.MaxFraction)
}

func (s *Sizer) step(dec *domain.SizingDecision, name string, size decimal.Decimal, factor float64, reason string) decimal.Decimal {
	after := size
	if factor != 1 {
		after = size.Mul(decimal.NewFromFloat(factor))
	}
	dec.Steps = append(dec.Steps, domain.SizingStep{
		Name: name, Before: size, After: after, Changed: factor != 1, Reason: reason,
	})
	return after
}

// correlatedExposure devuelve la exposición correlacionada con el símbolo:
// alts para crypto (los majors están exentos), mismo sector para equity.
func (s *Sizer) correlatedExposure(req Request, alloc domain.Allocation) (decimal.Decimal, string, bool) {
	if req.Book == domain.BookCrypto {
		majors := s.majors[req.Book]
		if majors[req.Symbol] {
			return decimal.Zero, "", false
		}
		total := decimal.Zero
		for sym, v := range alloc.BySymbol {
			if !majors[sym] {
				total = total.Add(v)
			}
		}
		return total, "alt", true
	}
	if req.Sector == "" {
		return decimal.Zero, "", false
	}
	return alloc.BySector[req.Sector], "sector " + req.Sector, true
}

func volatilityFactor(t VolatilityTiers, vol float64) (float64, string) {
	switch {
	case t.Severe > 0 && vol >= t.Severe:
		return t.SevereFactor, "severe volatility"
	case t.Moderate > 0 && vol >= t.Moderate:
		return t.ModerateFactor, "moderate volatility"
	case t.Mild > 0 && vol >= t.Mild:
		return t.MildFactor, "mild volatility"
	case t.Calm > 0 && vol < t.Calm && t.CalmFactor > 0:
		return t.CalmFactor, "calm"
	}
	return 1, "normal volatility"
}

// quantityFor trunca a acciones enteras en equity y a 6 decimales en crypto.
func quantityFor(book domain.Book, amount, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !amount.IsPositive() {
		return decimal.Zero
	}
	places := int32(0)
	if book == domain.BookCrypto {
		places = 6
	}
	// Truncate: redondear hacia arriba podría pasarse del capital.
	return amount.Div(price).Truncate(places)
}
