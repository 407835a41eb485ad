package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del engine.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Books   BooksConfig   `yaml:"books"`
	Scoring ScoringConfig `yaml:"scoring"`
	Risk    RiskConfig    `yaml:"risk"`
	Guard   GuardConfig   `yaml:"guard"`
	Market  MarketConfig  `yaml:"market"`
	Storage StorageConfig `yaml:"storage"`
	Notify  NotifyConfig  `yaml:"notify"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig controla el bucle de control.
type EngineConfig struct {
	RefreshIntervalSeconds  int    `yaml:"refresh_interval_seconds"`    // refresco de precios
	CycleIntervalSeconds    int    `yaml:"cycle_interval_seconds"`      // ciclo de decisión completo
	MaxNewPositionsPerCycle int    `yaml:"max_new_positions_per_cycle"` // ausente → 3, negativo → sin límite
	FetchWorkers            int    `yaml:"fetch_workers"`
	HoldOnHalt              bool   `yaml:"hold_on_halt"` // no cerrar posiciones automáticas con el circuit breaker activo
	EquityMarketHours       bool   `yaml:"equity_market_hours"`
	StopFile                string `yaml:"stop_file"`
}

// BooksConfig agrupa la configuración de cada book.
type BooksConfig struct {
	Equity BookConfig `yaml:"equity"`
	Crypto BookConfig `yaml:"crypto"`
}

// Instrument es un símbolo del universo con su sector (equity) o categoría (crypto).
type Instrument struct {
	Symbol string `yaml:"symbol"`
	Sector string `yaml:"sector"`
}

// BookConfig parametriza un book. Los dos books comparten el mismo ciclo,
// solo cambian estos valores.
type BookConfig struct {
	InitialCapital float64      `yaml:"initial_capital"`
	MaxPositions   int          `yaml:"max_positions"`
	Universe       []Instrument `yaml:"universe"`

	BuyThreshold        float64 `yaml:"buy_threshold"`
	SellThreshold       float64 `yaml:"sell_threshold"` // LONG: cerrar si el score cae a este valor o menos
	ShortThreshold      float64 `yaml:"short_threshold"`
	ShortCoverThreshold float64 `yaml:"short_cover_threshold"` // SHORT: cerrar si el score sube a este valor o más

	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TakeProfitPct      float64 `yaml:"take_profit_pct"`
	ShortStopLossPct   float64 `yaml:"short_stop_loss_pct"`
	ShortTakeProfitPct float64 `yaml:"short_take_profit_pct"`
	MaxHoldDays        int     `yaml:"max_hold_days"`

	ShortsEnabled         bool     `yaml:"shorts_enabled"`
	ShortMinVolume        float64  `yaml:"short_min_volume"`
	ShortMaxRecentGainPct float64  `yaml:"short_max_recent_gain_pct"`
	ShortMinConfirmations int      `yaml:"short_min_confirmations"`
	MaxShortPositions     int      `yaml:"max_short_positions"`
	MaxShortExposurePct   float64  `yaml:"max_short_exposure_pct"`
	MaxSinglePositionPct  float64  `yaml:"max_single_position_pct"` // del valor total del portfolio
	MaxCorrelatedExposure float64  `yaml:"max_correlated_exposure"` // alts (crypto) o mismo sector (equity), fracción del book
	Majors                []string `yaml:"majors"`                  // crypto: exentos del límite de alts
}

// ScoringConfig controla el Scoring Engine.
type ScoringConfig struct {
	BaseScore          float64 `yaml:"base_score"`
	EquityCeiling      float64 `yaml:"equity_ceiling"`
	CryptoCeiling      float64 `yaml:"crypto_ceiling"`
	RankingEnabled     bool    `yaml:"ranking_enabled"`
	RankingMinSample   int     `yaml:"ranking_min_sample"`
	LargeCapEquity     float64 `yaml:"large_cap_equity"`
	LargeCapCrypto     float64 `yaml:"large_cap_crypto"`
	SnapshotTTLSeconds int     `yaml:"snapshot_ttl_seconds"`
}

// VolatilityTiers define las reducciones por volatilidad de un book.
// Calm=0 desactiva el aumento por baja volatilidad.
type VolatilityTiers struct {
	Mild           float64 `yaml:"mild"`
	MildFactor     float64 `yaml:"mild_factor"`
	Moderate       float64 `yaml:"moderate"`
	ModerateFactor float64 `yaml:"moderate_factor"`
	Severe         float64 `yaml:"severe"`
	SevereFactor   float64 `yaml:"severe_factor"`
	Calm           float64 `yaml:"calm"`
	CalmFactor     float64 `yaml:"calm_factor"`
}

// RiskConfig controla el Risk & Sizing Engine y el circuit breaker de drawdown.
type RiskConfig struct {
	KellyScale             float64         `yaml:"kelly_scale"`
	MinFraction            float64         `yaml:"min_fraction"`
	MaxFraction            float64         `yaml:"max_fraction"`
	MinPositionSize        float64         `yaml:"min_position_size"`
	MaxPositionPortfolio   float64         `yaml:"max_position_portfolio_pct"`
	MaxSectorConcentration float64         `yaml:"max_sector_concentration"`
	ConcentrationFactor    float64         `yaml:"concentration_factor"`
	EquityVolatility       VolatilityTiers `yaml:"equity_volatility"`
	CryptoVolatility       VolatilityTiers `yaml:"crypto_volatility"`
	DrawdownHalt           float64         `yaml:"drawdown_halt"`
	DefensiveDrawdown      float64         `yaml:"defensive_drawdown"`
	DefensiveFactor        float64         `yaml:"defensive_factor"`
	DrawdownLookbackDays   int             `yaml:"drawdown_lookback_days"`
}

// BookCooldowns son las horas de cooldown por tipo de resultado.
type BookCooldowns struct {
	AfterOpenHours  float64 `yaml:"after_open_hours"`
	AfterCloseHours float64 `yaml:"after_close_hours"`
	AfterLossHours  float64 `yaml:"after_loss_hours"`
	MaxDailyTrades  int     `yaml:"max_daily_trades"`
}

// GuardConfig controla el Overtrading Guard.
type GuardConfig struct {
	Equity            BookCooldowns `yaml:"equity"`
	Crypto            BookCooldowns `yaml:"crypto"`
	MaxDailyTotal     int           `yaml:"max_daily_total"`
	ConsecutiveLosses int           `yaml:"consecutive_losses"`
	LossThresholdPct  float64       `yaml:"loss_threshold_pct"`
	BlacklistDays     int           `yaml:"blacklist_days"`
}

// MarketConfig controla el proveedor de datos de mercado.
type MarketConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	RatePerSec     float64 `yaml:"rate_per_sec"`
	Burst          int     `yaml:"burst"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RedisAddr      string  `yaml:"redis_addr"` // vacío → cache en memoria
	FixturesPath   string  `yaml:"fixtures_path"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// NotifyConfig controla las notificaciones.
type NotifyConfig struct {
	TelegramToken  string   `yaml:"telegram_token"`
	TelegramChatID int64    `yaml:"telegram_chat_id"`
	Events         []string `yaml:"events"` // vacío → todos
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // vacío → deshabilitado
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse interpreta YAML ya leído, aplica overrides de entorno, defaults y valida.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default devuelve la configuración por defecto (sin universo).
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// RefreshInterval devuelve el intervalo de refresco como time.Duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Engine.RefreshIntervalSeconds) * time.Second
}

// CycleInterval devuelve el intervalo del ciclo de decisión.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.CycleIntervalSeconds) * time.Second
}

// SnapshotTTL devuelve cuánto vale un snapshot cacheado.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Scoring.SnapshotTTLSeconds) * time.Second
}

// Validate rechaza configuraciones que romperían invariantes del ledger.
func (c *Config) Validate() error {
	var errs []error
	for name, b := range map[string]BookConfig{"equity": c.Books.Equity, "crypto": c.Books.Crypto} {
		if b.InitialCapital <= 0 {
			errs = append(errs, fmt.Errorf("books.%s.initial_capital must be > 0", name))
		}
		if b.MaxPositions <= 0 {
			errs = append(errs, fmt.Errorf("books.%s.max_positions must be > 0", name))
		}
		if b.ShortThreshold >= b.BuyThreshold {
			errs = append(errs, fmt.Errorf("books.%s.short_threshold must be below buy_threshold", name))
		}
	}
	if dup := duplicateSymbols(c.Books.Equity.Universe, c.Books.Crypto.Universe); len(dup) > 0 {
		errs = append(errs, fmt.Errorf("symbols listed in both books: %s", strings.Join(dup, ", ")))
	}
	if c.Risk.MinFraction > c.Risk.MaxFraction {
		errs = append(errs, errors.New("risk.min_fraction must not exceed risk.max_fraction"))
	}
	if c.Risk.DrawdownHalt <= 0 || c.Risk.DrawdownHalt >= 1 {
		errs = append(errs, errors.New("risk.drawdown_halt must be in (0, 1)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// duplicateSymbols devuelve los símbolos presentes en ambos universos.
// Cada símbolo pertenece a un único book.
func duplicateSymbols(equity, crypto []Instrument) []string {
	seen := make(map[string]bool, len(equity))
	for _, in := range equity {
		seen[in.Symbol] = true
	}
	var dup []string
	for _, in := range crypto {
		if seen[in.Symbol] {
			dup = append(dup, in.Symbol)
			seen[in.Symbol] = false
		}
	}
	return dup
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("MARKET_BASE_URL"); v != "" {
		cfg.Market.BaseURL = v
	}
	if v := os.Getenv("MARKET_API_KEY"); v != "" {
		cfg.Market.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Market.RedisAddr = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notify.TelegramChatID = id
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.RefreshIntervalSeconds <= 0 {
		e.RefreshIntervalSeconds = 60
	}
	if e.CycleIntervalSeconds <= 0 {
		e.CycleIntervalSeconds = 300
	}
	if e.MaxNewPositionsPerCycle == 0 {
		e.MaxNewPositionsPerCycle = 3
	}
	if e.StopFile == "" {
		e.StopFile = "STOP"
	}

	setBookDefaults(&cfg.Books.Equity, bookDefaults{
		capital: 70000, maxPositions: 8,
		buy: 7.0, sell: 4.0, short: 2.0, cover: 5.0,
		sl: 0.05, tp: 0.12, shortSL: 0.08, shortTP: 0.05, holdDays: 20,
		shortMinVolume: 50_000_000, shortMaxGain: 10, maxShorts: 3, maxShortExposure: 0.15,
		singlePct: 0.12, correlated: 0.30,
	})
	setBookDefaults(&cfg.Books.Crypto, bookDefaults{
		capital: 30000, maxPositions: 6,
		buy: 6.5, sell: 3.5, short: 2.5, cover: 5.0,
		sl: 0.12, tp: 0.25, shortSL: 0.08, shortTP: 0.05, holdDays: 10,
		shortMinVolume: 50_000_000, shortMaxGain: 10, maxShorts: 3, maxShortExposure: 0.15,
		singlePct: 0.15, correlated: 0.15,
	})
	if len(cfg.Books.Crypto.Majors) == 0 {
		cfg.Books.Crypto.Majors = []string{"BTC-USD", "ETH-USD"}
	}

	s := &cfg.Scoring
	if s.BaseScore <= 0 {
		s.BaseScore = 4.0
	}
	if s.EquityCeiling <= 0 {
		s.EquityCeiling = 10
	}
	if s.CryptoCeiling <= 0 {
		s.CryptoCeiling = 8
	}
	if s.RankingMinSample <= 0 {
		s.RankingMinSample = 5
	}
	if s.LargeCapEquity <= 0 {
		s.LargeCapEquity = 100e9
	}
	if s.LargeCapCrypto <= 0 {
		s.LargeCapCrypto = 50e9
	}
	if s.SnapshotTTLSeconds <= 0 {
		s.SnapshotTTLSeconds = 120
	}

	r := &cfg.Risk
	defaultFloat(&r.KellyScale, 0.25)
	defaultFloat(&r.MinFraction, 0.01)
	defaultFloat(&r.MaxFraction, 0.15)
	defaultFloat(&r.MinPositionSize, 100)
	defaultFloat(&r.MaxPositionPortfolio, 0.15)
	defaultFloat(&r.MaxSectorConcentration, 0.30)
	defaultFloat(&r.ConcentrationFactor, 0.5)
	defaultFloat(&r.DrawdownHalt, 0.15)
	defaultFloat(&r.DefensiveDrawdown, 0.075)
	defaultFloat(&r.DefensiveFactor, 0.5)
	if r.DrawdownLookbackDays <= 0 {
		r.DrawdownLookbackDays = 30
	}
	if r.EquityVolatility.Mild <= 0 {
		r.EquityVolatility = VolatilityTiers{
			Mild: 0.20, MildFactor: 0.8,
			Moderate: 0.30, ModerateFactor: 0.6,
			Severe: 0.45, SevereFactor: 0.4,
			Calm: 0.08, CalmFactor: 1.2,
		}
	}
	if r.CryptoVolatility.Mild <= 0 {
		r.CryptoVolatility = VolatilityTiers{
			Mild: 0.60, MildFactor: 0.9,
			Moderate: 0.80, ModerateFactor: 0.7,
			Severe: 1.20, SevereFactor: 0.5,
		}
	}

	g := &cfg.Guard
	if g.Equity.AfterOpenHours <= 0 {
		g.Equity = BookCooldowns{AfterOpenHours: 4, AfterCloseHours: 6, AfterLossHours: 24, MaxDailyTrades: 5}
	}
	if g.Crypto.AfterOpenHours <= 0 {
		g.Crypto = BookCooldowns{AfterOpenHours: 2, AfterCloseHours: 4, AfterLossHours: 12, MaxDailyTrades: 3}
	}
	if g.MaxDailyTotal <= 0 {
		g.MaxDailyTotal = 8
	}
	if g.ConsecutiveLosses <= 0 {
		g.ConsecutiveLosses = 3
	}
	defaultFloat(&g.LossThresholdPct, 15)
	if g.BlacklistDays <= 0 {
		g.BlacklistDays = 7
	}

	m := &cfg.Market
	defaultFloat(&m.RatePerSec, 5)
	if m.Burst <= 0 {
		m.Burst = 2
	}
	if m.MaxConcurrent <= 0 {
		m.MaxConcurrent = 4
	}
	if m.TimeoutSeconds <= 0 {
		m.TimeoutSeconds = 10
	}
	if e.FetchWorkers <= 0 {
		e.FetchWorkers = m.MaxConcurrent
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "engine.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

type bookDefaults struct {
	capital                                 float64
	maxPositions                            int
	buy, sell, short, cover                 float64
	sl, tp, shortSL, shortTP                float64
	holdDays                                int
	shortMinVolume, shortMaxGain            float64
	maxShorts                               int
	maxShortExposure, singlePct, correlated float64
}

func setBookDefaults(b *BookConfig, d bookDefaults) {
	defaultFloat(&b.InitialCapital, d.capital)
	if b.MaxPositions <= 0 {
		b.MaxPositions = d.maxPositions
	}
	defaultFloat(&b.BuyThreshold, d.buy)
	defaultFloat(&b.SellThreshold, d.sell)
	defaultFloat(&b.ShortThreshold, d.short)
	defaultFloat(&b.ShortCoverThreshold, d.cover)
	defaultFloat(&b.StopLossPct, d.sl)
	defaultFloat(&b.TakeProfitPct, d.tp)
	defaultFloat(&b.ShortStopLossPct, d.shortSL)
	defaultFloat(&b.ShortTakeProfitPct, d.shortTP)
	if b.MaxHoldDays <= 0 {
		b.MaxHoldDays = d.holdDays
	}
	defaultFloat(&b.ShortMinVolume, d.shortMinVolume)
	defaultFloat(&b.ShortMaxRecentGainPct, d.shortMaxGain)
	if b.ShortMinConfirmations <= 0 {
		b.ShortMinConfirmations = 2
	}
	if b.MaxShortPositions <= 0 {
		b.MaxShortPositions = d.maxShorts
	}
	defaultFloat(&b.MaxShortExposurePct, d.maxShortExposure)
	defaultFloat(&b.MaxSinglePositionPct, d.singlePct)
	defaultFloat(&b.MaxCorrelatedExposure, d.correlated)
}

func defaultFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}
