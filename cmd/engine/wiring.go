package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cristian-anAI/stock-analyzer-sub000/config"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/adapters/cache"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/adapters/marketdata"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/adapters/notify"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/adapters/storage"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/engine"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/guard"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/portfolio"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/risk"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/scoring"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/metrics"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

const defaultFixtures = "config/fixtures.example.yaml"

// app agrupa el engine y los recursos que hay que cerrar al salir.
type app struct {
	engine  *engine.Engine
	closers []func() error
}

func (a *app) close() {
	if err := a.engine.Close(); err != nil {
		slog.Warn("engine close", "err", err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close resource", "err", err)
		}
	}
}

// build conecta adapters y componentes a partir de la configuración.
func build(ctx context.Context, cfg *config.Config, dryRun bool, console *notify.Console, rec *metrics.Recorder) (*app, error) {
	a := &app{}

	dsn := cfg.Storage.DSN
	if dryRun {
		dsn = ":memory:"
	}
	store, err := storage.NewSQLiteStorage(dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", dsn, err)
	}
	a.closers = append(a.closers, store.Close)

	market, err := buildMarket(ctx, cfg, dryRun, a)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	senders := []notify.Sender{console}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 && !dryRun {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			slog.Warn("telegram disabled", "err", err)
		} else {
			senders = append(senders, tg)
		}
	}

	now := time.Now
	pm := portfolio.NewManager(store, bookSettings(cfg), portfolio.WithClock(now))
	dd := risk.NewDrawdownMonitor(cfg.Risk.DrawdownHalt, cfg.Risk.DefensiveDrawdown, lookback(cfg))
	eng := engine.New(engineConfig(cfg), engine.Deps{
		Market:    market,
		Portfolio: pm,
		Scoring:   scoring.New(scoringConfig(cfg)),
		Sizer:     risk.NewSizer(riskConfig(cfg)),
		Guard:     guard.New(guardConfig(cfg), store, guard.WithClock(now)),
		Drawdown:  dd,
		Cycles:    store,
		Notifier:  notify.NewNotifier(senders, cfg.Notify.Events),
		Metrics:   rec,
	}, engine.WithClock(now), engine.WithReportHandler(console.PrintCycleReport))

	a.engine = eng
	return a, nil
}

func (a *app) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// buildMarket devuelve fixtures en dry-run, o el cliente HTTP detrás de la cache
// (Redis si hay dirección, memoria si no).
func buildMarket(ctx context.Context, cfg *config.Config, dryRun bool, a *app) (ports.MarketData, error) {
	if dryRun || cfg.Market.BaseURL == "" {
		path := cfg.Market.FixturesPath
		if path == "" {
			path = defaultFixtures
		}
		fx, err := marketdata.LoadFixtures(path)
		if err != nil {
			return nil, fmt.Errorf("load fixtures: %w", err)
		}
		slog.Info("market data from fixtures", "path", path)
		return fx, nil
	}

	client := marketdata.NewClient(marketdata.Config{
		BaseURL:       cfg.Market.BaseURL,
		APIKey:        cfg.Market.APIKey,
		RatePerSec:    cfg.Market.RatePerSec,
		Burst:         cfg.Market.Burst,
		MaxConcurrent: int64(cfg.Market.MaxConcurrent),
		Timeout:       time.Duration(cfg.Market.TimeoutSeconds) * time.Second,
	})

	var snapCache ports.SnapshotCache = cache.NewMemory()
	if cfg.Market.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{Addr: cfg.Market.RedisAddr})
		if err != nil {
			slog.Warn("redis unavailable, using in-memory snapshot cache", "addr", cfg.Market.RedisAddr, "err", err)
		} else {
			snapCache = rc
			a.closers = append(a.closers, rc.Close)
		}
	}
	return marketdata.NewCached(client, snapCache, cfg.SnapshotTTL()), nil
}

func lookback(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Risk.DrawdownLookbackDays) * 24 * time.Hour
}

func hours(h float64) time.Duration { return time.Duration(h * float64(time.Hour)) }

func bookSettings(cfg *config.Config) []portfolio.BookSettings {
	settings := func(book domain.Book, b config.BookConfig) portfolio.BookSettings {
		return portfolio.BookSettings{
			Book:               book,
			InitialCapital:     decimal.NewFromFloat(b.InitialCapital),
			MaxPositions:       b.MaxPositions,
			StopLossPct:        b.StopLossPct,
			TakeProfitPct:      b.TakeProfitPct,
			ShortStopLossPct:   b.ShortStopLossPct,
			ShortTakeProfitPct: b.ShortTakeProfitPct,
		}
	}
	return []portfolio.BookSettings{
		settings(domain.BookEquity, cfg.Books.Equity),
		settings(domain.BookCrypto, cfg.Books.Crypto),
	}
}

func scoringConfig(cfg *config.Config) scoring.Config {
	return scoring.Config{
		BaseScore:        cfg.Scoring.BaseScore,
		EquityCeiling:    cfg.Scoring.EquityCeiling,
		CryptoCeiling:    cfg.Scoring.CryptoCeiling,
		RankingEnabled:   cfg.Scoring.RankingEnabled,
		RankingMinSample: cfg.Scoring.RankingMinSample,
		LargeCapEquity:   cfg.Scoring.LargeCapEquity,
		LargeCapCrypto:   cfg.Scoring.LargeCapCrypto,
		CryptoMajors:     cfg.Books.Crypto.Majors,
	}
}

func riskConfig(cfg *config.Config) risk.Config {
	tiers := func(v config.VolatilityTiers) risk.VolatilityTiers {
		return risk.VolatilityTiers{
			Mild: v.Mild, MildFactor: v.MildFactor,
			Moderate: v.Moderate, ModerateFactor: v.ModerateFactor,
			Severe: v.Severe, SevereFactor: v.SevereFactor,
			Calm: v.Calm, CalmFactor: v.CalmFactor,
		}
	}
	r := cfg.Risk
	return risk.Config{
		KellyScale:             r.KellyScale,
		MinFraction:            r.MinFraction,
		MaxFraction:            r.MaxFraction,
		MinPositionSize:        r.MinPositionSize,
		MaxPositionPortfolio:   r.MaxPositionPortfolio,
		MaxSectorConcentration: r.MaxSectorConcentration,
		ConcentrationFactor:    r.ConcentrationFactor,
		DefensiveFactor:        r.DefensiveFactor,
		Books: map[domain.Book]risk.BookLimits{
			domain.BookEquity: {
				MaxSinglePositionPct:  cfg.Books.Equity.MaxSinglePositionPct,
				MaxCorrelatedExposure: cfg.Books.Equity.MaxCorrelatedExposure,
				Volatility:            tiers(r.EquityVolatility),
			},
			domain.BookCrypto: {
				MaxSinglePositionPct:  cfg.Books.Crypto.MaxSinglePositionPct,
				MaxCorrelatedExposure: cfg.Books.Crypto.MaxCorrelatedExposure,
				Majors:                cfg.Books.Crypto.Majors,
				Volatility:            tiers(r.CryptoVolatility),
			},
		},
	}
}

func guardConfig(cfg *config.Config) guard.Config {
	rules := func(c config.BookCooldowns) guard.BookRules {
		return guard.BookRules{
			AfterOpen:      hours(c.AfterOpenHours),
			AfterClose:     hours(c.AfterCloseHours),
			AfterLoss:      hours(c.AfterLossHours),
			MaxDailyTrades: c.MaxDailyTrades,
		}
	}
	g := cfg.Guard
	return guard.Config{
		Books: map[domain.Book]guard.BookRules{
			domain.BookEquity: rules(g.Equity),
			domain.BookCrypto: rules(g.Crypto),
		},
		MaxDailyTotal:     g.MaxDailyTotal,
		ConsecutiveLosses: g.ConsecutiveLosses,
		LossThresholdPct:  g.LossThresholdPct,
		BlacklistDuration: time.Duration(g.BlacklistDays) * 24 * time.Hour,
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	book := func(b config.BookConfig) engine.BookConfig {
		universe := make([]engine.Instrument, len(b.Universe))
		for i, in := range b.Universe {
			universe[i] = engine.Instrument{Symbol: in.Symbol, Sector: in.Sector}
		}
		return engine.BookConfig{
			Universe:              universe,
			BuyThreshold:          b.BuyThreshold,
			SellThreshold:         b.SellThreshold,
			ShortThreshold:        b.ShortThreshold,
			ShortCoverThreshold:   b.ShortCoverThreshold,
			MaxHold:               time.Duration(b.MaxHoldDays) * 24 * time.Hour,
			ShortsEnabled:         b.ShortsEnabled,
			ShortMinVolume:        b.ShortMinVolume,
			ShortMaxRecentGainPct: b.ShortMaxRecentGainPct,
			ShortMinConfirmations: b.ShortMinConfirmations,
			MaxShortPositions:     b.MaxShortPositions,
			MaxShortExposurePct:   b.MaxShortExposurePct,
		}
	}
	return engine.Config{
		Books: map[domain.Book]engine.BookConfig{
			domain.BookEquity: book(cfg.Books.Equity),
			domain.BookCrypto: book(cfg.Books.Crypto),
		},
		RefreshInterval:         cfg.RefreshInterval(),
		CycleInterval:           cfg.CycleInterval(),
		MaxNewPositionsPerCycle: cfg.Engine.MaxNewPositionsPerCycle,
		FetchWorkers:            cfg.Engine.FetchWorkers,
		HoldOnHalt:              cfg.Engine.HoldOnHalt,
		EquityMarketHours:       cfg.Engine.EquityMarketHours,
		StopFile:                cfg.Engine.StopFile,
		DrawdownLookback:        lookback(cfg),
	}
}
