package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/config"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/adapters/notify"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one decision cycle and exit")
	dryRun := flag.Bool("dry-run", false, "use local fixtures and in-memory storage")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables (default: compact 1-line)")
	summary := flag.Bool("summary", false, "print portfolio summary and exit")
	positions := flag.Bool("positions", false, "print open positions and guard state and exit")
	closeSym := flag.String("close", "", "close the position for SYMBOL and exit")
	force := flag.Bool("force", false, "allow -close on MANUAL positions")
	openSym := flag.String("open", "", "register a MANUAL position for SYMBOL and exit")
	book := flag.String("book", "", "book for -open/-close (default equity) and -summary (default both): equity|crypto")
	side := flag.String("side", "long", "side for -open: long|short")
	qty := flag.String("qty", "", "quantity for -open")
	price := flag.String("price", "", "entry price for -open (default: current price)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("engine starting",
		"config", *configPath,
		"cycle_interval", cfg.CycleInterval(),
		"refresh_interval", cfg.RefreshInterval(),
		"dry_run", *dryRun,
		"once", *once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := notify.NewConsole(*table)
	rec := metrics.New()

	app, err := build(ctx, cfg, *dryRun, console, rec)
	if err != nil {
		slog.Error("failed to start engine", "err", err)
		os.Exit(1)
	}
	defer app.close()

	if err := app.engine.Load(ctx); err != nil {
		slog.Error("failed to load persisted state", "err", err)
		os.Exit(1)
	}

	cmd := command{
		summary:   *summary,
		positions: *positions,
		closeSym:  *closeSym,
		force:     *force,
		openSym:   *openSym,
		book:      *book,
		side:      *side,
		qty:       *qty,
		price:     *price,
	}
	if handled, err := cmd.run(ctx, app.engine, console); handled {
		if err != nil {
			slog.Error("command failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if *once {
		console.PrintCycleReport(app.engine.RunCycle(ctx))
		return
	}

	if cfg.Metrics.ListenAddr != "" {
		srv := serveMetrics(cfg.Metrics.ListenAddr, rec)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("engine running, press Ctrl+C or create the STOP file to exit", "stop_file", cfg.Engine.StopFile)
	if err := app.engine.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	summaries, err := app.engine.PortfolioSummary(nil)
	if err == nil {
		console.PrintSummary(summaries)
	}
	slog.Info("engine stopped cleanly")
}

func serveMetrics(addr string, rec *metrics.Recorder) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err)
		}
	}()
	return srv
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
