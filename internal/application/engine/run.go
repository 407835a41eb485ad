package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// Run ejecuta el bucle de control hasta que el contexto se cancele o aparezca
// el archivo de parada. El refresco de precios va anidado dentro de la cadencia
// del ciclo de decisión; si RefreshInterval >= CycleInterval no hay refresco aparte.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.CycleInterval <= 0 {
		return fmt.Errorf("engine.Run: cycle interval must be > 0, got %s", e.cfg.CycleInterval)
	}
	cycle := time.NewTicker(e.cfg.CycleInterval)
	defer cycle.Stop()

	var refreshC <-chan time.Time
	if e.cfg.RefreshInterval > 0 && e.cfg.RefreshInterval < e.cfg.CycleInterval {
		refresh := time.NewTicker(e.cfg.RefreshInterval)
		defer refresh.Stop()
		refreshC = refresh.C
	}

	slog.Info("engine running",
		"cycle_interval", e.cfg.CycleInterval,
		"refresh_interval", e.cfg.RefreshInterval,
		"stop_file", e.cfg.StopFile,
	)

	e.report(e.RunCycle(ctx))

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopped", "reason", ctx.Err())
			return nil
		case <-cycle.C:
			if e.stopRequested() {
				return nil
			}
			e.report(e.RunCycle(ctx))
		case <-refreshC:
			if e.stopRequested() {
				return nil
			}
			e.RefreshPrices(ctx)
		}
	}
}

func (e *Engine) report(rep domain.CycleReport) {
	if e.onReport != nil {
		e.onReport(rep)
	}
}

// stopRequested detecta el archivo de parada y lo elimina para el próximo arranque.
func (e *Engine) stopRequested() bool {
	if e.cfg.StopFile == "" {
		return false
	}
	if _, err := os.Stat(e.cfg.StopFile); err != nil {
		return false
	}
	if err := os.Remove(e.cfg.StopFile); err != nil {
		slog.Warn("engine: could not remove stop file", "path", e.cfg.StopFile, "err", err)
	}
	slog.Info("STOP file detected, shutting down", "path", e.cfg.StopFile)
	return true
}
