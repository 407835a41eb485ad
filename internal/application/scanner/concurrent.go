// Package scanner refresca snapshots de un universo de símbolos en paralelo.
package scanner

// concurrent.go: worker pool para el fetch de snapshots.
//
// Un ciclo con ~15 símbolos por book tarda ~N×latencia en secuencial; con el pool
// queda acotado por el rate limiter del proveedor, que sigue siendo quien manda.

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

// Result es el resultado de un fetch: snapshots válidos y errores por símbolo.
// Un fallo de un símbolo nunca afecta a los demás.
type Result struct {
	Snapshots map[string]domain.MarketSnapshot
	Errors    map[string]error
	Stopped   bool // el contexto se canceló antes de encolar todo
	Elapsed   time.Duration
}

// Scanner obtiene snapshots con un número acotado de workers.
type Scanner struct {
	source  ports.MarketData
	workers int
}

// New crea un Scanner. Si workers <= 0 usa runtime.NumCPU().
func New(source ports.MarketData, workers int) *Scanner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Scanner{source: source, workers: workers}
}

// Fetch pide el snapshot de cada símbolo (sin duplicados) y espera a todos.
// Si el contexto se cancela deja de encolar; lo ya encolado termina o falla con ctx.
func (s *Scanner) Fetch(ctx context.Context, symbols []string) Result {
	start := time.Now()
	symbols = dedupe(symbols)

	type outcome struct {
		symbol string
		snap   domain.MarketSnapshot
		err    error
	}

	workers := s.workers
	if workers > len(symbols) {
		workers = len(symbols)
	}

	workCh := make(chan string, len(symbols))
	resultCh := make(chan outcome, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range workCh {
				snap, err := s.source.Snapshot(ctx, sym)
				if err == nil {
					err = snap.Validate()
				}
				resultCh <- outcome{symbol: sym, snap: snap, err: err}
			}
		}()
	}

	res := Result{
		Snapshots: make(map[string]domain.MarketSnapshot, len(symbols)),
		Errors:    make(map[string]error),
	}

	queued := 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			res.Stopped = true
			break
		}
		workCh <- sym
		queued++
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for o := range resultCh {
		if o.err != nil {
			res.Errors[o.symbol] = o.err
			slog.Debug("snapshot fetch failed", "symbol", o.symbol, "err", o.err)
			continue
		}
		res.Snapshots[o.symbol] = o.snap
	}
	res.Elapsed = time.Since(start)

	slog.Debug("snapshot fetch complete",
		"queued", queued,
		"ok", len(res.Snapshots),
		"failed", len(res.Errors),
		"workers", workers,
		"elapsed", res.Elapsed,
	)
	return res
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
