package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/portfolio"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/application/risk"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

// bookScan es lo que la fase de datos deja preparado para las decisiones de un book.
type bookScan struct {
	book    domain.Book
	snaps   map[string]domain.MarketSnapshot
	records map[string]domain.ScoreRecord
	ranked  []domain.ScoreRecord
	errors  []domain.SymbolError
	stopped bool
}

// bookOutcome acumula lo que las decisiones de un book producen.
type bookOutcome struct {
	actions []domain.CycleAction
	skipped []domain.SkippedOpportunity
	errors  []domain.SymbolError
	stopped bool
}

func (o *bookOutcome) skip(book domain.Book, symbol string, side domain.Side, reason domain.RejectReason, detail string) {
	o.skipped = append(o.skipped, domain.SkippedOpportunity{
		Book: book, Symbol: symbol, Side: side, Reason: reason, Detail: detail,
	})
	slog.Debug("entry skipped", "book", book, "symbol", symbol, "side", side, "reason", reason, "detail", detail)
}

func (o *bookOutcome) fail(book domain.Book, symbol, stage string, err error) {
	o.errors = append(o.errors, domain.SymbolError{Book: book, Symbol: symbol, Stage: stage, Err: err.Error()})
	slog.Warn("cycle: symbol failed", "book", book, "symbol", symbol, "stage", stage, "err", err)
}

// RunCycle ejecuta un ciclo de decisión completo:
//
//  1. flush de lo pendiente y purga del guard
//  2. por book en paralelo: snapshots, scoring y refresco de precios
//  3. drawdown sobre el valor total
//  4. por book en paralelo: salidas, entradas LONG, entradas SHORT
//  5. informe, persistencia del ciclo, métricas y notificaciones
//
// Un fallo de un símbolo nunca aborta el ciclo. Si el contexto se cancela, el
// ciclo termina tras la unidad de trabajo en curso y el informe queda marcado Stopped.
func (e *Engine) RunCycle(ctx context.Context) domain.CycleReport {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	rep := domain.CycleReport{
		StartedAt: e.now(),
		Scores:    make(map[domain.Book][]domain.ScoreRecord),
	}
	e.flush(ctx)
	e.guard.Purge(ctx)

	books := e.books()
	scans := make([]*bookScan, len(books))
	var fetch errgroup.Group
	for i, book := range books {
		fetch.Go(func() error {
			scans[i] = e.scan(ctx, book)
			return nil
		})
	}
	_ = fetch.Wait()

	for _, s := range scans {
		rep.Scanned += len(s.snaps)
		rep.Scores[s.book] = s.ranked
		rep.Errors = append(rep.Errors, s.errors...)
		rep.Stopped = rep.Stopped || s.stopped
	}
	if ctx.Err() != nil {
		rep.Stopped = true
		e.finish(ctx, &rep)
		return rep
	}

	dd := e.drawdown.Observe(rep.StartedAt, e.portfolio.TotalValue().InexactFloat64())
	rep.Drawdown = dd.Drawdown
	rep.Halted = dd.Halted
	rep.Defensive = dd.Defensive
	e.trackHalt(dd)

	budget := newEntryBudget(e.cfg.MaxNewPositionsPerCycle)
	outcomes := make([]*bookOutcome, len(books))
	var decisions errgroup.Group
	for i := range scans {
		decisions.Go(func() error {
			outcomes[i] = e.decide(ctx, scans[i], dd, budget)
			return nil
		})
	}
	_ = decisions.Wait()

	for _, o := range outcomes {
		rep.Actions = append(rep.Actions, o.actions...)
		rep.Skipped = append(rep.Skipped, o.skipped...)
		rep.Errors = append(rep.Errors, o.errors...)
		rep.Stopped = rep.Stopped || o.stopped
	}

	e.finish(ctx, &rep)
	return rep
}

// scan obtiene snapshots del universo y de las posiciones abiertas del book,
// los puntúa y refresca los precios de las posiciones.
func (e *Engine) scan(ctx context.Context, book domain.Book) *bookScan {
	bc := e.cfg.Books[book]
	s := &bookScan{book: book, records: make(map[string]domain.ScoreRecord)}

	open := e.portfolio.Positions(portfolio.PositionFilter{Book: &book})
	symbols := make([]string, 0, len(bc.Universe)+len(open))
	for _, in := range bc.Universe {
		symbols = append(symbols, in.Symbol)
	}
	for _, p := range open {
		symbols = append(symbols, p.Symbol)
	}

	res := e.scanner.Fetch(ctx, symbols)
	s.snaps = res.Snapshots
	s.stopped = res.Stopped

	valid := make([]domain.MarketSnapshot, 0, len(res.Snapshots))
	for _, snap := range res.Snapshots {
		valid = append(valid, snap)
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Symbol < valid[j].Symbol })
	s.ranked = e.scoring.ScoreAll(book, valid)

	failed := make([]string, 0, len(res.Errors))
	for sym := range res.Errors {
		failed = append(failed, sym)
	}
	sort.Strings(failed)
	for _, sym := range failed {
		err := res.Errors[sym]
		s.errors = append(s.errors, domain.SymbolError{Book: book, Symbol: sym, Stage: "fetch", Err: err.Error()})
		// Un snapshot inválido se informa con score neutral degradado; nunca dispara acciones.
		if errors.Is(err, domain.ErrInvalidSnapshot) {
			s.ranked = append(s.ranked, e.scoring.Score(book, domain.MarketSnapshot{Symbol: sym}))
		}
	}
	for _, r := range s.ranked {
		s.records[r.Symbol] = r
	}

	for _, p := range open {
		snap, ok := s.snaps[p.Symbol]
		if !ok {
			continue
		}
		err := e.portfolio.UpdatePrice(ctx, book, p.Symbol, decimal.NewFromFloat(snap.Price), domain.SourceAutomated)
		if err != nil && !domain.IsRejection(err) {
			s.errors = append(s.errors, domain.SymbolError{Book: book, Symbol: p.Symbol, Stage: "price", Err: err.Error()})
		}
	}
	return s
}

// decide ejecuta, en orden, las salidas y las entradas de un book.
func (e *Engine) decide(ctx context.Context, s *bookScan, dd risk.DrawdownState, budget *entryBudget) *bookOutcome {
	out := &bookOutcome{}
	e.exitPass(ctx, s, dd, out)
	if out.stopped {
		return out
	}
	if s.book == domain.BookEquity && e.cfg.EquityMarketHours && !equityMarketOpen(e.now()) {
		slog.Debug("cycle: equity market closed, entries skipped")
		return out
	}
	e.longPass(ctx, s, dd, budget, out)
	if out.stopped {
		return out
	}
	e.shortPass(ctx, s, dd, budget, out)
	return out
}

func (e *Engine) exitPass(ctx context.Context, s *bookScan, dd risk.DrawdownState, out *bookOutcome) {
	bc := e.cfg.Books[s.book]
	liquidate := dd.Halted && !e.cfg.HoldOnHalt
	now := e.now()

	for _, p := range e.portfolio.Positions(portfolio.PositionFilter{Book: &s.book}) {
		if ctx.Err() != nil {
			out.stopped = true
			return
		}
		if p.Source == domain.SourceManual {
			continue
		}
		snap, ok := s.snaps[p.Symbol]
		if !ok {
			// sin precio fresco no se decide nada sobre la posición
			continue
		}
		rec, hasRec := s.records[p.Symbol]
		reason := exitReason(p, rec, hasRec, bc, now, liquidate)
		if reason == "" {
			continue
		}

		trade, err := e.portfolio.Close(ctx, portfolio.CloseRequest{
			Book:   s.book,
			Symbol: p.Symbol,
			Price:  decimal.NewFromFloat(snap.Price),
			Reason: reason,
		})
		if err != nil {
			out.fail(s.book, p.Symbol, "exit", err)
			continue
		}
		e.afterClose(ctx, trade)
		out.actions = append(out.actions, domain.CycleAction{
			Kind:     domain.ActionCloseKind,
			Book:     s.book,
			Symbol:   p.Symbol,
			Side:     p.Side,
			Price:    trade.ExitPrice,
			Quantity: trade.Quantity,
			Amount:   trade.Proceeds,
			PnL:      trade.RealizedPnL,
			Score:    rec.Score,
			Reason:   reason,
		})
	}
}

// afterClose registra el resultado en el guard y avisa al operador.
func (e *Engine) afterClose(ctx context.Context, t domain.ClosedTrade) {
	pnl := t.RealizedPnL
	e.guard.RecordOutcome(ctx, domain.Outcome{
		Symbol:         t.Symbol,
		Book:           t.Book,
		Action:         domain.ActionClose,
		Price:          t.ExitPrice,
		RealizedPnL:    &pnl,
		RealizedPnLPct: t.RealizedPnLPct.InexactFloat64(),
	})
	e.notify(ports.EventPositionClosed, t.Symbol, fmt.Sprintf("%s %s %s closed @ %s, P&L %s (%s%%): %s",
		t.Book, t.Side, t.Symbol, t.ExitPrice.StringFixed(2),
		t.RealizedPnL.StringFixed(2), t.RealizedPnLPct.StringFixed(1), t.Reason))
}

func (e *Engine) longPass(ctx context.Context, s *bookScan, dd risk.DrawdownState, budget *entryBudget, out *bookOutcome) {
	bc := e.cfg.Books[s.book]
	cands := e.candidates(s, func(r domain.ScoreRecord) bool { return r.Score >= bc.BuyThreshold })
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })

	for _, rec := range cands {
		if ctx.Err() != nil {
			out.stopped = true
			return
		}
		e.tryEnter(ctx, s, rec, domain.SideLong, rec.Score, dd, budget, out)
	}
}

func (e *Engine) shortPass(ctx context.Context, s *bookScan, dd risk.DrawdownState, budget *entryBudget, out *bookOutcome) {
	bc := e.cfg.Books[s.book]
	if !bc.ShortsEnabled {
		return
	}
	cands := e.candidates(s, func(r domain.ScoreRecord) bool { return r.Score <= bc.ShortThreshold })
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score < cands[j].Score })

	for _, rec := range cands {
		if ctx.Err() != nil {
			out.stopped = true
			return
		}
		if detail := e.shortFilter(s.book, bc, s.snaps[rec.Symbol]); detail != "" {
			out.skip(s.book, rec.Symbol, domain.SideShort, domain.ReasonShortFilter, detail)
			continue
		}
		e.tryEnter(ctx, s, rec, domain.SideShort, 10-rec.Score, dd, budget, out)
	}
}

// candidates devuelve los registros no degradados del universo, sin posición
// abierta en el book, que cumplen match. Orden por símbolo.
func (e *Engine) candidates(s *bookScan, match func(domain.ScoreRecord) bool) []domain.ScoreRecord {
	var out []domain.ScoreRecord
	for _, r := range s.ranked {
		if r.Degraded || !e.inUniverse(s.book, r.Symbol) || !match(r) {
			continue
		}
		if _, held := e.portfolio.Position(s.book, r.Symbol); held {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// shortFilter aplica los filtros previos a un SHORT. Devuelve el motivo del
// descarte o "" si el candidato pasa.
func (e *Engine) shortFilter(book domain.Book, bc BookConfig, snap domain.MarketSnapshot) string {
	if snap.Volume < bc.ShortMinVolume {
		return fmt.Sprintf("volume %.0f below %.0f", snap.Volume, bc.ShortMinVolume)
	}
	if snap.PercentChange > bc.ShortMaxRecentGainPct {
		return fmt.Sprintf("recent gain %.1f%% above %.1f%%", snap.PercentChange, bc.ShortMaxRecentGainPct)
	}
	if n := bearishConfirmations(snap); n < bc.ShortMinConfirmations {
		return fmt.Sprintf("%d bearish confirmations, need %d", n, bc.ShortMinConfirmations)
	}
	shorts := 0
	for _, p := range e.portfolio.Positions(portfolio.PositionFilter{Book: &book}) {
		if p.Side == domain.SideShort {
			shorts++
		}
	}
	if bc.MaxShortPositions > 0 && shorts >= bc.MaxShortPositions {
		return fmt.Sprintf("%d/%d short positions", shorts, bc.MaxShortPositions)
	}
	return ""
}

// tryEnter pasa un candidato por los gates en orden: drawdown, capacidad,
// guard, sizing y ledger. Ninguno se salta.
func (e *Engine) tryEnter(
	ctx context.Context,
	s *bookScan,
	rec domain.ScoreRecord,
	side domain.Side,
	confidence float64,
	dd risk.DrawdownState,
	budget *entryBudget,
	out *bookOutcome,
) {
	book, symbol := s.book, rec.Symbol
	if dd.Halted {
		out.skip(book, symbol, side, domain.ReasonDrawdownHalt, fmt.Sprintf("drawdown %.1f%%", dd.Drawdown*100))
		return
	}
	ledger, err := e.portfolio.Ledger(book)
	if err != nil {
		out.fail(book, symbol, "entry", err)
		return
	}
	if !ledger.HasCapacity() {
		out.skip(book, symbol, side, domain.ReasonPositionLimitReached,
			fmt.Sprintf("%d/%d positions", ledger.PositionCount, ledger.MaxPositions))
		return
	}
	if ok, why := e.guard.CanTrade(ctx, symbol, book, domain.ActionOpen); !ok {
		out.skip(book, symbol, side, domain.ReasonGuardRejected, why)
		return
	}

	alloc, err := e.portfolio.Allocation(book)
	if err != nil {
		out.fail(book, symbol, "entry", err)
		return
	}
	snap := s.snaps[symbol]
	price := decimal.NewFromFloat(snap.Price)
	dec := e.sizer.Size(risk.Request{
		Book:       book,
		Symbol:     symbol,
		Sector:     e.sectors[book][symbol],
		Confidence: confidence,
		Price:      price,
		Volatility: snap.Volatility,
		Defensive:  dd.Defensive,
	}, alloc)
	if !dec.Approved {
		out.skip(book, symbol, side, domain.ReasonBelowMinimumSize, dec.Reason)
		return
	}
	if side == domain.SideShort {
		if detail := e.shortExposureExceeded(book, alloc, dec.Amount); detail != "" {
			out.skip(book, symbol, side, domain.ReasonShortFilter, detail)
			return
		}
	}
	if !budget.take() {
		out.skip(book, symbol, side, domain.ReasonPositionLimitReached,
			fmt.Sprintf("max %d new positions per cycle", e.cfg.MaxNewPositionsPerCycle))
		return
	}

	pos, err := e.portfolio.Open(ctx, portfolio.OpenRequest{
		Book:     book,
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: dec.Quantity,
		Source:   domain.SourceAutomated,
		Sector:   e.sectors[book][symbol],
		Notes:    fmt.Sprintf("score %.1f (%s)", rec.Score, rec.Tier),
	})
	if err != nil {
		budget.refund()
		if domain.IsRejection(err) {
			out.skip(book, symbol, side, domain.RejectionReason(err), err.Error())
			return
		}
		out.fail(book, symbol, "entry", err)
		return
	}

	e.guard.RecordOutcome(ctx, domain.Outcome{Symbol: symbol, Book: book, Action: domain.ActionOpen, Price: price})
	kind := domain.ActionOpenLong
	if side == domain.SideShort {
		kind = domain.ActionOpenShort
	}
	out.actions = append(out.actions, domain.CycleAction{
		Kind:     kind,
		Book:     book,
		Symbol:   symbol,
		Side:     side,
		Price:    pos.EntryPrice,
		Quantity: pos.Quantity,
		Amount:   pos.Cost(),
		Score:    rec.Score,
		Reason:   fmt.Sprintf("score %.1f", rec.Score),
	})
	e.notify(ports.EventPositionOpened, symbol, fmt.Sprintf("%s %s %s qty %s @ %s (score %.1f, stop %s, target %s)",
		book, side, symbol, pos.Quantity.String(), pos.EntryPrice.StringFixed(2), rec.Score,
		pos.StopLoss.StringFixed(2), pos.TakeProfit.StringFixed(2)))
}

// shortExposureExceeded comprueba el tope de exposición corta del book con el
// importe nuevo incluido.
func (e *Engine) shortExposureExceeded(book domain.Book, alloc domain.Allocation, amount decimal.Decimal) string {
	bc := e.cfg.Books[book]
	if bc.MaxShortExposurePct <= 0 {
		return ""
	}
	exposure := decimal.Zero
	for _, p := range e.portfolio.Positions(portfolio.PositionFilter{Book: &book}) {
		if p.Side == domain.SideShort {
			exposure = exposure.Add(p.Cost())
		}
	}
	limit := alloc.BookValue.Mul(decimal.NewFromFloat(bc.MaxShortExposurePct))
	if exposure.Add(amount).GreaterThan(limit) {
		return fmt.Sprintf("short exposure %s + %s above %s",
			exposure.StringFixed(2), amount.StringFixed(2), limit.StringFixed(2))
	}
	return ""
}

// trackHalt notifica la activación del circuit breaker una sola vez.
func (e *Engine) trackHalt(dd risk.DrawdownState) {
	switch {
	case dd.Halted && !e.halted:
		slog.Warn("drawdown halt: new entries blocked",
			"drawdown", fmt.Sprintf("%.1f%%", dd.Drawdown*100), "peak", dd.Peak, "current", dd.Current)
		e.notify(ports.EventDrawdownHalt, "", fmt.Sprintf("drawdown %.1f%% from peak $%.2f, new entries halted",
			dd.Drawdown*100, dd.Peak))
	case !dd.Halted && e.halted:
		slog.Info("drawdown recovered: entries resumed", "drawdown", fmt.Sprintf("%.1f%%", dd.Drawdown*100))
	}
	e.halted = dd.Halted
}

// finish cierra el informe: valor final, persistencia, métricas y resumen.
// Usa un contexto sin cancelación para que un ciclo detenido siga persistiendo.
func (e *Engine) finish(ctx context.Context, rep *domain.CycleReport) {
	pctx := context.WithoutCancel(ctx)
	rep.Value = e.portfolio.TotalValue()
	rep.FinishedAt = e.now()

	e.flush(pctx)
	if e.cycles != nil {
		if err := e.cycles.SaveCycle(pctx, *rep); err != nil {
			slog.Warn("engine: save cycle failed", "err", err)
		}
	}

	e.metrics.ObserveCycle(*rep)
	for _, book := range e.books() {
		if sum, err := e.portfolio.Summary(book); err == nil {
			e.metrics.ObserveBook(sum)
		}
	}

	opened := rep.CountActions(domain.ActionOpenLong) + rep.CountActions(domain.ActionOpenShort)
	closed := rep.CountActions(domain.ActionCloseKind)
	if opened+closed > 0 || len(rep.Errors) > 0 {
		e.notify(ports.EventCycleSummary, "", fmt.Sprintf(
			"opened %d, closed %d, skipped %d, errors %d, drawdown %.1f%%, value $%s",
			opened, closed, len(rep.Skipped), len(rep.Errors), rep.Drawdown*100, rep.Value.StringFixed(2)))
	}

	slog.Info("cycle complete",
		"scanned", rep.Scanned,
		"opened", opened,
		"closed", closed,
		"skipped", len(rep.Skipped),
		"errors", len(rep.Errors),
		"drawdown", fmt.Sprintf("%.2f%%", rep.Drawdown*100),
		"halted", rep.Halted,
		"stopped", rep.Stopped,
		"elapsed", rep.Duration(),
	)
}
