package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorder_ObserveCycle(t *testing.T) {
	r := New()
	start := time.Now()
	r.ObserveCycle(domain.CycleReport{
		StartedAt:  start,
		FinishedAt: start.Add(300 * time.Millisecond),
		Actions: []domain.CycleAction{
			{Kind: domain.ActionOpenLong, Book: domain.BookEquity},
			{Kind: domain.ActionOpenLong, Book: domain.BookEquity},
			{Kind: domain.ActionCloseKind, Book: domain.BookCrypto},
		},
		Skipped:  []domain.SkippedOpportunity{{Book: domain.BookCrypto, Reason: domain.ReasonGuardRejected}},
		Errors:   []domain.SymbolError{{Book: domain.BookEquity, Stage: "fetch"}},
		Drawdown: 0.16,
		Halted:   true,
		Value:    decimal.NewFromInt(84000),
	})

	out := scrape(t, r)
	assert.Contains(t, out, "engine_cycles_total 1")
	assert.Contains(t, out, `engine_actions_total{book="EQUITY",kind="OPEN_LONG"} 2`)
	assert.Contains(t, out, `engine_actions_total{book="CRYPTO",kind="CLOSE"} 1`)
	assert.Contains(t, out, `engine_skipped_total{book="CRYPTO",reason="GuardRejected"} 1`)
	assert.Contains(t, out, `engine_symbol_errors_total{book="EQUITY",stage="fetch"} 1`)
	assert.Contains(t, out, "engine_drawdown_ratio 0.16")
	assert.Contains(t, out, "engine_halted 1")
	assert.Contains(t, out, "engine_portfolio_value 84000")
	assert.Contains(t, out, "engine_cycle_duration_seconds_count 1")
}

func TestRecorder_ObserveBook(t *testing.T) {
	r := New()
	r.ObserveBook(domain.Summary{Book: domain.BookCrypto, LiquidCapital: decimal.NewFromInt(29000), InvestedCapital: decimal.NewFromInt(1000), OpenPositions: 1})
	r.FlushFailed()

	out := scrape(t, r)
	assert.Contains(t, out, `engine_liquid_capital{book="CRYPTO"} 29000`)
	assert.Contains(t, out, `engine_open_positions{book="CRYPTO"} 1`)
	assert.Contains(t, out, "engine_flush_failures_total 1")
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveCycle(domain.CycleReport{})
		r.ObserveBook(domain.Summary{})
		r.FlushFailed()
	})
}
