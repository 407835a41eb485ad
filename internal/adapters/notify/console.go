package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
)

// Console escribe eventos y reportes en texto. Implementa Sender.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// Name identifica el sender.
func (c *Console) Name() string { return "console" }

// Send imprime una línea con hora, título y mensaje.
func (c *Console) Send(_ context.Context, title, message string) error {
	_, err := fmt.Fprintf(c.out, "[%s] %s: %s\n", c.now().Format("15:04:05"), title, message)
	return err
}

// PrintCycleReport imprime el resultado de un ciclo: compacto en una línea o con tablas.
func (c *Console) PrintCycleReport(r domain.CycleReport) {
	opened := r.CountActions(domain.ActionOpenLong) + r.CountActions(domain.ActionOpenShort)
	closed := r.CountActions(domain.ActionCloseKind)

	flags := ""
	switch {
	case r.Halted:
		flags = " HALT"
	case r.Defensive:
		flags = " DEFENSIVE"
	}
	if r.Stopped {
		flags += " (interrupted)"
	}

	fmt.Fprintf(c.out, "[%s] cycle %s → scanned:%d open:%d close:%d skip:%d err:%d dd:%.1f%% value:$%s%s\n",
		r.StartedAt.Format("15:04:05"), r.Duration().Round(time.Millisecond),
		r.Scanned, opened, closed, len(r.Skipped), len(r.Errors),
		r.Drawdown*100, r.Value.StringFixed(2), flags)

	if !c.table {
		for _, a := range r.Actions {
			fmt.Fprintf(c.out, "  %s\n", actionLine(a))
		}
		return
	}

	if len(r.Actions) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Action", "Book", "Symbol", "Side", "Qty", "Price", "Amount", "P&L", "Score", "Reason")
		for _, a := range r.Actions {
			pnl := "-"
			if a.Kind == domain.ActionCloseKind {
				pnl = signedUSD(a.PnL)
			}
			table.Append(
				string(a.Kind), string(a.Book), a.Symbol, string(a.Side),
				a.Quantity.String(),
				"$"+a.Price.StringFixed(2),
				"$"+a.Amount.StringFixed(2),
				pnl,
				fmt.Sprintf("%.1f", a.Score),
				truncate(a.Reason, 40),
			)
		}
		table.Render()
	}

	c.printScores(r.Scores)

	if len(r.Skipped) > 0 {
		fmt.Fprintln(c.out, "  Skipped:")
		for _, s := range r.Skipped {
			fmt.Fprintf(c.out, "    %-8s %-10s %-5s %-22s %s\n", s.Book, s.Symbol, s.Side, s.Reason, s.Detail)
		}
	}
	if len(r.Errors) > 0 {
		fmt.Fprintln(c.out, "  Errors:")
		for _, e := range r.Errors {
			fmt.Fprintf(c.out, "    %-8s %-10s [%s] %s\n", e.Book, e.Symbol, e.Stage, e.Err)
		}
	}
}

// printScores imprime el top 5 de cada book.
func (c *Console) printScores(scores map[domain.Book][]domain.ScoreRecord) {
	for _, book := range domain.Books() {
		recs := append([]domain.ScoreRecord(nil), scores[book]...)
		if len(recs) == 0 {
			continue
		}
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
		if len(recs) > 5 {
			recs = recs[:5]
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "  %s top:", book)
		for _, rec := range recs {
			fmt.Fprintf(&sb, " %s %s %.1f", rec.Tier.Icon(), rec.Symbol, rec.Score)
			if rec.Degraded {
				sb.WriteString("?")
			}
		}
		fmt.Fprintln(c.out, sb.String())
	}
}

// PrintSummary imprime el estado de capital de ambos books.
func (c *Console) PrintSummary(summaries []domain.Summary) {
	fmt.Fprintf(c.out, "\n=== PORTFOLIO @ %s ===\n", c.now().Format("2006-01-02 15:04"))

	table := tablewriter.NewWriter(c.out)
	table.Header("Book", "Liquid", "Invested", "Unrealized", "Realized", "Total", "Positions", "Util%")

	total := decimal.Zero
	for _, s := range summaries {
		total = total.Add(s.TotalValue())
		table.Append(
			string(s.Book),
			"$"+s.LiquidCapital.StringFixed(2),
			"$"+s.InvestedCapital.StringFixed(2),
			signedUSD(s.UnrealizedPnL),
			signedUSD(s.RealizedPnL),
			"$"+s.TotalValue().StringFixed(2),
			fmt.Sprintf("%d/%d", s.OpenPositions, s.MaxPositions),
			fmt.Sprintf("%.1f", s.UtilizationPercent),
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  Total portfolio value: $%s\n\n", total.StringFixed(2))
}

// PrintPositions imprime las posiciones abiertas.
func (c *Console) PrintPositions(positions []domain.Position) {
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "  No open positions.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Book", "Symbol", "Side", "Qty", "Entry", "Current", "Stop", "Target", "P&L", "P&L%", "Held", "Source")
	for _, p := range positions {
		table.Append(
			string(p.Book), p.Symbol, string(p.Side),
			p.Quantity.String(),
			"$"+p.EntryPrice.StringFixed(2),
			"$"+p.CurrentPrice.StringFixed(2),
			"$"+p.StopLoss.StringFixed(2),
			"$"+p.TakeProfit.StringFixed(2),
			signedUSD(p.UnrealizedPnL()),
			p.UnrealizedPnLPercent().StringFixed(1)+"%",
			heldLabel(p.HeldFor(c.now())),
			string(p.Source),
		)
	}
	table.Render()
}

// PrintGuard imprime los cooldowns y la blacklist activos.
func (c *Console) PrintGuard(cooldowns []domain.CooldownEntry, blacklist []domain.BlacklistEntry) {
	if len(cooldowns) == 0 && len(blacklist) == 0 {
		fmt.Fprintln(c.out, "  Guard: no active cooldowns or blacklist entries.")
		return
	}
	now := c.now()
	for _, b := range blacklist {
		fmt.Fprintf(c.out, "  ⛔ %-8s %-10s blacklisted %s left (%s)\n",
			b.Book, b.Symbol, heldLabel(b.Until.Sub(now)), b.Reason)
	}
	for _, cd := range cooldowns {
		fmt.Fprintf(c.out, "  ⏳ %-8s %-10s cooldown %s left (%s)\n",
			cd.Book, cd.Symbol, heldLabel(cd.Until.Sub(now)), cd.Reason)
	}
}

// --- helpers ---

func actionLine(a domain.CycleAction) string {
	if a.Kind == domain.ActionCloseKind {
		return fmt.Sprintf("%s %s %s %s @ $%s pnl %s (%s)",
			a.Kind, a.Book, a.Symbol, a.Side, a.Price.StringFixed(2), signedUSD(a.PnL), a.Reason)
	}
	return fmt.Sprintf("%s %s %s qty %s @ $%s = $%s score %.1f",
		a.Kind, a.Book, a.Symbol, a.Quantity, a.Price.StringFixed(2), a.Amount.StringFixed(2), a.Score)
}

func signedUSD(v decimal.Decimal) string {
	if v.IsNegative() {
		return "-$" + v.Abs().StringFixed(2)
	}
	return "+$" + v.StringFixed(2)
}

func heldLabel(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%.0fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
