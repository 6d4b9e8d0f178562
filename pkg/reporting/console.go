package reporting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
)

// ConsoleReporter prints reports as tables
type ConsoleReporter struct {
	out io.Writer
}

// NewConsoleReporter writes to out, stdout when nil
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{out: out}
}

func (c *ConsoleReporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintReport renders every section of r
func (c *ConsoleReporter) PrintReport(r Report) {
	c.PrintOverview(r)
	c.PrintAssets(r)
	c.PrintStrategies(r)
	c.PrintTriggers(r)
	c.PrintLedgers(r)
}

// PrintOverview prints the engine and portfolio totals
func (c *ConsoleReporter) PrintOverview(r Report) {
	st := r.Status
	running := "stopped"
	if st.Running {
		running = fmt.Sprintf("running since %s", st.StartedAt.Format(time.RFC3339))
	}
	snapshot := "never"
	if !st.LastSnapshotAt.IsZero() {
		snapshot = st.LastSnapshotAt.Format(time.RFC3339)
	}
	if st.LastSnapshotError != "" {
		snapshot += " (last error: " + st.LastSnapshotError + ")"
	}

	t := c.newTable("ADAPTIVE DIP BOT")
	t.AppendRows([]table.Row{
		{"🔧 Engine", running},
		{"🕒 Generated", r.GeneratedAt.Format(time.RFC3339)},
		{"💾 Last snapshot", snapshot},
		{"🔌 Swap breaker", st.SwapBreaker.State},
	})
	t.AppendSeparator()
	p := st.Portfolio
	t.AppendRows([]table.Row{
		{"📊 Assets", fmt.Sprintf("%d tracked, %d held", p.Assets, p.HeldAssets)},
		{"💰 Cost basis", fmt.Sprintf("%.4f", p.TotalCostBasis)},
		{"💹 Market value", fmt.Sprintf("%.4f", p.MarketValue)},
		{"✅ Realized", fmt.Sprintf("%.4f", p.Realized)},
		{"📈 Unrealized", fmt.Sprintf("%.4f", p.Unrealized)},
	})
	if len(st.Errors) > 0 {
		t.AppendSeparator()
		cats := make([]string, 0, len(st.Errors))
		for cat := range st.Errors {
			cats = append(cats, string(cat))
		}
		sort.Strings(cats)
		for _, cat := range cats {
			t.AppendRow(table.Row{"⚠️ " + cat, st.Errors[boterrors.ErrorCategory(cat)]})
		}
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 60, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Fprintln(c.out)
}

// PrintAssets lists tracked assets and their latest prices
func (c *ConsoleReporter) PrintAssets(r Report) {
	t := c.newTable("ASSETS")
	t.AppendHeader(table.Row{"Asset", "Address", "Price", "24h %", "Points", "Updated", "Failures", "Quotes"})
	for _, a := range r.Status.Assets {
		updated := "-"
		if !a.LastPriceAt.IsZero() {
			updated = a.LastPriceAt.Format("01-02 15:04:05")
		}
		t.AppendRow(table.Row{
			label(a.Symbol, a.Address),
			shortAddress(a.Address),
			fmt.Sprintf("%.8f", a.LastPrice),
			fmt.Sprintf("%+.2f", a.Change24h),
			a.Points,
			updated,
			a.ConsecutiveFailures,
			a.Breaker,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()
	fmt.Fprintln(c.out)
}

// PrintStrategies lists strategies with exposure and cycle progress
func (c *ConsoleReporter) PrintStrategies(r Report) {
	t := c.newTable("STRATEGIES")
	t.AppendHeader(table.Row{"ID", "Asset", "Active", "Profile", "Open", "Quantity", "Avg Entry", "Range", "Cycles", "PnL", "Last Decision"})
	for _, s := range r.Status.Strategies {
		cycles := fmt.Sprintf("%d", s.CompletedCycles)
		if s.MaxCycles > 0 {
			cycles = fmt.Sprintf("%d/%d", s.CompletedCycles, s.MaxCycles)
		}
		active := "no"
		if s.IsActive {
			active = "yes"
		}
		t.AppendRow(table.Row{
			s.ID,
			label(s.TargetSymbol, s.TargetAsset),
			active,
			s.Profile,
			s.Exposure.Count,
			fmt.Sprintf("%.6f", s.Exposure.Quantity),
			fmt.Sprintf("%.8f", s.Exposure.AveragePrice),
			s.RangeState,
			cycles,
			fmt.Sprintf("%.4f", s.RealizedPnL),
			s.LastDecision,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 10, Align: text.AlignRight},
		{Number: 11, WidthMax: 40},
	})
	t.Render()
	fmt.Fprintln(c.out)
}

// PrintTriggers lists triggers and their fire counts
func (c *ConsoleReporter) PrintTriggers(r Report) {
	t := c.newTable("TRIGGERS")
	t.AppendHeader(table.Row{"ID", "Asset", "Action", "Condition", "Threshold %", "Window", "Amount", "Fired", "Active", "Last Error"})
	for _, tr := range r.Status.Triggers {
		fired := fmt.Sprintf("%d", tr.TriggerCount)
		if tr.MaxTriggers > 0 {
			fired = fmt.Sprintf("%d/%d", tr.TriggerCount, tr.MaxTriggers)
		}
		t.AppendRow(table.Row{
			tr.ID,
			shortAddress(tr.Asset),
			tr.Action,
			tr.Condition,
			fmt.Sprintf("%.2f", tr.Threshold),
			tr.Timeframe,
			fmt.Sprintf("%.4f", tr.Amount),
			fired,
			tr.IsActive,
			tr.LastError,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 10, WidthMax: 40},
	})
	t.Render()
	fmt.Fprintln(c.out)
}

// PrintLedgers lists the cost basis of every tracked asset
func (c *ConsoleReporter) PrintLedgers(r Report) {
	t := c.newTable("LEDGERS")
	t.AppendHeader(table.Row{"Asset", "Held", "WAP", "Cost Basis", "Last", "Realized", "Unrealized", "Buys", "Sells", "Discovery"})
	for _, l := range r.Ledgers {
		t.AppendRow(table.Row{
			label(l.Symbol, l.Address),
			fmt.Sprintf("%.6f", l.QuantityHeld),
			fmt.Sprintf("%.8f", l.WeightedAveragePrice),
			fmt.Sprintf("%.4f", l.TotalCostBasis),
			fmt.Sprintf("%.8f", l.LastPrice),
			fmt.Sprintf("%.4f", l.RealizedProfit),
			fmt.Sprintf("%.4f", l.UnrealizedProfit),
			l.BuyCount,
			l.SellCount,
			fmt.Sprintf("%.8f", l.DiscoveryPrice),
		})
	}
	p := r.Status.Portfolio
	t.AppendFooter(table.Row{"Total", "", "", fmt.Sprintf("%.4f", p.TotalCostBasis), "",
		fmt.Sprintf("%.4f", p.Realized), fmt.Sprintf("%.4f", p.Unrealized), "", "", ""})
	t.Render()
	fmt.Fprintln(c.out)
}
