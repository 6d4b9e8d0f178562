package reporting

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet   = "Summary"
	ledgersSheet   = "Ledgers"
	tradesSheet    = "Trades"
	positionsSheet = "Positions"
	triggersSheet  = "Triggers"
)

// excelStyles holds the workbook cell styles
type excelStyles struct {
	header   int
	base     int
	price    int
	amount   int
	percent  int
	profit   int
	loss     int
	buyRow   int
	sellRow  int
	datetime int
}

var thinBorder = []excelize.Border{
	{Type: "left", Color: "E0E0E0", Style: 1},
	{Type: "right", Color: "E0E0E0", Style: 1},
	{Type: "bottom", Color: "E0E0E0", Style: 1},
}

func newExcelStyles(fx *excelize.File) (excelStyles, error) {
	var (
		s   excelStyles
		err error
	)
	specs := []struct {
		dst   *int
		style *excelize.Style
	}{
		{&s.header, &excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
			Border: []excelize.Border{
				{Type: "left", Color: "000000", Style: 1},
				{Type: "right", Color: "000000", Style: 1},
				{Type: "top", Color: "000000", Style: 1},
				{Type: "bottom", Color: "000000", Style: 1},
			},
		}},
		{&s.base, &excelize.Style{Border: thinBorder}},
		{&s.price, &excelize.Style{CustomNumFmt: strPtr("0.00000000"), Border: thinBorder}},
		{&s.amount, &excelize.Style{CustomNumFmt: strPtr("#,##0.0000"), Border: thinBorder}},
		{&s.percent, &excelize.Style{CustomNumFmt: strPtr("0.00\"%\""), Border: thinBorder}},
		{&s.profit, &excelize.Style{CustomNumFmt: strPtr("#,##0.0000"), Font: &excelize.Font{Color: "008000"}, Border: thinBorder}},
		{&s.loss, &excelize.Style{CustomNumFmt: strPtr("#,##0.0000"), Font: &excelize.Font{Color: "FF0000"}, Border: thinBorder}},
		{&s.buyRow, &excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{"E6F3FF"}, Pattern: 1}, Border: thinBorder}},
		{&s.sellRow, &excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{"E6FFE6"}, Pattern: 1}, Border: thinBorder}},
		{&s.datetime, &excelize.Style{CustomNumFmt: strPtr("yyyy-mm-dd hh:mm:ss"), Border: thinBorder}},
	}
	for _, spec := range specs {
		if *spec.dst, err = fx.NewStyle(spec.style); err != nil {
			return s, err
		}
	}
	return s, nil
}

func strPtr(s string) *string { return &s }

// ExcelReporter writes reports as xlsx workbooks
type ExcelReporter struct{}

func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

// WriteWorkbook saves r to path with one sheet per section
func (x *ExcelReporter) WriteWorkbook(r Report, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	for _, name := range []string{ledgersSheet, tradesSheet, positionsSheet, triggersSheet} {
		if _, err := fx.NewSheet(name); err != nil {
			return err
		}
	}

	styles, err := newExcelStyles(fx)
	if err != nil {
		return err
	}

	writers := []func(*excelize.File, Report, excelStyles) error{
		x.writeSummary,
		x.writeLedgers,
		x.writeTrades,
		x.writePositions,
		x.writeTriggers,
	}
	for _, w := range writers {
		if err := w(fx, r, styles); err != nil {
			return err
		}
	}
	return fx.SaveAs(path)
}

func writeHeader(fx *excelize.File, sheet string, headers []string, widths []float64, style int) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if i < len(widths) {
			col, _ := excelize.ColumnNumberToName(i + 1)
			fx.SetColWidth(sheet, col, col, widths[i])
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := fx.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, Split: false, XSplit: 0, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// writeRow sets values starting at column A; styles align with values and
// zero leaves the cell with the base style
func writeRow(fx *excelize.File, sheet string, row int, values []interface{}, cellStyles []int, base int) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		style := base
		if i < len(cellStyles) && cellStyles[i] != 0 {
			style = cellStyles[i]
		}
		if err := fx.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func pnlStyle(v float64, s excelStyles) int {
	if v < 0 {
		return s.loss
	}
	return s.profit
}

func (x *ExcelReporter) writeSummary(fx *excelize.File, r Report, s excelStyles) error {
	if err := writeHeader(fx, summarySheet, []string{"Metric", "Value"}, []float64{24, 32}, s.header); err != nil {
		return err
	}
	st := r.Status
	p := st.Portfolio
	rows := []struct {
		name  string
		value interface{}
		style int
	}{
		{"Generated", r.GeneratedAt.UTC(), s.datetime},
		{"Engine running", st.Running, 0},
		{"Assets tracked", p.Assets, 0},
		{"Assets held", p.HeldAssets, 0},
		{"Strategies", len(st.Strategies), 0},
		{"Triggers", len(st.Triggers), 0},
		{"Total cost basis", p.TotalCostBasis, s.amount},
		{"Market value", p.MarketValue, s.amount},
		{"Realized profit", p.Realized, pnlStyle(p.Realized, s)},
		{"Unrealized profit", p.Unrealized, pnlStyle(p.Unrealized, s)},
		{"Total bought", p.TotalBuyValue, s.amount},
		{"Total sold", p.TotalSellValue, s.amount},
	}
	for i, row := range rows {
		if err := writeRow(fx, summarySheet, i+2, []interface{}{row.name, row.value}, []int{0, row.style}, s.base); err != nil {
			return err
		}
	}
	return nil
}

func (x *ExcelReporter) writeLedgers(fx *excelize.File, r Report, s excelStyles) error {
	headers := []string{"Asset", "Address", "Held", "WAP", "Cost Basis", "Last Price", "Realized", "Unrealized",
		"Buys", "Sells", "Bought", "Sold", "Best Buy", "Worst Sell", "Discovery", "Tracked Since"}
	widths := []float64{12, 44, 14, 14, 14, 14, 14, 14, 8, 8, 14, 14, 14, 14, 14, 20}
	if err := writeHeader(fx, ledgersSheet, headers, widths, s.header); err != nil {
		return err
	}
	for i, l := range r.Ledgers {
		values := []interface{}{
			label(l.Symbol, l.Address), l.Address, l.QuantityHeld, l.WeightedAveragePrice, l.TotalCostBasis,
			l.LastPrice, l.RealizedProfit, l.UnrealizedProfit, l.BuyCount, l.SellCount,
			l.TotalBuyValue, l.TotalSellValue, l.BestBuyPrice, l.WorstSellPrice, l.DiscoveryPrice, l.TrackedSince.UTC(),
		}
		styles := []int{0, 0, s.amount, s.price, s.amount, s.price, pnlStyle(l.RealizedProfit, s), pnlStyle(l.UnrealizedProfit, s),
			0, 0, s.amount, s.amount, s.price, s.price, s.price, s.datetime}
		if err := writeRow(fx, ledgersSheet, i+2, values, styles, s.base); err != nil {
			return err
		}
	}
	return nil
}

func (x *ExcelReporter) writeTrades(fx *excelize.File, r Report, s excelStyles) error {
	headers := []string{"Timestamp", "Asset", "Side", "Price", "Quantity", "Value"}
	if err := writeHeader(fx, tradesSheet, headers, []float64{20, 12, 8, 14, 14, 14}, s.header); err != nil {
		return err
	}
	for i, t := range r.trades() {
		rowStyle := s.buyRow
		if t.Type == "sell" {
			rowStyle = s.sellRow
		}
		values := []interface{}{t.Timestamp.UTC(), label(t.Symbol, t.Address), string(t.Type), t.Price, t.Quantity, t.Value}
		if err := writeRow(fx, tradesSheet, i+2, values, []int{s.datetime, 0, 0, s.price, s.amount, s.amount}, rowStyle); err != nil {
			return err
		}
	}
	return nil
}

func (x *ExcelReporter) writePositions(fx *excelize.File, r Report, s excelStyles) error {
	headers := []string{"Strategy", "Position", "Status", "Tier", "Entry Time", "Entry Price", "Spent", "Bought",
		"Held", "Exit Time", "Exit Price", "Exit Reason", "Realized PnL"}
	widths := []float64{16, 38, 8, 10, 20, 14, 14, 14, 14, 20, 14, 14, 14}
	if err := writeHeader(fx, positionsSheet, headers, widths, s.header); err != nil {
		return err
	}
	row := 2
	for _, st := range r.Status.Strategies {
		for _, p := range r.Positions[st.ID] {
			var exitAt interface{} = ""
			if p.ExitTimestamp != nil {
				exitAt = p.ExitTimestamp.UTC()
			}
			values := []interface{}{
				st.ID, p.ID, string(p.Status), string(p.EntryTier), p.EntryTimestamp.UTC(), p.EntryPrice,
				p.EntryAmountBase, p.EntryAmountAsset, p.Quantity, exitAt, p.ExitPrice, string(p.ExitReason), p.RealizedPnL,
			}
			styles := []int{0, 0, 0, 0, s.datetime, s.price, s.amount, s.amount, s.amount, s.datetime, s.price, 0, pnlStyle(p.RealizedPnL, s)}
			if err := writeRow(fx, positionsSheet, row, values, styles, s.base); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func (x *ExcelReporter) writeTriggers(fx *excelize.File, r Report, s excelStyles) error {
	headers := []string{"ID", "Asset", "Action", "Condition", "Threshold", "Window", "Amount", "Fired", "Max", "Failures", "Active", "Last Fired", "Last Error"}
	widths := []float64{38, 44, 8, 12, 10, 8, 14, 8, 8, 8, 8, 20, 40}
	if err := writeHeader(fx, triggersSheet, headers, widths, s.header); err != nil {
		return err
	}
	for i, t := range r.Status.Triggers {
		var lastFired interface{} = ""
		if t.LastFiredAt != nil {
			lastFired = t.LastFiredAt.UTC()
		}
		values := []interface{}{
			t.ID, t.Asset, string(t.Action), string(t.Condition), t.Threshold, t.Timeframe, t.Amount,
			t.TriggerCount, t.MaxTriggers, t.Failures, t.IsActive, lastFired, t.LastError,
		}
		styles := []int{0, 0, 0, 0, s.percent, 0, s.amount, 0, 0, 0, 0, s.datetime, 0}
		if err := writeRow(fx, triggersSheet, i+2, values, styles, s.base); err != nil {
			return err
		}
	}
	return nil
}

// DefaultReportPath names a workbook under dir by generation time
func DefaultReportPath(dir string, at time.Time) string {
	return ReportPath(dir, "adaptive_bot_"+at.UTC().Format("20060102_150405")+".xlsx")
}
