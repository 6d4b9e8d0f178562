package reporting

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/engine"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/state"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/triggers"
)

const (
	wld = "0x2cfc85d8e48f8eab294be644d9e25c3030863003"
	eth = "0x4200000000000000000000000000000000000006"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	status    engine.Status
	ledgers   map[string]ledger.AssetLedger
	positions map[string][]strategy.Position
}

func (f fakeSource) Status() engine.Status                  { return f.status }
func (f fakeSource) Ledgers() map[string]ledger.AssetLedger { return f.ledgers }
func (f fakeSource) StrategyPositions(id string) ([]strategy.Position, bool) {
	p, ok := f.positions[id]
	return p, ok
}

func sampleSource() fakeSource {
	exit := t0.Add(2 * time.Hour)
	return fakeSource{
		status: engine.Status{
			Running:   true,
			StartedAt: t0,
			Assets: []engine.AssetStatus{
				{AssetRecord: state.AssetRecord{Address: wld, Symbol: "WLD"}, LastPrice: 0.97, Points: 12, Breaker: "closed"},
			},
			Strategies: []strategy.Status{
				{ID: "wld-dip", TargetAsset: wld, TargetSymbol: "WLD", IsActive: true, CompletedCycles: 1, MaxCycles: 2, RealizedPnL: 1.2},
			},
			Triggers: []triggers.Trigger{
				{ID: "t1", Asset: wld, Action: triggers.ActionBuy, Condition: triggers.ConditionPriceDrop, Threshold: 10, Timeframe: "1h", Amount: 25, MaxTriggers: 1, IsActive: true},
			},
			Portfolio: ledger.PortfolioSummary{Assets: 2, HeldAssets: 1, TotalCostBasis: 8.8, Realized: 1.2},
		},
		ledgers: map[string]ledger.AssetLedger{
			wld: {
				Address:      wld,
				Symbol:       "WLD",
				QuantityHeld: 10,
				TradeHistory: []ledger.Trade{
					{Timestamp: t0.Add(time.Hour), Type: ledger.TradeTypeSell, Price: 0.99, Quantity: 1.36, Value: 1.35},
					{Timestamp: t0, Type: ledger.TradeTypeBuy, Price: 0.88, Quantity: 11.36, Value: 10},
				},
			},
			eth: {Address: eth},
		},
		positions: map[string][]strategy.Position{
			"wld-dip": {
				{ID: "p1", EntryPrice: 0.88, Quantity: 0, Status: strategy.PositionClosed, EntryTimestamp: t0, ExitTimestamp: &exit, ExitPrice: 0.99},
			},
		},
	}
}

func TestCollectOrdersLedgersAndGathersPositions(t *testing.T) {
	r := Collect(sampleSource(), t0)

	require.Len(t, r.Ledgers, 2)
	assert.Equal(t, wld, r.Ledgers[0].Address)
	assert.Equal(t, eth, r.Ledgers[1].Address)
	assert.Len(t, r.Positions["wld-dip"], 1)

	trades := r.trades()
	require.Len(t, trades, 2)
	assert.Equal(t, ledger.TradeTypeBuy, trades[0].Type, "trades are ordered by time")
	assert.Equal(t, "WLD", trades[0].Symbol)
}

func TestConsoleReporterPrintsSections(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleReporter(&buf).PrintReport(Collect(sampleSource(), t0))

	out := buf.String()
	for _, want := range []string{"ADAPTIVE DIP BOT", "ASSETS", "STRATEGIES", "TRIGGERS", "LEDGERS", "wld-dip", "1/2", "0.97000000", "0x2cfc...3003"} {
		assert.Contains(t, out, want)
	}
}

func TestWriteWorkbook(t *testing.T) {
	path := DefaultReportPath(filepath.Join(t.TempDir(), "out"), t0)
	assert.Equal(t, "adaptive_bot_20260301_120000.xlsx", filepath.Base(path))

	require.NoError(t, NewExcelReporter().WriteWorkbook(Collect(sampleSource(), t0), path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{summarySheet, ledgersSheet, tradesSheet, positionsSheet, triggersSheet}, fx.GetSheetList())

	rows, err := fx.GetRows(ledgersSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Asset", rows[0][0])
	assert.Equal(t, "WLD", rows[1][0])

	rows, err = fx.GetRows(tradesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "buy", rows[1][2])
	assert.Equal(t, "sell", rows[2][2])

	rows, err = fx.GetRows(positionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "p1", rows[1][1])
	assert.Equal(t, "closed", rows[1][2])

	rows, err = fx.GetRows(triggersSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "price_drop", rows[1][3])
}

func TestWriteTradesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, WriteTradesCSV(Collect(sampleSource(), t0), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"2026-03-01T12:00:00Z", wld, "WLD", "buy", "0.88000000", "11.36000000", "10.00000000"}, records[1])
	assert.Equal(t, "sell", records[2][3])
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	require.NoError(t, WriteJSON(Collect(sampleSource(), t0), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"generated_at": "2026-03-01T12:00:00Z"`)
	assert.Contains(t, string(data), `"wld-dip"`)
}
