// Package reporting renders engine state for people: console tables for
// the status command and CSV/Excel exports of ledgers and positions.
package reporting

import (
	"sort"
	"time"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/engine"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
)

// Source is the read side of the engine
type Source interface {
	Status() engine.Status
	Ledgers() map[string]ledger.AssetLedger
	StrategyPositions(id string) ([]strategy.Position, bool)
}

// Report is a point-in-time copy of everything the exporters print
type Report struct {
	GeneratedAt time.Time                      `json:"generated_at"`
	Status      engine.Status                  `json:"status"`
	Ledgers     []ledger.AssetLedger           `json:"ledgers"`
	Positions   map[string][]strategy.Position `json:"positions"`
}

// Collect reads a consistent-enough report from src. Ledgers are sorted
// by address.
func Collect(src Source, now time.Time) Report {
	st := src.Status()
	r := Report{
		GeneratedAt: now,
		Status:      st,
		Positions:   make(map[string][]strategy.Position, len(st.Strategies)),
	}
	for _, l := range src.Ledgers() {
		r.Ledgers = append(r.Ledgers, l)
	}
	sort.Slice(r.Ledgers, func(i, j int) bool { return r.Ledgers[i].Address < r.Ledgers[j].Address })

	for _, s := range st.Strategies {
		if positions, ok := src.StrategyPositions(s.ID); ok {
			r.Positions[s.ID] = positions
		}
	}
	return r
}

// tradeRow is one ledger trade flattened for tabular output
type tradeRow struct {
	Address string
	Symbol  string
	ledger.Trade
}

func (r Report) trades() []tradeRow {
	var rows []tradeRow
	for _, l := range r.Ledgers {
		for _, t := range l.TradeHistory {
			rows = append(rows, tradeRow{Address: l.Address, Symbol: l.Symbol, Trade: t})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows
}

func label(symbol, address string) string {
	if symbol != "" {
		return symbol
	}
	return shortAddress(address)
}

func shortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
