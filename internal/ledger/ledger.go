package ledger

import (
	"math"
	"sort"
	"sync"
	"time"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
)

// TradeType is the side of a recorded trade
type TradeType string

const (
	TradeTypeBuy  TradeType = "buy"
	TradeTypeSell TradeType = "sell"
)

// Trade is an executed fill; never mutated after creation
type Trade struct {
	Timestamp time.Time `json:"timestamp"`
	Type      TradeType `json:"type"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Value     float64   `json:"value"`
}

// AssetLedger is the cost-basis state of one tracked asset.
// TotalCostBasis == QuantityHeld * WeightedAveragePrice after every mutation.
type AssetLedger struct {
	Address              string    `json:"address"`
	Symbol               string    `json:"symbol"`
	QuantityHeld         float64   `json:"quantity_held"`
	WeightedAveragePrice float64   `json:"weighted_average_price"`
	TotalCostBasis       float64   `json:"total_cost_basis"`
	TradeHistory         []Trade   `json:"trade_history"`
	BuyCount             int       `json:"buy_count"`
	SellCount            int       `json:"sell_count"`
	TotalBuyValue        float64   `json:"total_buy_value"`
	TotalSellValue       float64   `json:"total_sell_value"`
	BestBuyPrice         float64   `json:"best_buy_price"`
	WorstSellPrice       float64   `json:"worst_sell_price"`
	MinSellPrice         float64   `json:"min_sell_price"`
	RealizedProfit       float64   `json:"realized_profit"`
	UnrealizedProfit     float64   `json:"unrealized_profit"`
	DiscoveryPrice       float64   `json:"discovery_price"`
	LastPrice            float64   `json:"last_price"`
	IsTraded             bool      `json:"is_traded"`
	TrackedSince         time.Time `json:"tracked_since"`
}

// lowestSellPrice scans trades for the lowest sell, zero when never sold
func lowestSellPrice(trades []Trade) float64 {
	lowest := 0.0
	for _, t := range trades {
		if t.Type != TradeTypeSell {
			continue
		}
		if lowest == 0 || t.Price < lowest {
			lowest = t.Price
		}
	}
	return lowest
}

// InvariantHolds checks the cost-basis invariant within a relative tolerance
func InvariantHolds(a AssetLedger, tolerance float64) bool {
	expected := a.QuantityHeld * a.WeightedAveragePrice
	diff := math.Abs(a.TotalCostBasis - expected)
	scale := math.Max(math.Abs(expected), 1)
	return diff <= tolerance*scale
}

func (a AssetLedger) clone() AssetLedger {
	out := a
	out.TradeHistory = append([]Trade(nil), a.TradeHistory...)
	return out
}

type entry struct {
	mu    sync.Mutex
	state AssetLedger
}

// PortfolioSummary aggregates every tracked asset
type PortfolioSummary struct {
	Assets         int     `json:"assets"`
	HeldAssets     int     `json:"held_assets"`
	TotalCostBasis float64 `json:"total_cost_basis"`
	MarketValue    float64 `json:"market_value"`
	Realized       float64 `json:"realized"`
	Unrealized     float64 `json:"unrealized"`
	TotalBuyValue  float64 `json:"total_buy_value"`
	TotalSellValue float64 `json:"total_sell_value"`
}

// Ledger owns the cost-basis state of all tracked assets. Each asset is
// guarded by its own mutex so concurrent strategies on different assets
// never contend.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// WithClock replaces time.Now for TrackedSince and zero trade timestamps
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) get(address string) (*entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[address]
	return e, ok
}

// Track starts cost-basis tracking. Returns false when already tracked.
func (l *Ledger) Track(address, symbol string, discoveryPrice float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[address]; ok {
		return false
	}
	l.entries[address] = &entry{state: AssetLedger{
		Address:        address,
		Symbol:         symbol,
		DiscoveryPrice: discoveryPrice,
		LastPrice:      discoveryPrice,
		TrackedSince:   l.now(),
	}}
	return true
}

// Untrack removes an asset's ledger explicitly
func (l *Ledger) Untrack(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[address]; !ok {
		return false
	}
	delete(l.entries, address)
	return true
}

// IsTracked reports whether address has a ledger
func (l *Ledger) IsTracked(address string) bool {
	_, ok := l.get(address)
	return ok
}

// Get returns a copy of the asset's ledger
func (l *Ledger) Get(address string) (AssetLedger, bool) {
	e, ok := l.get(address)
	if !ok {
		return AssetLedger{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone(), true
}

// SetDiscoveryPrice records the first observed price when tracking started without one
func (l *Ledger) SetDiscoveryPrice(address string, price float64) bool {
	e, ok := l.get(address)
	if !ok || price <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.DiscoveryPrice > 0 {
		return false
	}
	e.state.DiscoveryPrice = price
	return true
}

// RecordTrade applies a fill to the asset's cost basis
func (l *Ledger) RecordTrade(address string, tradeType TradeType, price, quantity float64, ts time.Time) (Trade, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return Trade{}, boterrors.NewValidationError("ledger", "RecordTrade", "price must be positive").
			WithContext("price", price)
	}
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return Trade{}, boterrors.NewValidationError("ledger", "RecordTrade", "quantity must be positive").
			WithContext("quantity", quantity)
	}
	if tradeType != TradeTypeBuy && tradeType != TradeTypeSell {
		return Trade{}, boterrors.NewValidationError("ledger", "RecordTrade", "unknown trade type "+string(tradeType))
	}

	e, ok := l.get(address)
	if !ok {
		return Trade{}, boterrors.NewUnknownAssetError("ledger", "RecordTrade", address)
	}
	if ts.IsZero() {
		ts = l.now()
	}

	trade := Trade{
		Timestamp: ts,
		Type:      tradeType,
		Price:     price,
		Quantity:  quantity,
		Value:     price * quantity,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := &e.state

	switch tradeType {
	case TradeTypeBuy:
		if s.QuantityHeld == 0 {
			s.WeightedAveragePrice = price
		} else {
			s.WeightedAveragePrice = (s.TotalCostBasis + price*quantity) / (s.QuantityHeld + quantity)
		}
		s.QuantityHeld += quantity
		s.BuyCount++
		s.TotalBuyValue += trade.Value
		if s.BestBuyPrice == 0 || price < s.BestBuyPrice {
			s.BestBuyPrice = price
		}

	case TradeTypeSell:
		s.RealizedProfit += (price - s.WeightedAveragePrice) * quantity
		s.QuantityHeld -= quantity
		if s.QuantityHeld < 0 {
			s.QuantityHeld = 0
		}
		// average cost only moves on buys
		s.SellCount++
		s.TotalSellValue += trade.Value
		if s.WorstSellPrice == 0 || price > s.WorstSellPrice {
			s.WorstSellPrice = price
		}
		if s.MinSellPrice == 0 || price < s.MinSellPrice {
			s.MinSellPrice = price
		}
	}

	s.TotalCostBasis = s.QuantityHeld * s.WeightedAveragePrice
	s.IsTraded = true
	s.TradeHistory = append(s.TradeHistory, trade)
	s.LastPrice = price
	s.UnrealizedProfit = (price - s.WeightedAveragePrice) * s.QuantityHeld

	return trade, nil
}

// IsGoodBuyPrice applies average-price discipline: an untraded asset must be
// below its discovery price; a traded one below both its average cost and
// every price it was previously sold at.
func (l *Ledger) IsGoodBuyPrice(address string, price float64) (bool, error) {
	e, ok := l.get(address)
	if !ok {
		return false, boterrors.NewUnknownAssetError("ledger", "IsGoodBuyPrice", address)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state

	if !s.IsTraded {
		return s.DiscoveryPrice > 0 && price < s.DiscoveryPrice, nil
	}
	if price >= s.WeightedAveragePrice {
		return false, nil
	}
	if s.MinSellPrice > 0 && price >= s.MinSellPrice {
		return false, nil
	}
	return true, nil
}

// MarkToMarket updates unrealized profit at price and returns it
func (l *Ledger) MarkToMarket(address string, price float64) (float64, error) {
	e, ok := l.get(address)
	if !ok {
		return 0, boterrors.NewUnknownAssetError("ledger", "MarkToMarket", address)
	}
	if price <= 0 {
		return 0, boterrors.NewValidationError("ledger", "MarkToMarket", "price must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.LastPrice = price
	e.state.UnrealizedProfit = (price - e.state.WeightedAveragePrice) * e.state.QuantityHeld
	return e.state.UnrealizedProfit, nil
}

// Assets lists tracked addresses in sorted order
func (l *Ledger) Assets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.entries))
	for address := range l.entries {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

// Summary aggregates cost basis and profit across assets at their last marked price
func (l *Ledger) Summary() PortfolioSummary {
	var sum PortfolioSummary
	for _, a := range l.Snapshot() {
		sum.Assets++
		if a.QuantityHeld > 0 {
			sum.HeldAssets++
		}
		sum.TotalCostBasis += a.TotalCostBasis
		sum.MarketValue += a.QuantityHeld * a.LastPrice
		sum.Realized += a.RealizedProfit
		sum.Unrealized += a.UnrealizedProfit
		sum.TotalBuyValue += a.TotalBuyValue
		sum.TotalSellValue += a.TotalSellValue
	}
	return sum
}

// Snapshot copies every ledger, each under its own lock
func (l *Ledger) Snapshot() map[string]AssetLedger {
	l.mu.RLock()
	entries := make(map[string]*entry, len(l.entries))
	for k, v := range l.entries {
		entries[k] = v
	}
	l.mu.RUnlock()

	out := make(map[string]AssetLedger, len(entries))
	for address, e := range entries {
		e.mu.Lock()
		out[address] = e.state.clone()
		e.mu.Unlock()
	}
	return out
}

// Restore replaces all ledgers with a snapshot
func (l *Ledger) Restore(snapshot map[string]AssetLedger) {
	entries := make(map[string]*entry, len(snapshot))
	for address, state := range snapshot {
		s := state.clone()
		if s.Address == "" {
			s.Address = address
		}
		// repair drift from older snapshots
		s.TotalCostBasis = s.QuantityHeld * s.WeightedAveragePrice
		if s.MinSellPrice == 0 && s.SellCount > 0 {
			s.MinSellPrice = lowestSellPrice(s.TradeHistory)
		}
		entries[address] = &entry{state: s}
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
}
