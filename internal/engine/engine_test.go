package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange/paper"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/pricing"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/state"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/triggers"
)

const (
	wld  = "0x2cfc85d8e48f8eab294be644d9e25c3030863003"
	usdc = "0x79a02482a880bce3f13e09da970dc34db4cd24d1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (f *fakeQuotes) Name() string { return "fake" }

func (f *fakeQuotes) GetPrice(ctx context.Context, asset, base string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	p, ok := f.prices[asset]
	if !ok {
		return 0, errors.New("no route")
	}
	return p, nil
}

func (f *fakeQuotes) set(asset string, price float64) {
	f.mu.Lock()
	f.prices[asset] = price
	f.err = nil
	f.mu.Unlock()
}

func (f *fakeQuotes) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(ev events.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofType(t events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, ev := range l.events {
		if ev.GetType() == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	engine *Engine
	clock  *fakeClock
	quotes *fakeQuotes
	events *eventLog
	prices *pricing.Store
	ledger *ledger.Ledger
}

func newHarness(t *testing.T, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := &eventLog{}
	prices := pricing.NewStore(pricing.Config{}, log, pricing.WithClock(clock.Now))
	quotes := &fakeQuotes{prices: map[string]float64{}}
	led := ledger.New().WithClock(clock.Now)

	cfg := Config{BaseToken: usdc}
	deps := Deps{
		Prices:   prices,
		Ledger:   led,
		Quotes:   quotes,
		Executor: paper.NewExecutor(prices, paper.Config{}),
		Events:   log,
		Now:      clock.Now,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	e, err := New(cfg, deps)
	require.NoError(t, err)
	return &harness{engine: e, clock: clock, quotes: quotes, events: log, prices: prices, ledger: led}
}

// move advances the clock and refreshes at a new quote
func (h *harness) move(price float64, after time.Duration) {
	h.clock.Advance(after)
	h.quotes.set(wld, price)
	h.engine.Refresh(context.Background())
}

func (h *harness) tick(t *testing.T, id string) {
	t.Helper()
	h.engine.mu.RLock()
	r, ok := h.engine.strategies[id]
	h.engine.mu.RUnlock()
	require.True(t, ok, "strategy %s not registered", id)
	h.engine.tickStrategy(context.Background(), r)
}

func (h *harness) status(t *testing.T, id string) strategy.Status {
	t.Helper()
	st, ok := h.engine.StrategyStatus(id)
	require.True(t, ok)
	return st
}

// liquidityExecutor reports a fixed liquidity bound over paper fills
type liquidityExecutor struct {
	*paper.Executor
	maxSafe float64
	err     error
}

func (l *liquidityExecutor) AnalyzeLiquidity(ctx context.Context, tokenIn, tokenOut string, maxSlippage float64) (float64, error) {
	return l.maxSafe, l.err
}

// partialSellExecutor fills only half of the next n sells of asset
type partialSellExecutor struct {
	*paper.Executor
	asset string
	n     int
}

func (p *partialSellExecutor) ExecuteSwap(ctx context.Context, req exchange.SwapRequest) (exchange.SwapResult, error) {
	if req.TokenIn == p.asset && p.n > 0 {
		p.n--
		req.AmountIn /= 2
	}
	return p.Executor.ExecuteSwap(ctx, req)
}

func dipConfig() strategy.Config {
	return strategy.Config{
		ID:                "wld-dips",
		TargetAsset:       wld,
		TargetSymbol:      "WLD",
		DipThresholdBase:  5,
		EnableProfitRange: true,
		ProfitRangeMin:    10,
		ProfitRangeMax:    40,
		ProfitRangeSteps:  3,
		ProfitRangeMode:   strategy.ModeLinear,
		TradeAmountBase:   10,
		MaxSlippage:       1,
		MaxCycles:         1,
	}
}

// startDipStrategy registers the strategy at 1.00 and buys a 12% dip at 0.88
func startDipStrategy(t *testing.T, h *harness) {
	t.Helper()
	cfg := dipConfig()
	h.quotes.set(wld, 1.0)
	_, err := h.engine.CreateStrategy(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, h.engine.StartStrategy(cfg.ID))
	h.tick(t, cfg.ID)
	h.move(0.88, time.Minute)
	h.tick(t, cfg.ID)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boterrors.ErrInvalidConfig))
}

func TestDipBuyOpensPositionAndRecordsLedger(t *testing.T) {
	h := newHarness(t, nil)
	startDipStrategy(t, h)

	st := h.status(t, "wld-dips")
	assert.Equal(t, 1, st.Exposure.Count)
	assert.InDelta(t, 10/0.88, st.Exposure.Quantity, 1e-6)
	assert.InDelta(t, 0.88, st.Exposure.AveragePrice, 1e-9)

	l, ok := h.ledger.Get(wld)
	require.True(t, ok)
	assert.Equal(t, 1.0, l.DiscoveryPrice)
	assert.Equal(t, 1, l.BuyCount)
	assert.InDelta(t, 10/0.88, l.QuantityHeld, 1e-6)

	trades := h.events.ofType(events.EventTypeTradeExecuted)
	require.Len(t, trades, 1)
	te := trades[0].(*events.TradeExecuted)
	assert.Equal(t, "buy", te.Side)
	assert.Equal(t, "wld-dips", te.StrategyID)
	assert.InDelta(t, 10, te.Value, 1e-9)
}

func TestNoBuyWithoutDip(t *testing.T) {
	h := newHarness(t, nil)
	h.quotes.set(wld, 1.0)
	_, err := h.engine.CreateStrategy(context.Background(), dipConfig())
	require.NoError(t, err)
	require.NoError(t, h.engine.StartStrategy("wld-dips"))

	h.move(0.97, time.Minute)
	h.tick(t, "wld-dips")

	assert.Equal(t, 0, h.status(t, "wld-dips").Exposure.Count)
	assert.Empty(t, h.events.ofType(events.EventTypeTradeExecuted))
}

func TestInactiveStrategyDoesNotTrade(t *testing.T) {
	h := newHarness(t, nil)
	h.quotes.set(wld, 1.0)
	_, err := h.engine.CreateStrategy(context.Background(), dipConfig())
	require.NoError(t, err)

	h.move(0.80, time.Minute)
	h.tick(t, "wld-dips")

	assert.Equal(t, 0, h.status(t, "wld-dips").Exposure.Count)
}

func TestProfitStepSellsFirstSlice(t *testing.T) {
	h := newHarness(t, nil)
	startDipStrategy(t, h)
	bought := 10 / 0.88

	h.move(0.99, time.Minute)
	h.tick(t, "wld-dips")

	steps := h.events.ofType(events.EventTypeProfitStep)
	require.Len(t, steps, 1)
	step := steps[0].(*events.ProfitStepExecuted)
	assert.Equal(t, 1, step.Step)
	assert.InDelta(t, 10.0, step.ProfitPercent, 1e-9)
	assert.InDelta(t, bought/3, step.Quantity, 1e-6)

	st := h.status(t, "wld-dips")
	assert.True(t, st.IsActive)
	assert.Equal(t, 0, st.CompletedCycles)
	assert.InDelta(t, bought*2/3, st.Exposure.Quantity, 1e-6)

	l, _ := h.ledger.Get(wld)
	assert.Equal(t, 1, l.SellCount)
	assert.InDelta(t, bought*2/3, l.QuantityHeld, 1e-6)
}

func TestFastExitLiquidatesAndAutoStops(t *testing.T) {
	h := newHarness(t, nil)
	startDipStrategy(t, h)

	// +90% lands in the good tier
	h.move(1.672, time.Minute)
	h.tick(t, "wld-dips")

	st := h.status(t, "wld-dips")
	assert.Equal(t, 0, st.Exposure.Count)
	assert.Equal(t, 1, st.CompletedCycles)
	assert.False(t, st.IsActive)

	completed := h.events.ofType(events.EventTypeStrategyCompleted)
	require.Len(t, completed, 1)
	sc := completed[0].(*events.StrategyCompleted)
	assert.True(t, sc.AutoStopped)
	assert.Equal(t, string(strategy.ExitReasonFastExit), sc.ExitReason)
	assert.InDelta(t, 9.0, sc.RealizedPnL, 1e-6)

	l, _ := h.ledger.Get(wld)
	assert.InDelta(t, 0, l.QuantityHeld, 1e-9)
	assert.Greater(t, l.RealizedProfit, 0.0)

	assert.Error(t, h.engine.StartStrategy("wld-dips"), "max cycles reached")
}

func TestQuickTierInsideRangeLiquidates(t *testing.T) {
	h := newHarness(t, nil)
	startDipStrategy(t, h)

	// +25% is past the first 10% step but also in the quick tier
	h.move(1.1, time.Minute)
	h.tick(t, "wld-dips")

	assert.Empty(t, h.events.ofType(events.EventTypeProfitStep))
	st := h.status(t, "wld-dips")
	assert.Equal(t, 0, st.Exposure.Count)
	assert.Equal(t, 1, st.CompletedCycles)

	completed := h.events.ofType(events.EventTypeStrategyCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, string(strategy.ExitReasonFastExit), completed[0].(*events.StrategyCompleted).ExitReason)
}

func TestPartialExitFillLeavesRemainderOpen(t *testing.T) {
	h := newHarness(t, func(c *Config, d *Deps) {
		d.Executor = &partialSellExecutor{Executor: paper.NewExecutor(d.Prices, paper.Config{}), asset: wld, n: 1}
	})
	startDipStrategy(t, h)
	bought := 10 / 0.88

	h.move(1.672, time.Minute)
	h.tick(t, "wld-dips")

	st := h.status(t, "wld-dips")
	assert.Equal(t, 1, st.Exposure.Count)
	assert.InDelta(t, bought/2, st.Exposure.Quantity, 1e-6)
	assert.Equal(t, 0, st.CompletedCycles)
	assert.True(t, st.IsActive)
	assert.Empty(t, h.events.ofType(events.EventTypeStrategyCompleted))

	l, _ := h.ledger.Get(wld)
	assert.InDelta(t, bought/2, l.QuantityHeld, 1e-6)

	// the next tick retries the exit for the remainder
	h.tick(t, "wld-dips")
	st = h.status(t, "wld-dips")
	assert.Equal(t, 0, st.Exposure.Count)
	assert.Equal(t, 1, st.CompletedCycles)
	require.Len(t, h.events.ofType(events.EventTypeStrategyCompleted), 1)
}

func TestBuySkippedWithoutLiquidity(t *testing.T) {
	tests := []struct {
		name    string
		maxSafe float64
		err     error
	}{
		{"no reported depth", 0, nil},
		{"analysis error", 0, errors.New("router liquidity: timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config, d *Deps) {
				d.Executor = &liquidityExecutor{Executor: paper.NewExecutor(d.Prices, paper.Config{}), maxSafe: tt.maxSafe, err: tt.err}
			})
			startDipStrategy(t, h)

			assert.Equal(t, 0, h.status(t, "wld-dips").Exposure.Count)
			assert.Empty(t, h.events.ofType(events.EventTypeTradeExecuted))
			l, ok := h.ledger.Get(wld)
			require.True(t, ok)
			assert.Equal(t, 0, l.BuyCount)
		})
	}
}

func TestBuyClampedToLiquidity(t *testing.T) {
	h := newHarness(t, func(c *Config, d *Deps) {
		d.Executor = &liquidityExecutor{Executor: paper.NewExecutor(d.Prices, paper.Config{}), maxSafe: 4}
	})
	startDipStrategy(t, h)

	st := h.status(t, "wld-dips")
	assert.Equal(t, 1, st.Exposure.Count)
	assert.InDelta(t, 4, st.Exposure.CostBasis, 1e-9)
	assert.InDelta(t, 4/0.88, st.Exposure.Quantity, 1e-6)
}

func TestLedgerGateHoldsBackBuyAboveDiscovery(t *testing.T) {
	h := newHarness(t, nil)
	cfg := dipConfig()
	cfg.EnforceLedgerGate = true
	h.quotes.set(wld, 1.0)
	_, err := h.engine.CreateStrategy(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, h.engine.StartStrategy(cfg.ID))

	h.move(1.30, time.Minute)
	h.move(1.14, time.Minute)
	h.tick(t, cfg.ID)

	assert.Equal(t, 0, h.status(t, cfg.ID).Exposure.Count, "12 percent dip but above the 1.00 discovery price")

	h.move(0.90, time.Minute)
	h.tick(t, cfg.ID)
	assert.Equal(t, 1, h.status(t, cfg.ID).Exposure.Count)
}

func TestBuyTriggerFiresOnceAndDeactivates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.quotes.set(wld, 1.0)

	tr, err := h.engine.CreateTrigger(ctx, triggers.Trigger{
		Asset:     wld,
		Action:    triggers.ActionBuy,
		Condition: triggers.ConditionPriceDrop,
		Threshold: 10,
		Timeframe: "1h",
		Amount:    5,
	})
	require.NoError(t, err)
	assert.Equal(t, usdc, tr.BaseToken)

	h.move(0.85, time.Hour)

	l, ok := h.ledger.Get(wld)
	require.True(t, ok)
	assert.InDelta(t, 5/0.85, l.QuantityHeld, 1e-6)

	fired := h.events.ofType(events.EventTypeTriggerFired)
	require.Len(t, fired, 1)
	assert.True(t, fired[0].(*events.TriggerFired).Success)

	list := h.engine.Triggers()
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].TriggerCount)
	assert.False(t, list[0].IsActive)

	h.move(0.70, time.Hour)
	assert.Len(t, h.events.ofType(events.EventTypeTriggerFired), 1, "exhausted trigger never fires again")
}

func TestSellTriggerWithoutHoldingsFails(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.quotes.set(wld, 1.0)

	_, err := h.engine.CreateTrigger(ctx, triggers.Trigger{
		Asset:     wld,
		Action:    triggers.ActionSell,
		Condition: triggers.ConditionPriceRise,
		Threshold: 10,
		Timeframe: "1h",
		Amount:    3,
	})
	require.NoError(t, err)

	h.move(1.2, time.Hour)

	list := h.engine.Triggers()
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].TriggerCount)
	assert.Equal(t, 1, list[0].Failures)
	assert.True(t, list[0].IsActive)
	assert.NotEmpty(t, list[0].LastError)

	fired := h.events.ofType(events.EventTypeTriggerFired)
	require.Len(t, fired, 1)
	assert.False(t, fired[0].(*events.TriggerFired).Success)
}

func TestSellTriggerLeavesStrategyExposure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	startDipStrategy(t, h)
	bought := 10 / 0.88

	// 2 WLD held outside any strategy
	_, err := h.ledger.RecordTrade(wld, ledger.TradeTypeBuy, 0.88, 2, h.clock.Now())
	require.NoError(t, err)

	first, err := h.engine.CreateTrigger(ctx, triggers.Trigger{
		Asset:     wld,
		Action:    triggers.ActionSell,
		Condition: triggers.ConditionPriceRise,
		Threshold: 5,
		Timeframe: "1h",
		Amount:    100,
	})
	require.NoError(t, err)

	h.move(0.95, time.Hour)

	var sold []*events.TradeExecuted
	for _, ev := range h.events.ofType(events.EventTypeTradeExecuted) {
		if te := ev.(*events.TradeExecuted); te.TriggerID == first.ID {
			sold = append(sold, te)
		}
	}
	require.Len(t, sold, 1)
	assert.Equal(t, "sell", sold[0].Side)
	assert.InDelta(t, 2, sold[0].Quantity, 1e-9)

	l, _ := h.ledger.Get(wld)
	assert.InDelta(t, bought, l.QuantityHeld, 1e-6)
	assert.InDelta(t, bought, h.status(t, "wld-dips").Exposure.Quantity, 1e-6)

	// everything left belongs to the strategy
	second, err := h.engine.CreateTrigger(ctx, triggers.Trigger{
		Asset:     wld,
		Action:    triggers.ActionSell,
		Condition: triggers.ConditionPriceRise,
		Threshold: 5,
		Timeframe: "1h",
		Amount:    100,
	})
	require.NoError(t, err)

	h.move(1.0, time.Hour)

	for _, tr := range h.engine.Triggers() {
		if tr.ID != second.ID {
			continue
		}
		assert.Equal(t, 0, tr.TriggerCount)
		assert.Equal(t, 1, tr.Failures)
		assert.True(t, tr.IsActive)
	}
	l, _ = h.ledger.Get(wld)
	assert.InDelta(t, bought, l.QuantityHeld, 1e-6)
	assert.Equal(t, 1, l.SellCount)
	assert.InDelta(t, bought, h.status(t, "wld-dips").Exposure.Quantity, 1e-6)
}

func TestAssetDroppedAfterPersistentFailures(t *testing.T) {
	tests := []struct {
		name    string
		step    time.Duration
		dropped bool
	}{
		{"21 failures over 30 hours", 90 * time.Minute, true},
		{"21 failures over 2 hours", 6 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			h.quotes.set(wld, 1.0)
			_, err := h.engine.CreateStrategy(ctx, dipConfig())
			require.NoError(t, err)
			require.NoError(t, h.engine.StartStrategy("wld-dips"))

			h.quotes.fail(errors.New("router unavailable"))
			for i := 0; i < 21; i++ {
				h.clock.Advance(tt.step)
				h.engine.Refresh(ctx)
			}

			rec, tracked := h.engine.assets.get(wld)
			assert.Equal(t, !tt.dropped, tracked)
			assert.True(t, h.ledger.IsTracked(wld), "ledger survives a drop")
			assert.Equal(t, !tt.dropped, h.status(t, "wld-dips").IsActive)

			dropped := h.events.ofType(events.EventTypeAssetDropped)
			if tt.dropped {
				require.Len(t, dropped, 1)
				assert.Equal(t, 20, dropped[0].(*events.AssetDropped).Failures)
				assert.Equal(t, 0, h.prices.Len(wld))
				return
			}
			assert.Empty(t, dropped)
			assert.Equal(t, 21, rec.ConsecutiveFailures)
			assert.Equal(t, 1, h.prices.Len(wld))
		})
	}
}

func TestQuoteRecoveryResetsFailureStreak(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.quotes.set(wld, 1.0)
	require.NoError(t, h.engine.AddAsset(ctx, AssetSpec{Address: wld, Symbol: "WLD"}))

	h.quotes.fail(errors.New("timeout"))
	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Minute)
		h.engine.Refresh(ctx)
	}
	rec, _ := h.engine.assets.get(wld)
	assert.Equal(t, 3, rec.ConsecutiveFailures)

	// the per-asset breaker stays closed below five failures
	h.move(1.05, time.Minute)
	rec, _ = h.engine.assets.get(wld)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.True(t, rec.FirstFailureAt.IsZero())

	p, ok := h.prices.Latest(wld)
	require.True(t, ok)
	assert.Equal(t, 1.05, p.Price)
	assert.Equal(t, "fake", p.Source)
}

func TestAssetManagement(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.quotes.set(wld, 1.0)

	err := h.engine.AddAsset(ctx, AssetSpec{Address: "not-an-address"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boterrors.ErrValidation))

	require.NoError(t, h.engine.AddAsset(ctx, AssetSpec{Address: wld, Symbol: "WLD"}))
	require.NoError(t, h.engine.AddAsset(ctx, AssetSpec{Address: wld, Symbol: "WLD"}), "adding twice is a no-op")
	assert.Equal(t, 1, h.prices.Len(wld))

	_, err = h.engine.CreateStrategy(ctx, dipConfig())
	require.NoError(t, err)
	_, err = h.engine.CreateStrategy(ctx, dipConfig())
	assert.Error(t, err, "duplicate strategy id")

	require.NoError(t, h.engine.StartStrategy("wld-dips"))
	assert.Error(t, h.engine.RemoveAsset(wld), "asset used by an active strategy")

	require.NoError(t, h.engine.StopStrategy("wld-dips"))
	require.NoError(t, h.engine.RemoveAsset(wld))
	assert.False(t, h.ledger.IsTracked(wld))
	assert.Equal(t, 0, h.prices.Len(wld))

	err = h.engine.RemoveAsset(wld)
	assert.True(t, errors.Is(err, boterrors.ErrUnknownAsset))
}

func TestSnapshotRestoresEngineState(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "snapshot.json"), 1)
	require.NoError(t, err)

	h := newHarness(t, func(_ *Config, d *Deps) { d.Snapshots = store })
	startDipStrategy(t, h)
	_, err = h.engine.CreateTrigger(ctx, triggers.Trigger{
		Asset:     wld,
		Action:    triggers.ActionSell,
		Condition: triggers.ConditionPriceRise,
		Threshold: 50,
		Timeframe: "24h",
		Amount:    1,
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.SaveSnapshot(ctx))

	restored := newHarness(t, func(c *Config, d *Deps) {
		d.Snapshots = store
		c.RefreshInterval = time.Hour
		c.SnapshotInterval = time.Hour
	})
	restored.quotes.set(wld, 0.9)
	require.NoError(t, restored.engine.Start(ctx))
	assert.True(t, restored.engine.IsRunning())

	st := restored.engine.Status()
	require.Len(t, st.Strategies, 1)
	assert.True(t, st.Strategies[0].IsActive)
	assert.Equal(t, 1, st.Strategies[0].Exposure.Count)
	assert.Len(t, st.Triggers, 1)
	require.Len(t, st.Assets, 1)
	assert.Equal(t, wld, st.Assets[0].Address)

	l, ok := restored.ledger.Get(wld)
	require.True(t, ok)
	assert.InDelta(t, 10/0.88, l.QuantityHeld, 1e-6)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, restored.engine.Stop(stopCtx))
	assert.False(t, restored.engine.IsRunning())

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Strategies, 1)
}

func TestStartWithoutSnapshotIsFreshStart(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.RefreshInterval = time.Hour })
	ctx := context.Background()
	require.NoError(t, h.engine.Start(ctx))
	assert.Error(t, h.engine.Start(ctx), "second start is refused")

	st := h.engine.Status()
	assert.True(t, st.Running)
	assert.Empty(t, st.Strategies)

	require.NoError(t, h.engine.Stop(ctx))
	require.NoError(t, h.engine.Stop(ctx), "stopping twice is harmless")
}
