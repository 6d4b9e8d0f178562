package ledger

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
)

const wld = "0x163f8c2467924be0ae7b5347228cabf260318753"

func TestRecordTradeUnknownAsset(t *testing.T) {
	l := New()
	_, err := l.RecordTrade("missing", TradeTypeBuy, 1, 1, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boterrors.ErrUnknownAsset))

	_, ok := l.Get("missing")
	assert.False(t, ok)
}

func TestRecordTradeRejectsInvalidInput(t *testing.T) {
	l := New()
	l.Track(wld, "WLD", 1)

	_, err := l.RecordTrade(wld, TradeTypeBuy, 0, 1, time.Now())
	assert.True(t, errors.Is(err, boterrors.ErrValidation))
	_, err = l.RecordTrade(wld, TradeTypeSell, 1, -2, time.Now())
	assert.True(t, errors.Is(err, boterrors.ErrValidation))
	_, err = l.RecordTrade(wld, TradeType("hold"), 1, 1, time.Now())
	assert.True(t, errors.Is(err, boterrors.ErrValidation))
}

// Two buys then a partial sell: 10 @0.10, 20 @0.05, sell 15 @0.08.
func TestWeightedAverageAndRealizedProfit(t *testing.T) {
	l := New()
	require.True(t, l.Track(wld, "WLD", 0.12))
	assert.False(t, l.Track(wld, "WLD", 0.5))

	_, err := l.RecordTrade(wld, TradeTypeBuy, 0.10, 10, time.Now())
	require.NoError(t, err)
	_, err = l.RecordTrade(wld, TradeTypeBuy, 0.05, 20, time.Now())
	require.NoError(t, err)

	state, ok := l.Get(wld)
	require.True(t, ok)
	assert.InDelta(t, 2.0/30.0, state.WeightedAveragePrice, 1e-12)
	assert.InDelta(t, 2.0, state.TotalCostBasis, 1e-12)
	assert.Equal(t, 30.0, state.QuantityHeld)
	assert.Equal(t, 0.05, state.BestBuyPrice)
	assert.Equal(t, 2, state.BuyCount)

	trade, err := l.RecordTrade(wld, TradeTypeSell, 0.08, 15, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 1.2, trade.Value, 1e-12)

	state, _ = l.Get(wld)
	assert.InDelta(t, 2.0/30.0, state.WeightedAveragePrice, 1e-12)
	assert.InDelta(t, (0.08-2.0/30.0)*15, state.RealizedProfit, 1e-12)
	assert.InDelta(t, 0.20, state.RealizedProfit, 1e-9)
	assert.Equal(t, 15.0, state.QuantityHeld)
	assert.Equal(t, 0.08, state.WorstSellPrice)
	assert.Equal(t, 0.08, state.MinSellPrice)
	assert.Equal(t, 1, state.SellCount)
	assert.True(t, InvariantHolds(state, 1e-9))
	assert.Len(t, state.TradeHistory, 3)
}

func TestSellFloorsQuantityAtZero(t *testing.T) {
	l := New()
	l.Track(wld, "WLD", 1)
	_, err := l.RecordTrade(wld, TradeTypeBuy, 1, 5, time.Now())
	require.NoError(t, err)
	_, err = l.RecordTrade(wld, TradeTypeSell, 2, 8, time.Now())
	require.NoError(t, err)

	state, _ := l.Get(wld)
	assert.Equal(t, 0.0, state.QuantityHeld)
	assert.Equal(t, 0.0, state.TotalCostBasis)
	assert.Equal(t, 1.0, state.WeightedAveragePrice)
	assert.True(t, InvariantHolds(state, 1e-9))

	// the next buy resets the average to its own price
	_, err = l.RecordTrade(wld, TradeTypeBuy, 3, 1, time.Now())
	require.NoError(t, err)
	state, _ = l.Get(wld)
	assert.Equal(t, 3.0, state.WeightedAveragePrice)
}

func TestInvariantHoldsForRandomBuySequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		l := New()
		l.Track(wld, "WLD", 1)
		for i := 0; i < 40; i++ {
			price := 0.001 + rng.Float64()*100
			qty := 0.01 + rng.Float64()*1000
			tradeType := TradeTypeBuy
			if i%5 == 4 {
				tradeType = TradeTypeSell
			}
			before, _ := l.Get(wld)
			_, err := l.RecordTrade(wld, tradeType, price, qty, time.Now())
			require.NoError(t, err)

			after, _ := l.Get(wld)
			require.True(t, InvariantHolds(after, 1e-9))
			if tradeType == TradeTypeSell {
				require.Equal(t, before.WeightedAveragePrice, after.WeightedAveragePrice)
			} else {
				require.InDelta(t, after.TotalCostBasis/after.QuantityHeld, after.WeightedAveragePrice,
					1e-9*after.WeightedAveragePrice)
			}
		}
	}
}

func TestIsGoodBuyPrice(t *testing.T) {
	l := New()
	l.Track(wld, "WLD", 1.0)

	good, err := l.IsGoodBuyPrice(wld, 0.9)
	require.NoError(t, err)
	assert.True(t, good, "untraded asset below discovery price")

	good, _ = l.IsGoodBuyPrice(wld, 1.0)
	assert.False(t, good)

	_, err = l.RecordTrade(wld, TradeTypeBuy, 0.8, 10, time.Now())
	require.NoError(t, err)

	for _, price := range []float64{0.8, 0.85, 2} {
		good, _ = l.IsGoodBuyPrice(wld, price)
		assert.False(t, good, "price %.2f at or above average", price)
	}
	good, _ = l.IsGoodBuyPrice(wld, 0.7)
	assert.True(t, good)

	// selling at 0.6 below the average forbids re-buying at or above 0.6
	_, err = l.RecordTrade(wld, TradeTypeSell, 0.6, 1, time.Now())
	require.NoError(t, err)
	good, _ = l.IsGoodBuyPrice(wld, 0.7)
	assert.False(t, good)
	good, _ = l.IsGoodBuyPrice(wld, 0.55)
	assert.True(t, good)

	_, err = l.IsGoodBuyPrice("missing", 1)
	assert.True(t, errors.Is(err, boterrors.ErrUnknownAsset))
}

func TestMinSellPriceTrackedPerTrade(t *testing.T) {
	l := New()
	require.True(t, l.Track(wld, "WLD", 1.2))
	for _, tr := range []struct {
		typ   TradeType
		price float64
		qty   float64
	}{
		{TradeTypeBuy, 1.0, 10},
		{TradeTypeSell, 0.9, 1},
		{TradeTypeSell, 0.7, 1},
		{TradeTypeSell, 0.8, 1},
	} {
		_, err := l.RecordTrade(wld, tr.typ, tr.price, tr.qty, time.Now())
		require.NoError(t, err)
	}

	state, _ := l.Get(wld)
	assert.Equal(t, 0.7, state.MinSellPrice)
	assert.Equal(t, 0.9, state.WorstSellPrice)

	// snapshots written before the field existed are backfilled from history
	snap := l.Snapshot()
	old := snap[wld]
	old.MinSellPrice = 0
	snap[wld] = old

	restored := New()
	restored.Restore(snap)
	state, _ = restored.Get(wld)
	assert.Equal(t, 0.7, state.MinSellPrice)

	good, err := restored.IsGoodBuyPrice(wld, 0.75)
	require.NoError(t, err)
	assert.False(t, good, "below average but above the lowest sell")
	good, _ = restored.IsGoodBuyPrice(wld, 0.65)
	assert.True(t, good)
}

func TestMarkToMarketAndSummary(t *testing.T) {
	l := New()
	l.Track("A", "AAA", 2)
	l.Track("B", "BBB", 5)
	_, err := l.RecordTrade("A", TradeTypeBuy, 2, 10, time.Now())
	require.NoError(t, err)

	unrealized, err := l.MarkToMarket("A", 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, unrealized, 1e-12)

	sum := l.Summary()
	assert.Equal(t, 2, sum.Assets)
	assert.Equal(t, 1, sum.HeldAssets)
	assert.InDelta(t, 20.0, sum.TotalCostBasis, 1e-12)
	assert.InDelta(t, 25.0, sum.MarketValue, 1e-12)
	assert.InDelta(t, 5.0, sum.Unrealized, 1e-12)

	_, err = l.MarkToMarket("C", 1)
	assert.True(t, errors.Is(err, boterrors.ErrUnknownAsset))
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	l := New()
	l.Track("A", "AAA", 1)
	_, err := l.RecordTrade("A", TradeTypeBuy, 1, 1, time.Now())
	require.NoError(t, err)

	snap := l.Snapshot()
	a := snap["A"]
	a.TradeHistory[0].Price = 99
	a.QuantityHeld = 100

	current, _ := l.Get("A")
	assert.Equal(t, 1.0, current.TradeHistory[0].Price)
	assert.Equal(t, 1.0, current.QuantityHeld)

	restored := New()
	restored.Restore(snap)
	state, ok := restored.Get("A")
	require.True(t, ok)
	assert.Equal(t, 1.0, state.QuantityHeld)

	assert.True(t, restored.Untrack("A"))
	assert.False(t, restored.Untrack("A"))
	assert.Empty(t, restored.Assets())
}

func TestConcurrentTradesKeepInvariant(t *testing.T) {
	l := New()
	l.Track("A", "AAA", 1)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = l.RecordTrade("A", TradeTypeBuy, float64(g+1), 1, time.Time{})
				_ = l.Summary()
			}
		}(g)
	}
	wg.Wait()

	state, _ := l.Get("A")
	assert.Equal(t, 800.0, state.QuantityHeld)
	assert.InDelta(t, 4.5, state.WeightedAveragePrice, 1e-9)
	assert.True(t, InvariantHolds(state, 1e-9))
}
