package paper

import (
	"context"
	"math/rand"
	"sync"
)

// WalkConfig shapes the simulated market
type WalkConfig struct {
	// StartPrice is the first quote of an asset without a configured start
	StartPrice float64
	// Volatility is the full width of one step as a fraction, 0.02 = ±1%
	Volatility float64
	// Trend is added to every step as a fraction
	Trend float64
	Seed  int64
}

// Walk is a random-walk quote source for demo runs. Each GetPrice call
// advances the asset one step.
type Walk struct {
	cfg WalkConfig

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

// NewWalk creates a walk; starts pins the first price of some assets
func NewWalk(cfg WalkConfig, starts map[string]float64) *Walk {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 1
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.02
	}
	w := &Walk{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		prices: make(map[string]float64, len(starts)),
	}
	for asset, p := range starts {
		if p > 0 {
			w.prices[asset] = p
		}
	}
	return w
}

// Name implements exchange.QuoteProvider
func (w *Walk) Name() string {
	return "walk"
}

// GetPrice implements exchange.QuoteProvider
func (w *Walk) GetPrice(ctx context.Context, asset, base string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	price, ok := w.prices[asset]
	if !ok {
		price = w.cfg.StartPrice
		w.prices[asset] = price
		return price, nil
	}
	change := (w.rng.Float64()-0.5)*w.cfg.Volatility + w.cfg.Trend
	price *= 1 + change
	// never let the walk reach zero
	floor := w.cfg.StartPrice * 0.01
	if price < floor {
		price = floor
	}
	w.prices[asset] = price
	return price, nil
}
