package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/logger"
)

// Quote is a price together with the source that produced it
type Quote struct {
	Price  float64 `json:"price"`
	Source string  `json:"source"`
}

// QuoteChain asks each source in order and returns the first valid price.
// The order is fixed at construction and exposed through Sources.
type QuoteChain struct {
	sources []QuoteProvider
	logger  *logger.Logger
}

// NewQuoteChain builds a chain; nil sources are skipped.
func NewQuoteChain(log *logger.Logger, sources ...QuoteProvider) *QuoteChain {
	if log == nil {
		log = logger.NewNop()
	}
	chain := &QuoteChain{logger: log}
	for _, src := range sources {
		if src != nil {
			chain.sources = append(chain.sources, src)
		}
	}
	return chain
}

// Name implements QuoteProvider
func (c *QuoteChain) Name() string {
	return "chain(" + strings.Join(c.Sources(), ",") + ")"
}

// Sources returns source names in fallback order
func (c *QuoteChain) Sources() []string {
	names := make([]string, len(c.sources))
	for i, src := range c.sources {
		names[i] = src.Name()
	}
	return names
}

// Quote tries every source in order
func (c *QuoteChain) Quote(ctx context.Context, asset, base string) (Quote, error) {
	if len(c.sources) == 0 {
		return Quote{}, boterrors.NewQuoteError("quote_chain", "quote", fmt.Errorf("no quote sources configured"))
	}

	var failures []string
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return Quote{}, boterrors.NewQuoteError("quote_chain", "quote", err)
		}
		price, err := src.GetPrice(ctx, asset, base)
		if err == nil && (price <= 0 || math.IsNaN(price) || math.IsInf(price, 0)) {
			err = fmt.Errorf("invalid price %g", price)
		}
		if err != nil {
			c.logger.Debug("quote source %s failed for %s: %v", src.Name(), asset, err)
			failures = append(failures, fmt.Sprintf("%s: %v", src.Name(), err))
			continue
		}
		return Quote{Price: price, Source: src.Name()}, nil
	}

	return Quote{}, boterrors.NewQuoteError("quote_chain", "quote",
		fmt.Errorf("all sources failed: %s", strings.Join(failures, "; "))).WithContext("asset", asset)
}

// GetPrice implements QuoteProvider
func (c *QuoteChain) GetPrice(ctx context.Context, asset, base string) (float64, error) {
	q, err := c.Quote(ctx, asset, base)
	return q.Price, err
}
