package exchange

import (
	"context"
	"time"
)

// Token identifies a tradeable asset by contract address
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// QuoteProvider returns the price of one unit of asset denominated in base
type QuoteProvider interface {
	Name() string
	GetPrice(ctx context.Context, asset, base string) (float64, error)
}

// SwapRequest describes a single swap. AmountIn is denominated in TokenIn.
type SwapRequest struct {
	Wallet      string  `json:"wallet"`
	TokenIn     string  `json:"token_in"`
	TokenOut    string  `json:"token_out"`
	AmountIn    float64 `json:"amount_in"`
	MaxSlippage float64 `json:"max_slippage"` // percent
}

// SwapResult is what the execution service reports back
type SwapResult struct {
	Success    bool      `json:"success"`
	TxRef      string    `json:"tx_ref"`
	AmountIn   float64   `json:"amount_in"`
	AmountOut  float64   `json:"amount_out"`
	ExecutedAt time.Time `json:"executed_at"`
	Error      string    `json:"error,omitempty"`
}

// EffectivePrice returns the fill price of the swap in base per asset unit.
// For a buy (base in, asset out) that is AmountIn/AmountOut, for a sell
// (asset in, base out) AmountOut/AmountIn.
func (r SwapResult) EffectivePrice(buy bool) float64 {
	if r.AmountIn <= 0 || r.AmountOut <= 0 {
		return 0
	}
	if buy {
		return r.AmountIn / r.AmountOut
	}
	return r.AmountOut / r.AmountIn
}

// SwapExecutor performs swaps
type SwapExecutor interface {
	Name() string
	ExecuteSwap(ctx context.Context, req SwapRequest) (SwapResult, error)
}

// LiquidityAnalyzer is an optional SwapExecutor capability reporting the
// largest input amount that stays within maxSlippage. 0 means no usable
// depth and +Inf means unbounded.
type LiquidityAnalyzer interface {
	AnalyzeLiquidity(ctx context.Context, tokenIn, tokenOut string, maxSlippage float64) (float64, error)
}

// MaxSafeAmount asks exec for a liquidity bound when it supports one.
// ok is false when the executor has no liquidity capability.
func MaxSafeAmount(ctx context.Context, exec SwapExecutor, tokenIn, tokenOut string, maxSlippage float64) (amount float64, ok bool, err error) {
	analyzer, supported := exec.(LiquidityAnalyzer)
	if !supported {
		return 0, false, nil
	}
	amount, err = analyzer.AnalyzeLiquidity(ctx, tokenIn, tokenOut, maxSlippage)
	return amount, true, err
}
