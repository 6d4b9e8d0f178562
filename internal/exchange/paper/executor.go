package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/pricing"
)

// PriceSource returns the latest known price of an asset in its base token.
// *pricing.Store satisfies it.
type PriceSource interface {
	Latest(asset string) (pricing.PricePoint, bool)
}

// Config tunes the simulated fills
type Config struct {
	// SlippagePercent is applied against the trader on every fill
	SlippagePercent float64
	// FeePercent is deducted from the output amount
	FeePercent float64
	// MaxSafeAmount is reported by AnalyzeLiquidity. 0 means unlimited and
	// is reported as +Inf.
	MaxSafeAmount float64
}

// Executor simulates swaps against the latest stored price. It is used in
// demo mode and by tests; no funds move.
type Executor struct {
	prices PriceSource
	cfg    Config
	now    func() time.Time

	mu    sync.Mutex
	fills []exchange.SwapResult
}

// NewExecutor creates a paper executor
func NewExecutor(prices PriceSource, cfg Config) *Executor {
	return &Executor{prices: prices, cfg: cfg, now: time.Now}
}

// Name implements exchange.SwapExecutor
func (e *Executor) Name() string {
	return "paper"
}

// ExecuteSwap fills a buy when TokenOut has a stored price and a sell when
// TokenIn has one.
func (e *Executor) ExecuteSwap(ctx context.Context, req exchange.SwapRequest) (exchange.SwapResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.SwapResult{}, err
	}
	if req.AmountIn <= 0 {
		return exchange.SwapResult{Success: false, Error: "amount must be positive"}, nil
	}
	if req.MaxSlippage > 0 && e.cfg.SlippagePercent > req.MaxSlippage {
		return exchange.SwapResult{
			Success: false,
			Error:   fmt.Sprintf("simulated slippage %.2f%% exceeds max %.2f%%", e.cfg.SlippagePercent, req.MaxSlippage),
		}, nil
	}

	amountIn := decimal.NewFromFloat(req.AmountIn)
	hundred := decimal.NewFromInt(100)
	slip := decimal.NewFromFloat(e.cfg.SlippagePercent).Div(hundred)
	fee := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(e.cfg.FeePercent).Div(hundred))

	var amountOut decimal.Decimal
	if point, ok := e.prices.Latest(req.TokenOut); ok {
		// buy: base in, asset out, paying price * (1 + slippage)
		fill := decimal.NewFromFloat(point.Price).Mul(decimal.NewFromInt(1).Add(slip))
		amountOut = amountIn.DivRound(fill, 18).Mul(fee)
	} else if point, ok := e.prices.Latest(req.TokenIn); ok {
		// sell: asset in, base out, receiving price * (1 - slippage)
		fill := decimal.NewFromFloat(point.Price).Mul(decimal.NewFromInt(1).Sub(slip))
		amountOut = amountIn.Mul(fill).Mul(fee)
	} else {
		return exchange.SwapResult{Success: false, Error: "no price for either side of the swap"}, nil
	}

	out, _ := amountOut.Round(18).Float64()
	result := exchange.SwapResult{
		Success:    out > 0,
		TxRef:      "paper-" + uuid.NewString(),
		AmountIn:   req.AmountIn,
		AmountOut:  out,
		ExecutedAt: e.now(),
	}
	if !result.Success {
		result.Error = "simulated output is zero"
	}

	e.mu.Lock()
	e.fills = append(e.fills, result)
	e.mu.Unlock()
	return result, nil
}

// AnalyzeLiquidity implements exchange.LiquidityAnalyzer
func (e *Executor) AnalyzeLiquidity(ctx context.Context, tokenIn, tokenOut string, maxSlippage float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if e.cfg.MaxSafeAmount <= 0 {
		return math.Inf(1), nil
	}
	return e.cfg.MaxSafeAmount, nil
}

// Fills returns the simulated fills in execution order
func (e *Executor) Fills() []exchange.SwapResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]exchange.SwapResult, len(e.fills))
	copy(out, e.fills)
	return out
}
