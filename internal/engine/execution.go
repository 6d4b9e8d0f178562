package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
)

var (
	errNonPositivePrice = errors.New("quote returned a non-positive price")
	errEmptyFill        = errors.New("swap reported success without amounts")
)

// swap runs one swap behind the swap breaker. It is detached from the
// caller's cancellation and bounded by TradeTimeout so a stop request
// never abandons a trade halfway.
func (e *Engine) swap(ctx context.Context, op string, req exchange.SwapRequest) (exchange.SwapResult, error) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.TradeTimeout)
	defer cancel()

	if req.Wallet == "" {
		req.Wallet = e.cfg.Wallet
	}

	var res exchange.SwapResult
	err := e.swapBreaker.Execute(tctx, func(ctx context.Context) error {
		var serr error
		res, serr = e.executor.ExecuteSwap(ctx, req)
		if serr != nil {
			return serr
		}
		if !res.Success {
			return fmt.Errorf("swap rejected: %s", res.Error)
		}
		if res.AmountIn <= 0 || res.AmountOut <= 0 {
			return errEmptyFill
		}
		return nil
	})
	if err != nil {
		return res, boterrors.NewExecutionError(component, op, err)
	}
	return res, nil
}

// executeBuy sizes, clamps and executes an approved dip buy
func (e *Engine) executeBuy(ctx context.Context, s *strategy.Strategy, d strategy.DipDecision) error {
	cfg := s.Config()
	amount := d.Amount

	maxSafe, supported, err := exchange.MaxSafeAmount(ctx, e.executor, cfg.BaseToken, cfg.TargetAsset, cfg.MaxSlippage)
	if err != nil {
		e.logger.LogWarning("Liquidity", "analysis failed for %s, buy skipped: %v", cfg.TargetAsset, err)
		return nil
	}
	if supported {
		clamped, changed := strategy.ClampToLiquidity(amount, maxSafe)
		if clamped <= 0 {
			e.logger.Info("Strategy %s: WAIT (%s) for %s", s.ID(), strategy.WaitNoLiquidity, cfg.TargetAsset)
			return nil
		}
		if changed {
			e.logger.LogWarning("Liquidity", "strategy %s buy reduced from %.6f to %.6f", s.ID(), amount, clamped)
			amount = clamped
		}
	}

	res, err := e.swap(ctx, "buy", exchange.SwapRequest{
		TokenIn:     cfg.BaseToken,
		TokenOut:    cfg.TargetAsset,
		AmountIn:    amount,
		MaxSlippage: cfg.MaxSlippage,
	})
	if err != nil {
		e.tradeFailed(cfg.TargetAsset, "buy", err)
		return err
	}

	now := e.now()
	fill := strategy.Fill{
		Price:       res.EffectivePrice(true),
		AmountBase:  res.AmountIn,
		AmountAsset: res.AmountOut,
		TxRef:       res.TxRef,
		Timestamp:   now,
	}
	pos := s.RecordBuy(fill, d.Tier)
	e.recordLedger(cfg.TargetAsset, ledger.TradeTypeBuy, fill.Price, fill.AmountAsset, now)

	e.logger.LogTradeExecution("BUY", cfg.TargetAsset, res.TxRef, fill.AmountAsset, fill.Price, fill.AmountBase, s.Exposure().AveragePrice)
	e.tradeExecuted(s.ID(), "", cfg.TargetAsset, "buy", fill, fmt.Sprintf("dip %s %.2f%%", d.Tier, d.DipPercent))
	e.logger.Debug("Strategy %s opened position %s", s.ID(), pos.ID)
	return nil
}

// executeStep sells one profit range step
func (e *Engine) executeStep(ctx context.Context, s *strategy.Strategy, order strategy.StepOrder) error {
	cfg := s.Config()
	res, err := e.swap(ctx, "profit_step", exchange.SwapRequest{
		TokenIn:     cfg.TargetAsset,
		TokenOut:    cfg.BaseToken,
		AmountIn:    order.Quantity,
		MaxSlippage: cfg.MaxSlippage,
	})
	if err != nil {
		e.tradeFailed(cfg.TargetAsset, "sell", err)
		return err
	}

	now := e.now()
	fill := sellFill(res, now)
	result, err := s.RecordStepSell(order, fill)
	if err != nil {
		return err
	}
	e.recordLedger(cfg.TargetAsset, ledger.TradeTypeSell, fill.Price, fill.AmountAsset, now)

	e.logger.LogTradeExecution("SELL", cfg.TargetAsset, res.TxRef, fill.AmountAsset, fill.Price, fill.AmountBase, s.Exposure().AveragePrice)
	e.tradeExecuted(s.ID(), "", cfg.TargetAsset, "sell", fill, fmt.Sprintf("profit step %d at %.2f%%", order.Step.Index, order.Step.ProfitPercent))
	e.events.Publish(&events.ProfitStepExecuted{
		BaseEvent:      events.NewBaseEvent(events.EventTypeProfitStep, now),
		StrategyID:     s.ID(),
		Asset:          cfg.TargetAsset,
		Step:           order.Step.Index,
		ProfitPercent:  order.Step.ProfitPercent,
		SellPercentage: order.Step.SellPercentage,
		Price:          fill.Price,
		Quantity:       fill.AmountAsset,
	})

	e.completeCycle(s, result, strategy.ExitReasonProfitStep)
	return nil
}

// executeFullExit liquidates every open position of the strategy
func (e *Engine) executeFullExit(ctx context.Context, s *strategy.Strategy, reason strategy.ExitReason) error {
	cfg := s.Config()
	qty := s.Exposure().Quantity
	if qty <= 0 {
		return nil
	}

	res, err := e.swap(ctx, "full_exit", exchange.SwapRequest{
		TokenIn:     cfg.TargetAsset,
		TokenOut:    cfg.BaseToken,
		AmountIn:    qty,
		MaxSlippage: cfg.MaxSlippage,
	})
	if err != nil {
		e.tradeFailed(cfg.TargetAsset, "sell", err)
		return err
	}

	now := e.now()
	fill := sellFill(res, now)
	if fill.AmountAsset < qty {
		e.logger.LogWarning("Exit", "strategy %s partial fill %.6f of %.6f, remainder stays open", s.ID(), fill.AmountAsset, qty)
	}
	result := s.RecordFullExit(fill, reason)
	e.recordLedger(cfg.TargetAsset, ledger.TradeTypeSell, fill.Price, fill.AmountAsset, now)

	e.logger.LogTradeExecution("SELL", cfg.TargetAsset, res.TxRef, fill.AmountAsset, fill.Price, fill.AmountBase, 0)
	e.tradeExecuted(s.ID(), "", cfg.TargetAsset, "sell", fill, string(reason))
	e.completeCycle(s, result, reason)
	return nil
}

// CloseStrategy liquidates a strategy's open positions at market
func (e *Engine) CloseStrategy(ctx context.Context, id string) error {
	e.mu.RLock()
	r, ok := e.strategies[id]
	e.mu.RUnlock()
	if !ok {
		return strategyNotFound("close_strategy", id)
	}

	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	return e.executeFullExit(ctx, r.strategy, strategy.ExitReasonManual)
}

func sellFill(res exchange.SwapResult, now time.Time) strategy.Fill {
	return strategy.Fill{
		Price:       res.EffectivePrice(false),
		AmountBase:  res.AmountOut,
		AmountAsset: res.AmountIn,
		TxRef:       res.TxRef,
		Timestamp:   now,
	}
}

func (e *Engine) tradeExecuted(strategyID, triggerID, asset, side string, fill strategy.Fill, reason string) {
	e.metrics.TradeExecuted(asset, side, fill.AmountBase)
	e.events.Publish(&events.TradeExecuted{
		BaseEvent:  events.NewBaseEvent(events.EventTypeTradeExecuted, fill.Timestamp),
		StrategyID: strategyID,
		TriggerID:  triggerID,
		Asset:      asset,
		Side:       side,
		Price:      fill.Price,
		Quantity:   fill.AmountAsset,
		Value:      fill.AmountBase,
		TxRef:      fill.TxRef,
		Reason:     reason,
	})
}

func (e *Engine) tradeFailed(asset, side string, err error) {
	e.metrics.TradeFailed(asset, side)
	e.recovery.Record(err, boterrors.ErrorCategoryExecutionFailed, component, side)
}
