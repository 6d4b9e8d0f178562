package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/triggers"
)

var errNothingToSell = errors.New("no uncommitted holdings to sell")

// dustFraction of the ledger holdings counts as nothing left to sell
const dustFraction = 1e-9

// evaluateTriggers tests every active trigger once and executes the
// matching ones in id order
func (e *Engine) evaluateTriggers(ctx context.Context) {
	now := e.now()
	for _, t := range e.book.Active() {
		if ctx.Err() != nil {
			return
		}
		ev, err := triggers.Evaluate(t, e.prices, now)
		if err != nil {
			if !errors.Is(err, boterrors.ErrInsufficientData) {
				e.logger.Debug("Trigger %s: %v", t.ID, err)
			}
			continue
		}
		if !ev.Matched {
			continue
		}
		e.logger.Info("Trigger %s matched: %s", t.ID, ev.Reason)
		e.fireTrigger(ctx, t, ev)
	}
}

func (e *Engine) fireTrigger(ctx context.Context, t triggers.Trigger, ev triggers.Evaluation) {
	fill, err := e.executeTrigger(ctx, t)
	if err != nil {
		e.tradeFailed(t.Asset, string(t.Action), err)
	}

	updated, ok := e.book.RecordFire(t.ID, err == nil, err)
	if !ok {
		return
	}
	e.metrics.TriggerFired(string(t.Action), err == nil)
	e.events.Publish(&events.TriggerFired{
		BaseEvent:    events.NewBaseEvent(events.EventTypeTriggerFired, e.now()),
		TriggerID:    t.ID,
		Asset:        t.Asset,
		Action:       string(t.Action),
		Condition:    string(t.Condition),
		Threshold:    t.Threshold,
		Price:        ev.Current,
		TriggerCount: updated.TriggerCount,
		MaxTriggers:  updated.MaxTriggers,
		Success:      err == nil,
	})
	if err != nil {
		e.logger.LogError(fmt.Sprintf("trigger %s", t.ID), err)
		return
	}

	side := string(t.Action)
	e.logger.LogTradeExecution(side, t.Asset, fill.TxRef, fill.AmountAsset, fill.Price, fill.AmountBase, 0)
	e.tradeExecuted("", t.ID, t.Asset, side, fill, fmt.Sprintf("trigger %s %.2f%%", t.Condition, t.Threshold))
	if !updated.IsActive {
		e.logger.Info("Trigger %s reached %d executions and was deactivated", t.ID, updated.TriggerCount)
	}
}

// executeTrigger swaps for a matched trigger. Buy amounts are in the base
// token; sell amounts are asset tokens capped at the holdings no strategy
// has committed.
func (e *Engine) executeTrigger(ctx context.Context, t triggers.Trigger) (strategy.Fill, error) {
	req := exchange.SwapRequest{MaxSlippage: t.MaxSlippage}
	buy := t.Action == triggers.ActionBuy

	if buy {
		req.TokenIn, req.TokenOut, req.AmountIn = t.BaseToken, t.Asset, t.Amount
	} else {
		free := e.uncommittedHoldings(t.Asset)
		if free <= 0 {
			return strategy.Fill{}, boterrors.NewExecutionError(component, "trigger_sell", errNothingToSell).
				WithContext("asset", t.Asset)
		}
		req.TokenIn, req.TokenOut, req.AmountIn = t.Asset, t.BaseToken, math.Min(t.Amount, free)
	}

	res, err := e.swap(ctx, "trigger_"+string(t.Action), req)
	if err != nil {
		return strategy.Fill{}, err
	}

	now := e.now()
	if !buy {
		fill := sellFill(res, now)
		e.recordLedger(t.Asset, ledger.TradeTypeSell, fill.Price, fill.AmountAsset, now)
		return fill, nil
	}
	fill := strategy.Fill{
		Price:       res.EffectivePrice(true),
		AmountBase:  res.AmountIn,
		AmountAsset: res.AmountOut,
		TxRef:       res.TxRef,
		Timestamp:   now,
	}
	e.recordLedger(t.Asset, ledger.TradeTypeBuy, fill.Price, fill.AmountAsset, now)
	return fill, nil
}

// uncommittedHoldings is the ledger quantity of asset minus the open
// exposure of every strategy trading it
func (e *Engine) uncommittedHoldings(asset string) float64 {
	l, ok := e.ledger.Get(asset)
	if !ok || l.QuantityHeld <= 0 {
		return 0
	}

	committed := 0.0
	e.mu.RLock()
	for _, r := range e.strategies {
		if r.strategy.Config().TargetAsset == asset {
			committed += r.strategy.Exposure().Quantity
		}
	}
	e.mu.RUnlock()

	free := l.QuantityHeld - committed
	if free <= l.QuantityHeld*dustFraction {
		return 0
	}
	return free
}
