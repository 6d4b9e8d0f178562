package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
)

// strategyRunner drives one strategy on its own price check interval.
// tickMu serializes ticks so a restarted runner never overlaps the
// previous goroutine's in-flight tick.
type strategyRunner struct {
	strategy *strategy.Strategy
	cancel   context.CancelFunc

	tickMu       sync.Mutex
	lastObserved time.Time
}

// halt cancels the runner goroutine; callers hold e.mu
func (r *strategyRunner) halt() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// launchLocked starts the runner goroutine unless it is already running
func (e *Engine) launchLocked(r *strategyRunner) {
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(e.loopCtx)
	r.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runStrategy(ctx, r)
	}()
}

func (e *Engine) runStrategy(ctx context.Context, r *strategyRunner) {
	ticker := time.NewTicker(r.strategy.Config().PriceCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickStrategy(ctx, r)
		}
	}
}

// tickStrategy runs one evaluation: exits first, then the dip path. A
// panic in a tick is logged and the runner keeps going.
func (e *Engine) tickStrategy(ctx context.Context, r *strategyRunner) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	s := r.strategy
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Recovered from panic in strategy %s: %v\n%s", s.ID(), rec, debug.Stack())
		}
	}()

	if !s.IsActive() || ctx.Err() != nil {
		return
	}
	started := e.now()
	defer func() { e.metrics.StrategyTick(s.ID(), e.now().Sub(started)) }()

	cfg := s.Config()
	point, ok := e.prices.Latest(cfg.TargetAsset)
	if !ok {
		e.logger.Debug("Strategy %s: no price for %s yet", s.ID(), cfg.TargetAsset)
		return
	}
	now := e.now()
	if now.Sub(point.Timestamp) > e.cfg.StaleBound {
		e.logger.LogWarning("Strategy", "%s: last price of %s is stale (%s), skipping tick",
			s.ID(), cfg.TargetAsset, point.Timestamp.Format(time.RFC3339))
		return
	}
	price := point.Price

	// only new observations feed the volatility classifier
	if point.Timestamp.After(r.lastObserved) {
		r.lastObserved = point.Timestamp
		if from, to, changed := s.Observe(price); changed {
			e.logger.Status("Strategy %s volatility %s -> %s", s.ID(), from, to)
			e.events.Publish(&events.VolatilityChanged{
				BaseEvent:  events.NewBaseEvent(events.EventTypeVolatilityChanged, now),
				StrategyID: s.ID(),
				Asset:      cfg.TargetAsset,
				From:       string(from),
				To:         string(to),
			})
		}
	}

	if s.Exposure().Count > 0 {
		sold, err := e.checkExits(ctx, s, price, now)
		if err != nil {
			e.logger.LogError(fmt.Sprintf("strategy %s exit", s.ID()), err)
		}
		if sold {
			return
		}
	}

	e.checkDip(ctx, s, price, now)
}

// checkExits runs the fast exit check and then the profit range. At most
// one sell happens per tick.
func (e *Engine) checkExits(ctx context.Context, s *strategy.Strategy, price float64, now time.Time) (bool, error) {
	if fe := s.FastExit(price); fe.Exit {
		e.logger.Info("Strategy %s fast exit: %s tier at %.2f%%", s.ID(), fe.Tier, fe.PnLPercent)
		return true, e.executeFullExit(ctx, s, strategy.ExitReasonFastExit)
	}

	created, err := s.EnsureSchedule(now)
	if err != nil {
		return false, err
	}
	if created {
		e.logger.Info("Strategy %s profit range activated", s.ID())
	}

	order, due := s.NextStep(price)
	if !due {
		return false, nil
	}
	return true, e.executeStep(ctx, s, order)
}

func (e *Engine) checkDip(ctx context.Context, s *strategy.Strategy, price float64, now time.Time) {
	cfg := s.Config()
	history := e.prices.History(cfg.TargetAsset, now.Add(-cfg.DipLookbackWindow))
	window := make([]float64, len(history))
	for i, p := range history {
		window[i] = p.Price
	}

	decision := s.EvaluateDip(price, window, now)
	if !decision.Approved() {
		e.logger.Debug("Strategy %s: %s", s.ID(), decision)
		return
	}

	if cfg.EnforceLedgerGate {
		good, err := e.ledger.IsGoodBuyPrice(cfg.TargetAsset, price)
		if err != nil {
			e.logger.Debug("Strategy %s ledger gate: %v", s.ID(), err)
		}
		if err == nil && !good {
			e.logger.Info("Strategy %s: %s held back by ledger gate at %.8f", s.ID(), decision.Tier, price)
			return
		}
	}

	if err := e.executeBuy(ctx, s, decision); err != nil {
		e.logger.LogError(fmt.Sprintf("strategy %s buy", s.ID()), err)
	}
}

// completeCycle reports a sold out cycle and stops the runner when the
// strategy reached its cycle limit
func (e *Engine) completeCycle(s *strategy.Strategy, res strategy.CycleResult, reason strategy.ExitReason) {
	if !res.Completed {
		return
	}
	cfg := s.Config()
	exitPrice := res.EntryPrice * (1 + res.ProfitPercent/100)
	e.logger.LogCycleCompletion(s.ID(), res.EntryPrice, exitPrice, res.ProfitPercent, res.Cycle)

	e.events.Publish(&events.StrategyCompleted{
		BaseEvent:       events.NewBaseEvent(events.EventTypeStrategyCompleted, e.now()),
		StrategyID:      s.ID(),
		Asset:           cfg.TargetAsset,
		CompletedCycles: res.Cycle,
		MaxCycles:       cfg.MaxCycles,
		RealizedPnL:     res.RealizedPnL,
		ExitReason:      string(reason),
		AutoStopped:     res.AutoStopped,
	})

	if res.AutoStopped {
		e.logger.Status("Strategy %s reached %d cycles and stopped", s.ID(), cfg.MaxCycles)
		e.mu.Lock()
		if r, ok := e.strategies[s.ID()]; ok {
			r.halt()
		}
		e.mu.Unlock()
	}
}

// recordLedger mirrors a fill into the asset ledger
func (e *Engine) recordLedger(asset string, side ledger.TradeType, price, qty float64, at time.Time) {
	if !e.ledger.IsTracked(asset) {
		e.ledger.Track(asset, "", 0)
	}
	if _, err := e.ledger.RecordTrade(asset, side, price, qty, at); err != nil {
		e.logger.LogError("ledger record", err)
	}
}
