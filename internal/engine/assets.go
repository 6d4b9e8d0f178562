package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/safety"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/state"
)

// maxRefreshConcurrency bounds the quote fan-out of one refresh cycle
const maxRefreshConcurrency = 8

type trackedAsset struct {
	record  state.AssetRecord
	breaker *safety.CircuitBreaker
}

type assetRegistry struct {
	mu     sync.RWMutex
	assets map[string]*trackedAsset
}

func newAssetRegistry() *assetRegistry {
	return &assetRegistry{assets: make(map[string]*trackedAsset)}
}

// add registers rec unless its address is already tracked
func (r *assetRegistry) add(rec state.AssetRecord, breaker *safety.CircuitBreaker) (trackedAsset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.assets[rec.Address]; ok {
		return *existing, false
	}
	a := &trackedAsset{record: rec, breaker: breaker}
	r.assets[rec.Address] = a
	return *a, true
}

func (r *assetRegistry) remove(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.assets[address]
	delete(r.assets, address)
	return ok
}

func (r *assetRegistry) get(address string) (state.AssetRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[address]
	if !ok {
		return state.AssetRecord{}, false
	}
	return a.record, true
}

func (r *assetRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

// list returns copies ordered by address
func (r *assetRegistry) list() []trackedAsset {
	r.mu.RLock()
	out := make([]trackedAsset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, *a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].record.Address < out[j].record.Address })
	return out
}

func (r *assetRegistry) records() []state.AssetRecord {
	list := r.list()
	out := make([]state.AssetRecord, len(list))
	for i, a := range list {
		out[i] = a.record
	}
	return out
}

func (r *assetRegistry) recordSuccess(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assets[address]; ok {
		a.record.ConsecutiveFailures = 0
		a.record.FirstFailureAt = time.Time{}
	}
}

// recordFailure bumps the failure streak and returns the updated record
func (r *assetRegistry) recordFailure(address string, at time.Time) (state.AssetRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[address]
	if !ok {
		return state.AssetRecord{}, false
	}
	if a.record.ConsecutiveFailures == 0 {
		a.record.FirstFailureAt = at
	}
	a.record.ConsecutiveFailures++
	return a.record, true
}

func (e *Engine) newQuoteBreaker(address string) *safety.CircuitBreaker {
	cb := safety.NewCircuitBreaker("quote:"+address, safety.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          e.cfg.RefreshInterval * 2,
	}).WithClock(e.now)
	cb.SetStateChangeCallback(e.logBreakerChange)
	return cb
}

// quoter is implemented by providers that report which source answered
type quoter interface {
	Quote(ctx context.Context, asset, base string) (exchange.Quote, error)
}

func (e *Engine) fetchQuote(ctx context.Context, asset, base string) (float64, string, error) {
	if q, ok := e.quotes.(quoter); ok {
		quote, err := q.Quote(ctx, asset, base)
		return quote.Price, quote.Source, err
	}
	price, err := e.quotes.GetPrice(ctx, asset, base)
	return price, e.quotes.Name(), err
}

// Refresh fetches a quote for every tracked asset concurrently and then
// evaluates the triggers against the updated store. Per-asset failures
// never abort the cycle.
func (e *Engine) Refresh(ctx context.Context) {
	assets := e.assets.list()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxRefreshConcurrency)
	for _, a := range assets {
		g.Go(func() error {
			e.refreshAsset(gctx, a)
			return nil
		})
	}
	_ = g.Wait()

	if pruned := e.prices.Prune(); pruned > 0 {
		e.logger.Debug("Pruned %d price points past retention", pruned)
	}
	e.evaluateTriggers(ctx)
}

func (e *Engine) refreshAsset(ctx context.Context, a trackedAsset) {
	addr := a.record.Address
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QuoteTimeout)
	defer cancel()

	var (
		price  float64
		source string
	)
	err := a.breaker.Execute(qctx, func(ctx context.Context) error {
		var qerr error
		price, source, qerr = e.fetchQuote(ctx, addr, a.record.BaseToken)
		if qerr == nil && price <= 0 {
			qerr = boterrors.NewQuoteError(component, "refresh", errNonPositivePrice)
		}
		return qerr
	})
	if err != nil {
		if ctx.Err() != nil && qctx.Err() == nil {
			return
		}
		e.handleQuoteFailure(a, err)
		return
	}

	now := e.now()
	if !e.prices.Ingest(addr, price, source, now) {
		return
	}
	e.assets.recordSuccess(addr)
	e.prices.RefreshSMA(addr)
	e.metrics.PriceIngested(addr, source, price)

	if e.ledger.SetDiscoveryPrice(addr, price) {
		e.logger.Info("Discovery price for %s set to %.8f", addr, price)
	}
	if _, err := e.ledger.MarkToMarket(addr, price); err != nil {
		e.logger.Debug("mark to market %s: %v", addr, err)
	}
}

func (e *Engine) handleQuoteFailure(a trackedAsset, err error) {
	addr := a.record.Address
	now := e.now()
	e.metrics.QuoteFailed(addr)
	e.recovery.Record(err, boterrors.ErrorCategoryQuoteUnavailable, component, "refresh")

	rec, ok := e.assets.recordFailure(addr, now)
	if !ok {
		return
	}

	if last, ok := e.prices.Latest(addr); ok && now.Sub(last.Timestamp) <= e.cfg.StaleBound {
		e.logger.LogWarning("Quote", "%s unavailable (%d in a row), using last price %.8f from %s",
			addr, rec.ConsecutiveFailures, last.Price, last.Timestamp.Format(time.RFC3339))
	} else {
		e.logger.LogWarning("Quote", "%s unavailable (%d in a row), no fresh price", addr, rec.ConsecutiveFailures)
	}

	if rec.ConsecutiveFailures >= e.cfg.MaxConsecutiveFailures && now.Sub(rec.FirstFailureAt) > e.cfg.DropAfter {
		e.dropAsset(rec)
	}
}

// dropAsset removes a persistently unquotable asset. Its ledger stays so
// holdings are not forgotten.
func (e *Engine) dropAsset(rec state.AssetRecord) {
	if !e.assets.remove(rec.Address) {
		return
	}
	e.prices.Remove(rec.Address)

	for _, t := range e.book.ForAsset(rec.Address) {
		if t.IsActive {
			e.book.SetActive(t.ID, false)
		}
	}

	e.mu.Lock()
	for _, r := range e.strategies {
		if r.strategy.Config().TargetAsset == rec.Address && r.strategy.IsActive() {
			r.strategy.Stop()
			r.halt()
			e.logger.LogWarning("Engine", "strategy %s stopped, its asset was dropped", r.strategy.ID())
		}
	}
	e.mu.Unlock()

	e.logger.Error("Dropped %s after %d consecutive quote failures since %s",
		rec.Address, rec.ConsecutiveFailures, rec.FirstFailureAt.Format(time.RFC3339))
	e.metrics.AssetDropped(rec.Address)
	e.metrics.AssetsTracked(e.assets.len())
	e.events.Publish(&events.AssetDropped{
		BaseEvent:    events.NewBaseEvent(events.EventTypeAssetDropped, e.now()),
		Asset:        rec.Address,
		Failures:     rec.ConsecutiveFailures,
		FailingSince: rec.FirstFailureAt,
	})
}

// refreshLoop drives Refresh on the configured interval
func (e *Engine) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	e.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Refresh(ctx)
		}
	}
}
