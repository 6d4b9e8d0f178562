// Package engine runs the monitoring loops: bulk price refresh, one
// goroutine per active strategy, trigger evaluation and periodic snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/exchange"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/logger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/pricing"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/recovery"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/safety"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/state"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/triggers"
)

const component = "engine"

// Config holds the engine timers and bounds
type Config struct {
	RefreshInterval        time.Duration
	QuoteTimeout           time.Duration
	TradeTimeout           time.Duration
	StaleBound             time.Duration // last known price fallback limit
	MaxConsecutiveFailures int
	DropAfter              time.Duration // failing streak span required to drop an asset
	SnapshotInterval       time.Duration
	Wallet                 string
	BaseToken              string // default for assets, strategies and triggers
}

func (c *Config) setDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = 10 * time.Second
	}
	if c.TradeTimeout <= 0 {
		c.TradeTimeout = 60 * time.Second
	}
	if c.StaleBound <= 0 {
		c.StaleBound = 24 * time.Hour
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 20
	}
	if c.DropAfter <= 0 {
		c.DropAfter = 24 * time.Hour
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 5 * time.Minute
	}
}

// Deps are the collaborators and registries the engine operates on. Prices,
// Ledger, Quotes and Executor are required.
type Deps struct {
	Prices    *pricing.Store
	Ledger    *ledger.Ledger
	Triggers  *triggers.Book
	Quotes    exchange.QuoteProvider
	Executor  exchange.SwapExecutor
	Snapshots state.Store
	Events    events.Publisher
	Logger    *logger.Logger
	Metrics   Recorder
	Validator *safety.Validator
	Now       func() time.Time
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// Engine owns the asset registry and the strategy runners
type Engine struct {
	cfg       Config
	prices    *pricing.Store
	ledger    *ledger.Ledger
	book      *triggers.Book
	quotes    exchange.QuoteProvider
	executor  exchange.SwapExecutor
	snapshots state.Store
	events    events.Publisher
	logger    *logger.Logger
	metrics   Recorder
	validator *safety.Validator
	recovery  *recovery.RecoveryHandler
	now       func() time.Time

	assets      *assetRegistry
	swapBreaker *safety.CircuitBreaker

	mu         sync.RWMutex
	strategies map[string]*strategyRunner
	running    bool
	restored   bool
	loopCtx    context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startedAt  time.Time

	snapMu          sync.Mutex
	lastSnapshotAt  time.Time
	lastSnapshotErr error
}

// New wires an engine. Nothing runs until Start.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Prices == nil:
		return nil, boterrors.NewConfigurationError(component, "new", "price store is required")
	case deps.Ledger == nil:
		return nil, boterrors.NewConfigurationError(component, "new", "ledger is required")
	case deps.Quotes == nil:
		return nil, boterrors.NewConfigurationError(component, "new", "quote provider is required")
	case deps.Executor == nil:
		return nil, boterrors.NewConfigurationError(component, "new", "swap executor is required")
	}
	cfg.setDefaults()

	if deps.Validator == nil {
		deps.Validator = safety.NewValidator()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Triggers == nil {
		deps.Triggers = triggers.NewBook(deps.Validator).WithClock(deps.Now)
	}
	if deps.Snapshots == nil {
		deps.Snapshots = state.Nop{}
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}

	e := &Engine{
		cfg:        cfg,
		prices:     deps.Prices,
		ledger:     deps.Ledger,
		book:       deps.Triggers,
		quotes:     deps.Quotes,
		executor:   deps.Executor,
		snapshots:  deps.Snapshots,
		events:     deps.Events,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		validator:  deps.Validator,
		recovery:   recovery.NewRecoveryHandler(deps.Logger),
		now:        deps.Now,
		assets:     newAssetRegistry(),
		strategies: make(map[string]*strategyRunner),
	}

	e.swapBreaker = safety.NewCircuitBreaker("swap", safety.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          2 * time.Minute,
	}).WithClock(deps.Now)
	e.swapBreaker.SetStateChangeCallback(e.logBreakerChange)

	return e, nil
}

func (e *Engine) logBreakerChange(name string, from, to safety.CircuitBreakerState) {
	e.logger.LogWarning("Circuit Breaker", "%s circuit breaker state changed: %s -> %s", name, from, to)
}

// Start restores the last snapshot and launches the refresh loop, the
// snapshot loop and a runner per active strategy.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.mu.Unlock()

	if err := e.Restore(ctx); err != nil {
		e.recovery.Record(err, boterrors.ErrorCategoryPersistenceFailed, component, "restore")
		e.logger.LogError("snapshot restore", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.loopCtx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.running = true
	e.startedAt = e.now()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.refreshLoop(e.loopCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.snapshotLoop(e.loopCtx)
	}()

	for _, r := range e.strategies {
		if r.strategy.IsActive() {
			e.launchLocked(r)
		}
	}

	e.logger.Status("Engine started: %d assets, %d strategies, %d triggers",
		e.assets.len(), len(e.strategies), e.book.Len())
	return nil
}

// Stop cancels every timer, waits for in-flight trades up to ctx and saves
// a final snapshot.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.cancel()
	for _, r := range e.strategies {
		r.halt()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.LogWarning("Engine", "stop deadline reached with trades still in flight")
	}

	err := e.SaveSnapshot(context.WithoutCancel(ctx))
	e.logger.Status("Engine stopped")
	return err
}

// IsRunning reports whether Start was called without a matching Stop
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// AssetSpec describes an asset to track
type AssetSpec struct {
	Address   string `json:"address"`
	Symbol    string `json:"symbol"`
	BaseToken string `json:"base_token"`
}

// AddAsset starts tracking an asset and fetches its first price, which
// becomes the ledger discovery price. Adding a tracked asset is a no-op.
func (e *Engine) AddAsset(ctx context.Context, spec AssetSpec) error {
	if spec.BaseToken == "" {
		spec.BaseToken = e.cfg.BaseToken
	}
	if err := e.validator.ValidateTokenAddress(spec.Address); err != nil {
		return boterrors.NewValidationError(component, "add_asset", "asset: "+err.Error())
	}
	if err := e.validator.ValidateTokenAddress(spec.BaseToken); err != nil {
		return boterrors.NewValidationError(component, "add_asset", "base token: "+err.Error())
	}
	if spec.Address == spec.BaseToken {
		return boterrors.NewValidationError(component, "add_asset", "asset and base token must differ")
	}

	rec := state.AssetRecord{
		Address:   spec.Address,
		Symbol:    spec.Symbol,
		BaseToken: spec.BaseToken,
		AddedAt:   e.now(),
	}
	asset, added := e.assets.add(rec, e.newQuoteBreaker(spec.Address))
	if !added {
		return nil
	}
	e.ledger.Track(spec.Address, spec.Symbol, 0)
	e.logger.Info("Tracking %s (%s) against %s", spec.Symbol, spec.Address, spec.BaseToken)

	e.refreshAsset(ctx, asset)
	e.metrics.AssetsTracked(e.assets.len())
	return nil
}

// RemoveAsset stops tracking an asset and deletes its price history and
// ledger. Refused while an active strategy targets it.
func (e *Engine) RemoveAsset(address string) error {
	if _, ok := e.assets.get(address); !ok {
		return boterrors.NewUnknownAssetError(component, "remove_asset", address)
	}
	e.mu.RLock()
	for _, r := range e.strategies {
		if r.strategy.Config().TargetAsset == address && r.strategy.IsActive() {
			e.mu.RUnlock()
			return boterrors.NewValidationError(component, "remove_asset",
				fmt.Sprintf("asset is used by active strategy %s", r.strategy.ID()))
		}
	}
	e.mu.RUnlock()

	e.assets.remove(address)
	e.prices.Remove(address)
	e.ledger.Untrack(address)
	for _, t := range e.book.ForAsset(address) {
		e.book.Remove(t.ID)
	}
	e.metrics.AssetsTracked(e.assets.len())
	e.logger.Info("Stopped tracking %s", address)
	return nil
}

// CreateStrategy validates cfg and registers a stopped strategy. The target
// asset is tracked if it was not already.
func (e *Engine) CreateStrategy(ctx context.Context, cfg strategy.Config) (strategy.Status, error) {
	if cfg.BaseToken == "" {
		cfg.BaseToken = e.cfg.BaseToken
	}
	s, err := strategy.New(cfg, e.validator, e.now())
	if err != nil {
		return strategy.Status{}, err
	}

	e.mu.Lock()
	if _, exists := e.strategies[s.ID()]; exists {
		e.mu.Unlock()
		return strategy.Status{}, boterrors.NewValidationError(component, "create_strategy",
			fmt.Sprintf("strategy %s already exists", s.ID()))
	}
	e.strategies[s.ID()] = &strategyRunner{strategy: s}
	e.mu.Unlock()

	c := s.Config()
	if err := e.AddAsset(ctx, AssetSpec{Address: c.TargetAsset, Symbol: c.TargetSymbol, BaseToken: c.BaseToken}); err != nil {
		e.mu.Lock()
		delete(e.strategies, s.ID())
		e.mu.Unlock()
		return strategy.Status{}, err
	}

	e.logger.Info("Strategy %s created for %s (dip %.2f%%, range %.2f-%.2f%% x%d %s)",
		c.Name, c.TargetAsset, c.DipThresholdBase, c.ProfitRangeMin, c.ProfitRangeMax, c.ProfitRangeSteps, c.ProfitRangeMode)
	return s.Status(), nil
}

// StartStrategy activates a strategy and launches its timer when the
// engine is running
func (e *Engine) StartStrategy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.strategies[id]
	if !ok {
		return strategyNotFound("start_strategy", id)
	}
	if err := r.strategy.Start(); err != nil {
		return err
	}
	if e.running {
		e.launchLocked(r)
	}
	e.logger.Info("Strategy %s started", id)
	return nil
}

// StopStrategy deactivates a strategy and cancels its timer. A trade in
// flight completes and is recorded.
func (e *Engine) StopStrategy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.strategies[id]
	if !ok {
		return strategyNotFound("stop_strategy", id)
	}
	r.strategy.Stop()
	r.halt()
	e.logger.Info("Strategy %s stopped", id)
	return nil
}

// StrategyStatus returns the view of one strategy
func (e *Engine) StrategyStatus(id string) (strategy.Status, bool) {
	e.mu.RLock()
	r, ok := e.strategies[id]
	e.mu.RUnlock()
	if !ok {
		return strategy.Status{}, false
	}
	return r.strategy.Status(), true
}

// StrategyPositions returns the positions of one strategy
func (e *Engine) StrategyPositions(id string) ([]strategy.Position, bool) {
	e.mu.RLock()
	r, ok := e.strategies[id]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.strategy.Positions(), true
}

func strategyNotFound(op, id string) error {
	return boterrors.NewValidationError(component, op, fmt.Sprintf("strategy %s not found", id))
}

// CreateTrigger validates and registers a trigger; its asset is tracked
// if it was not already
func (e *Engine) CreateTrigger(ctx context.Context, t triggers.Trigger) (triggers.Trigger, error) {
	if t.BaseToken == "" {
		t.BaseToken = e.cfg.BaseToken
	}
	created, err := e.book.Create(t)
	if err != nil {
		return triggers.Trigger{}, err
	}
	if err := e.AddAsset(ctx, AssetSpec{Address: created.Asset, BaseToken: created.BaseToken}); err != nil {
		e.book.Remove(created.ID)
		return triggers.Trigger{}, err
	}
	e.logger.Info("Trigger %s created: %s when %s %.2f%% (%s)",
		created.ID, created.Action, created.Condition, created.Threshold, created.Timeframe)
	return created, nil
}

// RemoveTrigger deletes a trigger
func (e *Engine) RemoveTrigger(id string) error {
	if !e.book.Remove(id) {
		return boterrors.NewValidationError(component, "remove_trigger", fmt.Sprintf("trigger %s not found", id))
	}
	return nil
}

// Triggers lists every trigger
func (e *Engine) Triggers() []triggers.Trigger {
	return e.book.List()
}

// Ledgers returns a copy of every asset ledger
func (e *Engine) Ledgers() map[string]ledger.AssetLedger {
	return e.ledger.Snapshot()
}

// PriceHistory returns the stored points of an asset since t
func (e *Engine) PriceHistory(asset string, since time.Time) ([]pricing.PricePoint, error) {
	if _, ok := e.assets.get(asset); !ok {
		return nil, boterrors.NewUnknownAssetError(component, "price_history", asset)
	}
	return e.prices.History(asset, since), nil
}

// AssetStatus is a tracked asset with its latest market data
type AssetStatus struct {
	state.AssetRecord
	LastPrice   float64   `json:"last_price"`
	LastPriceAt time.Time `json:"last_price_at"`
	Source      string    `json:"source"`
	Change24h   float64   `json:"change_24h"`
	Points      int       `json:"points"`
	Breaker     string    `json:"breaker"`
}

// Status is the read-only view served by the API and console
type Status struct {
	Running           bool                            `json:"running"`
	StartedAt         time.Time                       `json:"started_at"`
	Assets            []AssetStatus                   `json:"assets"`
	Strategies        []strategy.Status               `json:"strategies"`
	Triggers          []triggers.Trigger              `json:"triggers"`
	Portfolio         ledger.PortfolioSummary         `json:"portfolio"`
	LastSnapshotAt    time.Time                       `json:"last_snapshot_at"`
	LastSnapshotError string                          `json:"last_snapshot_error,omitempty"`
	Errors            map[boterrors.ErrorCategory]int `json:"errors"`
	SwapBreaker       safety.CircuitBreakerStats      `json:"swap_breaker"`
}

// Status collects the current state of every registry
func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{Running: e.running, StartedAt: e.startedAt}
	runners := make([]*strategyRunner, 0, len(e.strategies))
	for _, r := range e.strategies {
		runners = append(runners, r)
	}
	e.mu.RUnlock()

	for _, r := range runners {
		st.Strategies = append(st.Strategies, r.strategy.Status())
	}
	sort.Slice(st.Strategies, func(i, j int) bool { return st.Strategies[i].ID < st.Strategies[j].ID })

	for _, a := range e.assets.list() {
		as := AssetStatus{AssetRecord: a.record, Points: e.prices.Len(a.record.Address), Breaker: a.breaker.GetState().String()}
		if p, ok := e.prices.Latest(a.record.Address); ok {
			as.LastPrice, as.LastPriceAt, as.Source = p.Price, p.Timestamp, p.Source
			as.Change24h = e.prices.Change24h(a.record.Address)
		}
		st.Assets = append(st.Assets, as)
	}

	st.Triggers = e.book.List()
	st.Portfolio = e.ledger.Summary()
	st.Errors = e.recovery.GetErrorStats().Counts()
	st.SwapBreaker = e.swapBreaker.GetStats()

	e.snapMu.Lock()
	st.LastSnapshotAt = e.lastSnapshotAt
	if e.lastSnapshotErr != nil {
		st.LastSnapshotError = e.lastSnapshotErr.Error()
	}
	e.snapMu.Unlock()
	return st
}

// isNoSnapshot reports a missing snapshot, which is a normal fresh start
func isNoSnapshot(err error) bool {
	return errors.Is(err, state.ErrNoSnapshot)
}
