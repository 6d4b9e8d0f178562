package strategy

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
)

const (
	DefaultPriceCheckInterval = 5 * time.Second
	DefaultDipLookbackWindow  = time.Hour
	DefaultProfitRangeSteps   = 3
	DefaultMaxSlippage        = 1.0

	// ClosedPositionHistory bounds the closed positions kept once a cycle completes
	ClosedPositionHistory = 50

	// positionEpsilon is the residual fraction below which a position counts as closed
	positionEpsilon = 1e-9
)

// Config is the user-supplied definition of a strategy
type Config struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	TargetAsset         string            `json:"target_asset"`
	TargetSymbol        string            `json:"target_symbol"`
	BaseToken           string            `json:"base_token"`
	DipThresholdBase    float64           `json:"dip_threshold_base"`    // D, percent
	ProfitThresholdBase float64           `json:"profit_threshold_base"` // P, percent; defaults to ProfitRangeMax
	EnableProfitRange   bool              `json:"enable_profit_range"`
	ProfitRangeMin      float64           `json:"profit_range_min"`
	ProfitRangeMax      float64           `json:"profit_range_max"`
	ProfitRangeSteps    int               `json:"profit_range_steps"`
	ProfitRangeMode     ProfitRangeMode   `json:"profit_range_mode"`
	TradeAmountBase     float64           `json:"trade_amount_base"`
	MaxSlippage         float64           `json:"max_slippage"` // percent
	PriceCheckInterval  time.Duration     `json:"price_check_interval"`
	DipLookbackWindow   time.Duration     `json:"dip_lookback_window"`
	VolatilityWindow    int               `json:"volatility_window"`
	InitialProfile      VolatilityProfile `json:"initial_profile"`
	MaxCycles           int               `json:"max_cycles"` // 0 means unlimited
	EnforceLedgerGate   bool              `json:"enforce_ledger_gate"`
	BuyCooldown         time.Duration     `json:"buy_cooldown"`
}

// SetDefaults fills unset optional fields
func (c *Config) SetDefaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.PriceCheckInterval <= 0 {
		c.PriceCheckInterval = DefaultPriceCheckInterval
	}
	if c.DipLookbackWindow <= 0 {
		c.DipLookbackWindow = DefaultDipLookbackWindow
	}
	if c.ProfitRangeSteps <= 0 {
		c.ProfitRangeSteps = DefaultProfitRangeSteps
	}
	if c.ProfitRangeMode == "" {
		c.ProfitRangeMode = ModeLinear
	}
	if c.MaxSlippage <= 0 {
		c.MaxSlippage = DefaultMaxSlippage
	}
	if c.VolatilityWindow <= 0 {
		c.VolatilityWindow = DefaultVolatilityWindow
	}
	if c.InitialProfile == "" {
		c.InitialProfile = ProfileNormal
	}
	if c.ProfitThresholdBase <= 0 {
		c.ProfitThresholdBase = c.ProfitRangeMax
	}
	if c.Name == "" {
		symbol := c.TargetSymbol
		if symbol == "" {
			symbol = shortAddress(c.TargetAsset)
		}
		c.Name = "dip-" + strings.ToLower(symbol)
	}
}

// Validate rejects configurations that must never enter monitoring
func (c Config) Validate(v AddressValidator) error {
	fail := func(msg string, args ...interface{}) error {
		return boterrors.NewValidationError("strategy", "validate", fmt.Sprintf(msg, args...)).
			WithContext("strategy", c.ID)
	}

	if v != nil {
		if err := v.ValidateTokenAddress(c.TargetAsset); err != nil {
			return fail("target asset: %v", err)
		}
		if err := v.ValidateTokenAddress(c.BaseToken); err != nil {
			return fail("base token: %v", err)
		}
	}
	if strings.EqualFold(c.TargetAsset, c.BaseToken) {
		return fail("target asset and base token must differ")
	}
	if c.DipThresholdBase <= 0 || c.DipThresholdBase >= 100 {
		return fail("dip threshold base must be in (0, 100), got %.4f", c.DipThresholdBase)
	}
	if c.TradeAmountBase <= 0 {
		return fail("trade amount must be positive")
	}
	if c.MaxSlippage <= 0 || c.MaxSlippage > 100 {
		return fail("max slippage must be in (0, 100], got %.4f", c.MaxSlippage)
	}
	if c.ProfitThresholdBase <= 0 {
		return fail("profit threshold base must be positive")
	}
	if c.EnableProfitRange {
		if _, err := BuildSchedule(c.ProfitRangeMin, c.ProfitRangeMax, c.ProfitRangeSteps, c.ProfitRangeMode); err != nil {
			return fail("profit range: %v", err)
		}
	}
	if _, err := ParseVolatilityProfile(string(c.InitialProfile)); err != nil {
		return fail("%v", err)
	}
	if c.MaxCycles < 0 {
		return fail("max cycles cannot be negative")
	}
	if c.BuyCooldown < 0 {
		return fail("buy cooldown cannot be negative")
	}
	return nil
}

// PositionStatus is open or closed
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is one approved buy and its exit bookkeeping
type Position struct {
	ID               string         `json:"id"`
	EntryPrice       float64        `json:"entry_price"`
	EntryAmountBase  float64        `json:"entry_amount_base"`
	EntryAmountAsset float64        `json:"entry_amount_asset"`
	Quantity         float64        `json:"quantity"` // still held after partial exits
	EntryTimestamp   time.Time      `json:"entry_timestamp"`
	EntryTier        DipTier        `json:"entry_tier"`
	EntryTxRef       string         `json:"entry_tx_ref"`
	Status           PositionStatus `json:"status"`
	ExitPrice        float64        `json:"exit_price,omitempty"`
	ExitTimestamp    *time.Time     `json:"exit_timestamp,omitempty"`
	ExitReason       ExitReason     `json:"exit_reason,omitempty"`
	RealizedPnL      float64        `json:"realized_pnl"`
}

// Fill is an executed swap as seen by the strategy
type Fill struct {
	Price       float64
	AmountBase  float64
	AmountAsset float64
	TxRef       string
	Timestamp   time.Time
}

// Exposure aggregates the open positions
type Exposure struct {
	Count        int     `json:"count"`
	Quantity     float64 `json:"quantity"`
	CostBasis    float64 `json:"cost_basis"`
	AveragePrice float64 `json:"average_price"`
}

// CycleResult reports whether a sell closed out the cycle
type CycleResult struct {
	Completed     bool
	AutoStopped   bool
	Cycle         int
	RealizedPnL   float64 // realized during the whole cycle
	EntryPrice    float64 // average entry of the cycle
	ProfitPercent float64
}

// Status is a read-only view for the API and console
type Status struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	TargetAsset     string            `json:"target_asset"`
	TargetSymbol    string            `json:"target_symbol"`
	BaseToken       string            `json:"base_token"`
	IsActive        bool              `json:"is_active"`
	Profile         VolatilityProfile `json:"profile"`
	Thresholds      Thresholds        `json:"thresholds"`
	Exposure        Exposure          `json:"exposure"`
	RangeState      RangeState        `json:"range_state"`
	Schedule        *Schedule         `json:"schedule,omitempty"`
	CompletedCycles int               `json:"completed_cycles"`
	MaxCycles       int               `json:"max_cycles"`
	RealizedPnL     float64           `json:"realized_pnl"`
	LastDecision    string            `json:"last_decision"`
}

// Snapshot is the persisted form of a strategy
type Snapshot struct {
	Config           Config            `json:"config"`
	Profile          VolatilityProfile `json:"profile"`
	VolatilityPrices []float64         `json:"volatility_prices"`
	Positions        []Position        `json:"positions"`
	Schedule         *Schedule         `json:"schedule,omitempty"`
	CompletedCycles  int               `json:"completed_cycles"`
	IsActive         bool              `json:"is_active"`
	LastBuyAt        time.Time         `json:"last_buy_at"`
	CreatedAt        time.Time         `json:"created_at"`
	RealizedPnL      float64           `json:"realized_pnl"`
	CycleRealized    float64           `json:"cycle_realized"`
	CycleCostBasis   float64           `json:"cycle_cost_basis"`
	CycleQuantity    float64           `json:"cycle_quantity"`
}

// Strategy owns its positions, classifier and adaptive thresholds. All
// methods are safe for concurrent use; mutations are serialized by mu.
type Strategy struct {
	mu sync.Mutex

	cfg        Config
	classifier *Classifier
	thresholds Thresholds
	positions  []*Position
	schedule   *Schedule

	completedCycles int
	isActive        bool
	lastBuyAt       time.Time
	createdAt       time.Time
	realizedPnL     float64
	lastDecision    string

	// per cycle accumulators for the completion report
	cycleRealized  float64
	cycleCostBasis float64
	cycleQuantity  float64
}

// New validates cfg and creates a stopped strategy
func New(cfg Config, v AddressValidator, now time.Time) (*Strategy, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(v); err != nil {
		return nil, err
	}

	s := &Strategy{
		cfg:        cfg,
		classifier: NewClassifier(cfg.VolatilityWindow),
		createdAt:  now,
	}
	s.classifier.Restore(nil, cfg.InitialProfile)
	s.recomputeThresholdsLocked()
	return s, nil
}

// Restore rebuilds a strategy from a snapshot, validating its config again
func Restore(snap Snapshot, v AddressValidator) (*Strategy, error) {
	s, err := New(snap.Config, v, snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.classifier.Restore(snap.VolatilityPrices, snap.Profile)
	s.recomputeThresholdsLocked()
	for i := range snap.Positions {
		p := snap.Positions[i]
		s.positions = append(s.positions, &p)
	}
	s.schedule = snap.Schedule.Clone()
	s.completedCycles = snap.CompletedCycles
	s.isActive = snap.IsActive
	s.lastBuyAt = snap.LastBuyAt
	s.realizedPnL = snap.RealizedPnL
	s.cycleRealized = snap.CycleRealized
	s.cycleCostBasis = snap.CycleCostBasis
	s.cycleQuantity = snap.CycleQuantity
	return s, nil
}

func (s *Strategy) recomputeThresholdsLocked() {
	s.thresholds = ComputeThresholds(s.classifier.Profile(), s.cfg.DipThresholdBase, s.cfg.ProfitThresholdBase, s.cfg.TradeAmountBase)
}

// ID returns the strategy identifier
func (s *Strategy) ID() string {
	return s.cfg.ID
}

// Config returns a copy of the configuration
func (s *Strategy) Config() Config {
	return s.cfg
}

// Start marks the strategy active; refused once max cycles were completed
func (s *Strategy) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxCycles > 0 && s.completedCycles >= s.cfg.MaxCycles {
		return boterrors.NewValidationError("strategy", "start",
			fmt.Sprintf("max cycles reached (%d/%d)", s.completedCycles, s.cfg.MaxCycles))
	}
	s.isActive = true
	return nil
}

// Stop marks the strategy inactive; state is kept
func (s *Strategy) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isActive = false
}

// IsActive reports whether the strategy is monitoring
func (s *Strategy) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActive
}

// Observe feeds a price to the volatility classifier and recomputes the
// thresholds when the profile changes
func (s *Strategy) Observe(price float64) (from, to VolatilityProfile, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from = s.classifier.Profile()
	to, changed = s.classifier.Update(price)
	if changed {
		s.recomputeThresholdsLocked()
	}
	return from, to, changed
}

// Thresholds returns the current adaptive thresholds
func (s *Strategy) Thresholds() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

// Positions returns copies of every position
func (s *Strategy) Positions() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// Exposure returns the aggregate of the open positions
func (s *Strategy) Exposure() Exposure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposureLocked()
}

func (s *Strategy) exposureLocked() Exposure {
	var e Exposure
	for _, p := range s.positions {
		if p.Status != PositionOpen {
			continue
		}
		e.Count++
		e.Quantity += p.Quantity
		e.CostBasis += p.Quantity * p.EntryPrice
	}
	if e.Quantity > 0 {
		e.AveragePrice = e.CostBasis / e.Quantity
	}
	return e
}

// EvaluateDip runs the dip detector against the strategy's open positions
func (s *Strategy) EvaluateDip(price float64, window []float64, now time.Time) DipDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp := s.exposureLocked()
	d := EvaluateDip(DipInput{
		CurrentPrice:     price,
		HasOpenPositions: exp.Count > 0,
		OpenAveragePrice: exp.AveragePrice,
		WindowPrices:     window,
		Thresholds:       s.thresholds,
	})
	if d.Approved() && s.cfg.BuyCooldown > 0 && !s.lastBuyAt.IsZero() && now.Sub(s.lastBuyAt) < s.cfg.BuyCooldown {
		d.State = DipStateWaiting
		d.Reason = WaitCooldown
		d.Amount = 0
	}
	s.lastDecision = d.String()
	return d
}

// RecordBuy opens a position for a filled buy
func (s *Strategy) RecordBuy(fill Fill, tier DipTier) Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryPrice := fill.Price
	if entryPrice <= 0 && fill.AmountAsset > 0 {
		entryPrice = fill.AmountBase / fill.AmountAsset
	}

	p := &Position{
		ID:               uuid.NewString(),
		EntryPrice:       entryPrice,
		EntryAmountBase:  fill.AmountBase,
		EntryAmountAsset: fill.AmountAsset,
		Quantity:         fill.AmountAsset,
		EntryTimestamp:   fill.Timestamp,
		EntryTier:        tier,
		EntryTxRef:       fill.TxRef,
		Status:           PositionOpen,
	}
	s.positions = append(s.positions, p)
	s.lastBuyAt = fill.Timestamp
	s.cycleCostBasis += fill.AmountBase
	s.cycleQuantity += fill.AmountAsset

	// averaging down while a range is active widens the range's base
	if s.schedule != nil {
		s.schedule.BaseQuantity += fill.AmountAsset
	}
	return *p
}

// EnsureSchedule activates the profit range on the first tick with open
// positions. Returns true when a schedule was created by this call.
func (s *Strategy) EnsureSchedule(now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.EnableProfitRange || s.schedule != nil {
		return false, nil
	}
	exp := s.exposureLocked()
	if exp.Count == 0 {
		return false, nil
	}
	sched, err := NewSchedule(s.cfg.ProfitRangeMin, s.cfg.ProfitRangeMax, s.cfg.ProfitRangeSteps,
		s.cfg.ProfitRangeMode, exp.Quantity, now)
	if err != nil {
		return false, err
	}
	s.schedule = sched
	return true, nil
}

// NextStep returns the profit step due at price, if any
func (s *Strategy) NextStep(price float64) (StepOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp := s.exposureLocked()
	return s.schedule.Due(exp.AveragePrice, price, exp.Quantity)
}

// FastExit classifies the open exposure's unrealized gain at price
func (s *Strategy) FastExit(price float64) FastExitDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp := s.exposureLocked()
	return EvaluateFastExit(exp.Quantity*price, exp.CostBasis, s.thresholds.Sell)
}

// RecordStepSell applies a filled profit step
func (s *Strategy) RecordStepSell(order StepOrder, fill Fill) (CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == nil {
		return CycleResult{}, fmt.Errorf("no active profit range")
	}
	if err := s.schedule.MarkExecuted(order.Step.Index, fill.Price, fill.AmountAsset, fill.Timestamp); err != nil {
		return CycleResult{}, err
	}
	s.reduceLocked(fill.AmountAsset, fill.Price, fill.Timestamp, ExitReasonProfitStep)
	return s.maybeCompleteLocked(), nil
}

// RecordFullExit applies a liquidation fill. Only the filled quantity is
// reduced; a partial fill leaves the remainder open for the next exit attempt.
// Pending profit steps are discarded either way.
func (s *Strategy) RecordFullExit(fill Fill, reason ExitReason) CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp := s.exposureLocked()
	if exp.Count == 0 || fill.AmountAsset <= 0 {
		return CycleResult{Cycle: s.completedCycles + 1}
	}
	s.reduceLocked(math.Min(fill.AmountAsset, exp.Quantity), fill.Price, fill.Timestamp, reason)
	s.schedule = nil
	return s.maybeCompleteLocked()
}

// reduceLocked sells qty across the open positions in proportion to their size
func (s *Strategy) reduceLocked(qty, price float64, at time.Time, reason ExitReason) {
	exp := s.exposureLocked()
	if exp.Quantity <= 0 || qty <= 0 {
		return
	}
	frac := math.Min(qty/exp.Quantity, 1)

	for _, p := range s.positions {
		if p.Status != PositionOpen {
			continue
		}
		sold := p.Quantity * frac
		pnl := sold * (price - p.EntryPrice)
		p.Quantity -= sold
		p.RealizedPnL += pnl
		s.realizedPnL += pnl
		s.cycleRealized += pnl
		if p.Quantity <= p.EntryAmountAsset*positionEpsilon {
			s.closeLocked(p, price, at, reason)
		}
	}
}

func (s *Strategy) closeLocked(p *Position, price float64, at time.Time, reason ExitReason) {
	if p.Quantity > 0 {
		pnl := p.Quantity * (price - p.EntryPrice)
		p.RealizedPnL += pnl
		s.realizedPnL += pnl
		s.cycleRealized += pnl
	}
	exitAt := at
	p.Quantity = 0
	p.Status = PositionClosed
	p.ExitPrice = price
	p.ExitTimestamp = &exitAt
	p.ExitReason = reason
}

func (s *Strategy) maybeCompleteLocked() CycleResult {
	if s.exposureLocked().Count > 0 {
		return CycleResult{Cycle: s.completedCycles + 1}
	}

	s.completedCycles++
	res := CycleResult{
		Completed:   true,
		Cycle:       s.completedCycles,
		RealizedPnL: s.cycleRealized,
	}
	if s.cycleQuantity > 0 {
		res.EntryPrice = s.cycleCostBasis / s.cycleQuantity
	}
	if s.cycleCostBasis > 0 {
		res.ProfitPercent = s.cycleRealized / s.cycleCostBasis * 100
	}
	s.schedule = nil
	s.cycleRealized, s.cycleCostBasis, s.cycleQuantity = 0, 0, 0
	if n := len(s.positions); n > ClosedPositionHistory {
		s.positions = append([]*Position(nil), s.positions[n-ClosedPositionHistory:]...)
	}

	if s.cfg.MaxCycles > 0 && s.completedCycles >= s.cfg.MaxCycles {
		s.isActive = false
		res.AutoStopped = true
	}
	return res
}

// CompletedCycles returns the number of sold-out cycles
func (s *Strategy) CompletedCycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedCycles
}

// Status returns a read-only view
func (s *Strategy) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		ID:              s.cfg.ID,
		Name:            s.cfg.Name,
		TargetAsset:     s.cfg.TargetAsset,
		TargetSymbol:    s.cfg.TargetSymbol,
		BaseToken:       s.cfg.BaseToken,
		IsActive:        s.isActive,
		Profile:         s.classifier.Profile(),
		Thresholds:      s.thresholds,
		Exposure:        s.exposureLocked(),
		RangeState:      s.schedule.State(),
		Schedule:        s.schedule.Clone(),
		CompletedCycles: s.completedCycles,
		MaxCycles:       s.cfg.MaxCycles,
		RealizedPnL:     s.realizedPnL,
		LastDecision:    s.lastDecision,
	}
}

// Snapshot copies the strategy under its lock
func (s *Strategy) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		cp := *p
		if p.ExitTimestamp != nil {
			t := *p.ExitTimestamp
			cp.ExitTimestamp = &t
		}
		positions = append(positions, cp)
	}

	return Snapshot{
		Config:           s.cfg,
		Profile:          s.classifier.Profile(),
		VolatilityPrices: s.classifier.Prices(),
		Positions:        positions,
		Schedule:         s.schedule.Clone(),
		CompletedCycles:  s.completedCycles,
		IsActive:         s.isActive,
		LastBuyAt:        s.lastBuyAt,
		CreatedAt:        s.createdAt,
		RealizedPnL:      s.realizedPnL,
		CycleRealized:    s.cycleRealized,
		CycleCostBasis:   s.cycleCostBasis,
		CycleQuantity:    s.cycleQuantity,
	}
}

func shortAddress(address string) string {
	if len(address) <= 8 {
		return address
	}
	return address[:6]
}
