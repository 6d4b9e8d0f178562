package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ProfitRangeMode controls how step profits and sell sizes are distributed
type ProfitRangeMode string

const (
	ModeLinear       ProfitRangeMode = "linear"
	ModeAggressive   ProfitRangeMode = "aggressive"
	ModeConservative ProfitRangeMode = "conservative"
)

// RangeState is a state of the profit-range exit scheduler
type RangeState string

const (
	RangeStateHolding      RangeState = "HOLDING"
	RangeStateActive       RangeState = "RANGE_ACTIVE"
	RangeStateStepExecuted RangeState = "STEP_EXECUTED"
	RangeStateCompleted    RangeState = "COMPLETED"
)

// ParseProfitRangeMode accepts a mode name, empty means linear
func ParseProfitRangeMode(s string) (ProfitRangeMode, error) {
	switch m := ProfitRangeMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeLinear, nil
	case ModeLinear, ModeAggressive, ModeConservative:
		return m, nil
	default:
		return "", fmt.Errorf("unknown profit range mode %q", s)
	}
}

// ProfitStep is one partial exit of a profit range
type ProfitStep struct {
	Index            int       `json:"index"` // 1-based
	ProfitPercent    float64   `json:"profit_percent"`
	SellPercentage   float64   `json:"sell_percentage"` // of the quantity held at activation
	Executed         bool      `json:"executed"`
	ExecutedAt       time.Time `json:"executed_at,omitempty"`
	ExecutedPrice    float64   `json:"executed_price,omitempty"`
	ExecutedQuantity float64   `json:"executed_quantity,omitempty"`
}

// BuildSchedule computes N steps between min and max profit percent.
//
//	linear:       p_i = min + (max-min)*i/N,       each step sells 100/N %
//	aggressive:   p_i = min + (max-min)*sqrt(i/N), step 1 sells 50 %, the rest split 50 %
//	conservative: p_i = min + (max-min)*(i/N)^2,   the last step sells 50 %, the rest split 50 %
func BuildSchedule(minProfit, maxProfit float64, steps int, mode ProfitRangeMode) ([]ProfitStep, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("profit range needs at least one step, got %d", steps)
	}
	if minProfit < 0 || maxProfit <= minProfit {
		return nil, fmt.Errorf("invalid profit range [%.4f, %.4f]", minProfit, maxProfit)
	}

	n := float64(steps)
	out := make([]ProfitStep, steps)
	for i := 1; i <= steps; i++ {
		frac := float64(i) / n
		var shape float64
		switch mode {
		case ModeLinear, "":
			shape = frac
		case ModeAggressive:
			shape = math.Sqrt(frac)
		case ModeConservative:
			shape = frac * frac
		default:
			return nil, fmt.Errorf("unknown profit range mode %q", mode)
		}
		out[i-1] = ProfitStep{
			Index:          i,
			ProfitPercent:  minProfit + (maxProfit-minProfit)*shape,
			SellPercentage: sellPercentage(mode, i, steps),
		}
	}
	return out, nil
}

func sellPercentage(mode ProfitRangeMode, i, steps int) float64 {
	if steps == 1 {
		return 100
	}
	rest := 50.0 / float64(steps-1)
	switch mode {
	case ModeAggressive:
		if i == 1 {
			return 50
		}
		return rest
	case ModeConservative:
		if i == steps {
			return 50
		}
		return rest
	default:
		return 100.0 / float64(steps)
	}
}

// TriggerPrice is the absolute price at which a step fires for an average cost
func TriggerPrice(averagePrice, profitPercent float64) float64 {
	return averagePrice * (1 + profitPercent/100)
}

// Schedule is an activated profit range for the positions of one cycle
type Schedule struct {
	Mode         ProfitRangeMode `json:"mode"`
	Min          float64         `json:"min"`
	Max          float64         `json:"max"`
	Steps        []ProfitStep    `json:"steps"`
	BaseQuantity float64         `json:"base_quantity"` // asset quantity held at activation
	ActivatedAt  time.Time       `json:"activated_at"`
}

// NewSchedule activates a profit range for baseQuantity tokens
func NewSchedule(minProfit, maxProfit float64, steps int, mode ProfitRangeMode, baseQuantity float64, now time.Time) (*Schedule, error) {
	built, err := BuildSchedule(minProfit, maxProfit, steps, mode)
	if err != nil {
		return nil, err
	}
	return &Schedule{
		Mode:         mode,
		Min:          minProfit,
		Max:          maxProfit,
		Steps:        built,
		BaseQuantity: baseQuantity,
		ActivatedAt:  now,
	}, nil
}

// State returns where the schedule is in its lifecycle
func (s *Schedule) State() RangeState {
	if s == nil {
		return RangeStateHolding
	}
	executed := s.ExecutedCount()
	switch {
	case executed == len(s.Steps):
		return RangeStateCompleted
	case executed > 0:
		return RangeStateStepExecuted
	default:
		return RangeStateActive
	}
}

// ExecutedCount returns the number of executed steps
func (s *Schedule) ExecutedCount() int {
	n := 0
	for _, st := range s.Steps {
		if st.Executed {
			n++
		}
	}
	return n
}

// StepOrder is a due step with its sell quantity
type StepOrder struct {
	Step         ProfitStep
	TriggerPrice float64
	Quantity     float64
	Final        bool // sells everything that is left
}

// Due returns the lowest pending step whose trigger price, recomputed from
// the current average cost, is at or below price. remaining is the quantity
// still held; the last pending step always sells all of it.
func (s *Schedule) Due(averagePrice, price, remaining float64) (StepOrder, bool) {
	if s == nil || averagePrice <= 0 || remaining <= 0 {
		return StepOrder{}, false
	}

	pending := 0
	for _, st := range s.Steps {
		if !st.Executed {
			pending++
		}
	}

	for _, st := range s.Steps {
		if st.Executed {
			continue
		}
		trigger := TriggerPrice(averagePrice, st.ProfitPercent)
		if price < trigger {
			return StepOrder{}, false
		}
		order := StepOrder{Step: st, TriggerPrice: trigger}
		if pending == 1 {
			order.Quantity = remaining
			order.Final = true
		} else {
			order.Quantity = math.Min(s.BaseQuantity*st.SellPercentage/100, remaining)
		}
		return order, true
	}
	return StepOrder{}, false
}

// MarkExecuted records a filled step
func (s *Schedule) MarkExecuted(index int, price, quantity float64, at time.Time) error {
	for i := range s.Steps {
		if s.Steps[i].Index != index {
			continue
		}
		if s.Steps[i].Executed {
			return fmt.Errorf("profit step %d already executed", index)
		}
		s.Steps[i].Executed = true
		s.Steps[i].ExecutedAt = at
		s.Steps[i].ExecutedPrice = price
		s.Steps[i].ExecutedQuantity = quantity
		return nil
	}
	return fmt.Errorf("profit step %d not found", index)
}

// Clone returns a deep copy
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	out := *s
	out.Steps = append([]ProfitStep(nil), s.Steps...)
	return &out
}

// FastExitDecision is the outcome of the tier-based full exit check
type FastExitDecision struct {
	Exit       bool     `json:"exit"`
	Tier       SellTier `json:"tier"`
	PnLPercent float64  `json:"pnl_percent"`
}

// EvaluateFastExit classifies unrealized profit against the sell tiers. Any
// matched tier liquidates the whole position, whether or not a profit range
// is active.
func EvaluateFastExit(currentValue, costBasis float64, sell SellThresholds) FastExitDecision {
	if costBasis <= 0 {
		return FastExitDecision{Tier: SellTierNone}
	}
	pnl := (currentValue - costBasis) / costBasis * 100
	tier := sell.Classify(pnl)
	return FastExitDecision{Exit: tier != SellTierNone, Tier: tier, PnLPercent: pnl}
}
