package triggers

import (
	"fmt"
	"strings"
	"time"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/pricing"
)

// Action is what a trigger does when its condition matches
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Condition is the price test a trigger evaluates each refresh cycle
type Condition string

const (
	ConditionPriceDrop Condition = "price_drop"
	ConditionPriceRise Condition = "price_rise"
	ConditionBelowSMA  Condition = "below_sma"
	ConditionAboveSMA  Condition = "above_sma"
)

// UsesSMA reports whether the timeframe names an SMA window
func (c Condition) UsesSMA() bool {
	return c == ConditionBelowSMA || c == ConditionAboveSMA
}

// ParseAction normalizes an action label
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell:
		return a, nil
	default:
		return "", fmt.Errorf("unknown trigger action %q", s)
	}
}

// ParseCondition normalizes a condition label
func ParseCondition(s string) (Condition, error) {
	switch c := Condition(strings.ToLower(strings.TrimSpace(s))); c {
	case ConditionPriceDrop, ConditionPriceRise, ConditionBelowSMA, ConditionAboveSMA:
		return c, nil
	default:
		return "", fmt.Errorf("unknown trigger condition %q", s)
	}
}

// Trigger is a user-authored condition/action pair layered on the price
// store, independent of any strategy. Amount is in base currency for buys
// and in asset tokens for sells.
type Trigger struct {
	ID           string        `json:"id"`
	Asset        string        `json:"asset_address"`
	BaseToken    string        `json:"base_token"`
	Action       Action        `json:"action"`
	Condition    Condition     `json:"condition"`
	Threshold    float64       `json:"threshold"`
	Timeframe    string        `json:"timeframe"`
	Amount       float64       `json:"amount"`
	MaxSlippage  float64       `json:"max_slippage"`
	MaxTriggers  int           `json:"max_triggers"`
	Cooldown     time.Duration `json:"cooldown"`
	IsActive     bool          `json:"is_active"`
	TriggerCount int           `json:"trigger_count"`
	Failures     int           `json:"failures"`
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastFiredAt  *time.Time    `json:"last_fired_at,omitempty"`
}

// Exhausted reports whether the trigger has fired its allotted times
func (t Trigger) Exhausted() bool {
	return t.MaxTriggers > 0 && t.TriggerCount >= t.MaxTriggers
}

// InCooldown reports whether the trigger fired less than Cooldown ago
func (t Trigger) InCooldown(now time.Time) bool {
	return t.Cooldown > 0 && t.LastFiredAt != nil && now.Sub(*t.LastFiredAt) < t.Cooldown
}

// AddressValidator checks token address format
type AddressValidator interface {
	ValidateTokenAddress(address string) error
}

const component = "triggers"

func (t *Trigger) normalize() {
	t.Asset = strings.TrimSpace(t.Asset)
	t.BaseToken = strings.TrimSpace(t.BaseToken)
	t.Action = Action(strings.ToLower(string(t.Action)))
	t.Condition = Condition(strings.ToLower(string(t.Condition)))
	t.Timeframe = strings.TrimSpace(t.Timeframe)
	if t.MaxTriggers == 0 {
		t.MaxTriggers = 1
	}
	if t.MaxSlippage == 0 {
		t.MaxSlippage = 1
	}
	if t.Timeframe == "" && t.Condition.UsesSMA() {
		t.Timeframe = string(pricing.Window1h)
	}
}

// Validate rejects a trigger that can never run. Errors are fatal
// validation BotErrors, returned to the caller at creation time.
func (t Trigger) Validate(v AddressValidator) error {
	fail := func(format string, args ...interface{}) error {
		return boterrors.NewValidationError(component, "validate", fmt.Sprintf(format, args...)).
			WithContext("trigger_id", t.ID)
	}

	if v != nil {
		if err := v.ValidateTokenAddress(t.Asset); err != nil {
			return boterrors.WrapError(err, boterrors.ErrorCategoryValidation, component, "validate").
				WithContext("field", "asset")
		}
		if err := v.ValidateTokenAddress(t.BaseToken); err != nil {
			return boterrors.WrapError(err, boterrors.ErrorCategoryValidation, component, "validate").
				WithContext("field", "base_token")
		}
	}
	if strings.EqualFold(t.Asset, t.BaseToken) {
		return fail("asset and base token must differ")
	}
	if _, err := ParseAction(string(t.Action)); err != nil {
		return fail("%v", err)
	}
	if _, err := ParseCondition(string(t.Condition)); err != nil {
		return fail("%v", err)
	}
	if t.Threshold <= 0 || (t.Threshold >= 100 && t.Condition != ConditionPriceRise) {
		return fail("threshold %.4f%% out of range for %s", t.Threshold, t.Condition)
	}
	if t.Condition.UsesSMA() {
		if _, err := pricing.ParseWindow(t.Timeframe); err != nil {
			return fail("%s needs an SMA window: %v", t.Condition, err)
		}
	} else if _, err := pricing.ParseTimeframe(t.Timeframe); err != nil {
		return fail("%v", err)
	}
	if t.Amount <= 0 {
		return fail("amount must be positive")
	}
	if t.MaxSlippage <= 0 || t.MaxSlippage >= 100 {
		return fail("max slippage %.2f%% must be between 0 and 100", t.MaxSlippage)
	}
	if t.MaxTriggers < 0 {
		return fail("max triggers cannot be negative")
	}
	if t.Cooldown < 0 {
		return fail("cooldown cannot be negative")
	}
	return nil
}

func (t Trigger) clone() Trigger {
	c := t
	if t.LastFiredAt != nil {
		at := *t.LastFiredAt
		c.LastFiredAt = &at
	}
	return c
}
