package api

import (
	"time"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/triggers"
)

// strategyRequest is the create body. Durations are Go duration strings
// such as "5s" or "1h".
type strategyRequest struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	TargetAsset         string  `json:"target_asset"`
	TargetSymbol        string  `json:"target_symbol"`
	BaseToken           string  `json:"base_token"`
	DipThresholdBase    float64 `json:"dip_threshold_base"`
	ProfitThresholdBase float64 `json:"profit_threshold_base"`
	EnableProfitRange   *bool   `json:"enable_profit_range"`
	ProfitRangeMin      float64 `json:"profit_range_min"`
	ProfitRangeMax      float64 `json:"profit_range_max"`
	ProfitRangeSteps    int     `json:"profit_range_steps"`
	ProfitRangeMode     string  `json:"profit_range_mode"`
	TradeAmountBase     float64 `json:"trade_amount_base"`
	MaxSlippage         float64 `json:"max_slippage"`
	PriceCheckInterval  string  `json:"price_check_interval"`
	DipLookbackWindow   string  `json:"dip_lookback_window"`
	VolatilityWindow    int     `json:"volatility_window"`
	InitialProfile      string  `json:"initial_profile"`
	MaxCycles           int     `json:"max_cycles"`
	EnforceLedgerGate   bool    `json:"enforce_ledger_gate"`
	BuyCooldown         string  `json:"buy_cooldown"`
	AutoStart           bool    `json:"auto_start"`
}

func (r strategyRequest) toConfig() (strategy.Config, error) {
	enableRange := true
	if r.EnableProfitRange != nil {
		enableRange = *r.EnableProfitRange
	}
	interval, err := parseDuration("price_check_interval", r.PriceCheckInterval)
	if err != nil {
		return strategy.Config{}, err
	}
	lookback, err := parseDuration("dip_lookback_window", r.DipLookbackWindow)
	if err != nil {
		return strategy.Config{}, err
	}
	cooldown, err := parseDuration("buy_cooldown", r.BuyCooldown)
	if err != nil {
		return strategy.Config{}, err
	}
	return strategy.Config{
		ID:                  r.ID,
		Name:                r.Name,
		TargetAsset:         r.TargetAsset,
		TargetSymbol:        r.TargetSymbol,
		BaseToken:           r.BaseToken,
		DipThresholdBase:    r.DipThresholdBase,
		ProfitThresholdBase: r.ProfitThresholdBase,
		EnableProfitRange:   enableRange,
		ProfitRangeMin:      r.ProfitRangeMin,
		ProfitRangeMax:      r.ProfitRangeMax,
		ProfitRangeSteps:    r.ProfitRangeSteps,
		ProfitRangeMode:     strategy.ProfitRangeMode(r.ProfitRangeMode),
		TradeAmountBase:     r.TradeAmountBase,
		MaxSlippage:         r.MaxSlippage,
		PriceCheckInterval:  interval,
		DipLookbackWindow:   lookback,
		VolatilityWindow:    r.VolatilityWindow,
		InitialProfile:      strategy.VolatilityProfile(r.InitialProfile),
		MaxCycles:           r.MaxCycles,
		EnforceLedgerGate:   r.EnforceLedgerGate,
		BuyCooldown:         cooldown,
	}, nil
}

type triggerRequest struct {
	ID          string  `json:"id"`
	Asset       string  `json:"asset_address"`
	BaseToken   string  `json:"base_token"`
	Action      string  `json:"action"`
	Condition   string  `json:"condition"`
	Threshold   float64 `json:"threshold"`
	Timeframe   string  `json:"timeframe"`
	Amount      float64 `json:"amount"`
	MaxSlippage float64 `json:"max_slippage"`
	MaxTriggers int     `json:"max_triggers"`
	Cooldown    string  `json:"cooldown"`
}

func (r triggerRequest) toTrigger() (triggers.Trigger, error) {
	cooldown, err := parseDuration("cooldown", r.Cooldown)
	if err != nil {
		return triggers.Trigger{}, err
	}
	return triggers.Trigger{
		ID:          r.ID,
		Asset:       r.Asset,
		BaseToken:   r.BaseToken,
		Action:      triggers.Action(r.Action),
		Condition:   triggers.Condition(r.Condition),
		Threshold:   r.Threshold,
		Timeframe:   r.Timeframe,
		Amount:      r.Amount,
		MaxSlippage: r.MaxSlippage,
		MaxTriggers: r.MaxTriggers,
		Cooldown:    cooldown,
	}, nil
}

// parseDuration treats an empty value as unset
func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, boterrors.NewValidationError("api", "decode", field+": "+err.Error())
	}
	return d, nil
}
