package config

import (
	"time"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/triggers"
)

// StrategyConfig is a strategy declared in the config file
type StrategyConfig struct {
	ID                  string        `mapstructure:"id"`
	Name                string        `mapstructure:"name"`
	TargetAsset         string        `mapstructure:"target_asset"`
	TargetSymbol        string        `mapstructure:"target_symbol"`
	BaseToken           string        `mapstructure:"base_token"`
	DipThresholdBase    float64       `mapstructure:"dip_threshold_base"`
	ProfitThresholdBase float64       `mapstructure:"profit_threshold_base"`
	EnableProfitRange   *bool         `mapstructure:"enable_profit_range"`
	ProfitRangeMin      float64       `mapstructure:"profit_range_min"`
	ProfitRangeMax      float64       `mapstructure:"profit_range_max"`
	ProfitRangeSteps    int           `mapstructure:"profit_range_steps"`
	ProfitRangeMode     string        `mapstructure:"profit_range_mode"`
	TradeAmountBase     float64       `mapstructure:"trade_amount_base"`
	MaxSlippage         float64       `mapstructure:"max_slippage"`
	PriceCheckInterval  time.Duration `mapstructure:"price_check_interval"`
	DipLookbackWindow   time.Duration `mapstructure:"dip_lookback_window"`
	VolatilityWindow    int           `mapstructure:"volatility_window"`
	InitialProfile      string        `mapstructure:"initial_profile"`
	MaxCycles           int           `mapstructure:"max_cycles"`
	EnforceLedgerGate   bool          `mapstructure:"enforce_ledger_gate"`
	BuyCooldown         time.Duration `mapstructure:"buy_cooldown"`
	AutoStart           bool          `mapstructure:"auto_start"`
}

// ToStrategy converts to the strategy definition. The profit range is
// enabled unless explicitly switched off.
func (s StrategyConfig) ToStrategy() strategy.Config {
	enableRange := true
	if s.EnableProfitRange != nil {
		enableRange = *s.EnableProfitRange
	}
	return strategy.Config{
		ID:                  s.ID,
		Name:                s.Name,
		TargetAsset:         s.TargetAsset,
		TargetSymbol:        s.TargetSymbol,
		BaseToken:           s.BaseToken,
		DipThresholdBase:    s.DipThresholdBase,
		ProfitThresholdBase: s.ProfitThresholdBase,
		EnableProfitRange:   enableRange,
		ProfitRangeMin:      s.ProfitRangeMin,
		ProfitRangeMax:      s.ProfitRangeMax,
		ProfitRangeSteps:    s.ProfitRangeSteps,
		ProfitRangeMode:     strategy.ProfitRangeMode(s.ProfitRangeMode),
		TradeAmountBase:     s.TradeAmountBase,
		MaxSlippage:         s.MaxSlippage,
		PriceCheckInterval:  s.PriceCheckInterval,
		DipLookbackWindow:   s.DipLookbackWindow,
		VolatilityWindow:    s.VolatilityWindow,
		InitialProfile:      strategy.VolatilityProfile(s.InitialProfile),
		MaxCycles:           s.MaxCycles,
		EnforceLedgerGate:   s.EnforceLedgerGate,
		BuyCooldown:         s.BuyCooldown,
	}
}

// TriggerConfig is a trigger declared in the config file
type TriggerConfig struct {
	ID          string        `mapstructure:"id"`
	Asset       string        `mapstructure:"asset"`
	BaseToken   string        `mapstructure:"base_token"`
	Action      string        `mapstructure:"action"`
	Condition   string        `mapstructure:"condition"`
	Threshold   float64       `mapstructure:"threshold"`
	Timeframe   string        `mapstructure:"timeframe"`
	Amount      float64       `mapstructure:"amount"`
	MaxSlippage float64       `mapstructure:"max_slippage"`
	MaxTriggers int           `mapstructure:"max_triggers"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// ToTrigger converts to the trigger definition
func (t TriggerConfig) ToTrigger() triggers.Trigger {
	return triggers.Trigger{
		ID:          t.ID,
		Asset:       t.Asset,
		BaseToken:   t.BaseToken,
		Action:      triggers.Action(t.Action),
		Condition:   triggers.Condition(t.Condition),
		Threshold:   t.Threshold,
		Timeframe:   t.Timeframe,
		Amount:      t.Amount,
		MaxSlippage: t.MaxSlippage,
		MaxTriggers: t.MaxTriggers,
		Cooldown:    t.Cooldown,
	}
}
