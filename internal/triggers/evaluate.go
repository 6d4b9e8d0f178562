package triggers

import (
	"fmt"
	"time"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/pricing"
)

// PriceSource is the read side of the price store a trigger needs.
// *pricing.Store satisfies it.
type PriceSource interface {
	Latest(asset string) (pricing.PricePoint, bool)
	PriceAt(asset string, t time.Time) (pricing.PricePoint, bool)
	SMA(asset string, window pricing.Window) (pricing.SMAValue, error)
}

// Evaluation is the outcome of testing one trigger against the price store
type Evaluation struct {
	Matched bool
	// Current is the latest price, Reference the price or SMA compared against
	Current   float64
	Reference float64
	// ChangePercent is current relative to reference, signed
	ChangePercent float64
	Reason        string
}

// Evaluate tests a trigger condition without mutating anything. Inactive,
// exhausted or cooling-down triggers never match. Missing data surfaces as
// an UnknownAsset or InsufficientData error and a non-matching evaluation.
func Evaluate(t Trigger, src PriceSource, now time.Time) (Evaluation, error) {
	switch {
	case !t.IsActive:
		return Evaluation{Reason: "inactive"}, nil
	case t.Exhausted():
		return Evaluation{Reason: "exhausted"}, nil
	case t.InCooldown(now):
		return Evaluation{Reason: "cooldown"}, nil
	}

	latest, ok := src.Latest(t.Asset)
	if !ok {
		return Evaluation{Reason: "no price"}, boterrors.NewUnknownAssetError(component, "evaluate", t.Asset)
	}
	ev := Evaluation{Current: latest.Price}

	if t.Condition.UsesSMA() {
		window, err := pricing.ParseWindow(t.Timeframe)
		if err != nil {
			return ev, boterrors.NewValidationError(component, "evaluate", err.Error())
		}
		sma, err := src.SMA(t.Asset, window)
		if err != nil {
			ev.Reason = "sma unavailable"
			return ev, err
		}
		ev.Reference = sma.Average
	} else {
		timeframe, err := pricing.ParseTimeframe(t.Timeframe)
		if err != nil {
			return ev, boterrors.NewValidationError(component, "evaluate", err.Error())
		}
		ref, ok := src.PriceAt(t.Asset, now.Add(-timeframe))
		if !ok || ref.Price <= 0 {
			ev.Reason = "no reference price"
			return ev, boterrors.NewInsufficientDataError(component, "evaluate",
				fmt.Sprintf("no price for %s %s ago", t.Asset, t.Timeframe))
		}
		ev.Reference = ref.Price
	}

	ev.ChangePercent = (ev.Current - ev.Reference) / ev.Reference * 100

	switch t.Condition {
	case ConditionPriceDrop:
		ev.Matched = -ev.ChangePercent >= t.Threshold
	case ConditionPriceRise:
		ev.Matched = ev.ChangePercent >= t.Threshold
	case ConditionBelowSMA:
		ev.Matched = ev.Current <= ev.Reference*(1-t.Threshold/100)
	case ConditionAboveSMA:
		ev.Matched = ev.Current >= ev.Reference*(1+t.Threshold/100)
	}

	if ev.Matched {
		ev.Reason = fmt.Sprintf("%s %.2f%% vs %.8f", t.Condition, ev.ChangePercent, ev.Reference)
	} else {
		ev.Reason = "condition not met"
	}
	return ev, nil
}
