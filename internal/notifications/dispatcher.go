package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/logger"
)

// alertTypes are the events worth a message; price updates are too chatty
var alertTypes = []events.EventType{
	events.EventTypeTradeExecuted,
	events.EventTypeTriggerFired,
	events.EventTypeProfitStep,
	events.EventTypeStrategyCompleted,
	events.EventTypeAssetDropped,
	events.EventTypeVolatilityChanged,
}

// Dispatcher turns bus events into alerts. Delivery runs on the bus
// subscriber goroutine, so a slow notifier never stalls trading.
type Dispatcher struct {
	notifier Notifier
	logger   *logger.Logger
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher sending through n
func NewDispatcher(n Notifier, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{notifier: n, logger: log, timeout: 15 * time.Second}
}

// Subscribe attaches the dispatcher to bus
func (d *Dispatcher) Subscribe(bus *events.Bus, queueSize int) *events.Subscription {
	return bus.Subscribe("notifications", queueSize, d.Handle, alertTypes...)
}

// Handle formats and sends one event. Failures are returned to the bus,
// which counts and logs them.
func (d *Dispatcher) Handle(ev events.Event) error {
	level, msg, ok := Format(ev)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.notifier.SendAlert(ctx, level, msg); err != nil {
		return fmt.Errorf("send %s alert: %w", ev.GetType(), err)
	}
	return nil
}

// Format renders an event as an alert. ok is false for events that are
// not alerted on.
func Format(ev events.Event) (Level, string, bool) {
	switch e := ev.(type) {
	case *events.TradeExecuted:
		var b strings.Builder
		fmt.Fprintf(&b, "%s %.6f of %s at %.8f\nValue: %.4f\nReason: %s",
			strings.ToUpper(e.Side), e.Quantity, short(e.Asset), e.Price, e.Value, e.Reason)
		if e.StrategyID != "" {
			fmt.Fprintf(&b, "\nStrategy: %s", e.StrategyID)
		}
		if e.TriggerID != "" {
			fmt.Fprintf(&b, "\nTrigger: %s", e.TriggerID)
		}
		fmt.Fprintf(&b, "\nTx: %s", e.TxRef)
		return LevelInfo, b.String(), true

	case *events.TriggerFired:
		if !e.Success {
			return LevelWarning, fmt.Sprintf("Trigger %s (%s %s %.2f%%) matched at %.8f but the %s failed",
				e.TriggerID, short(e.Asset), e.Condition, e.Threshold, e.Price, e.Action), true
		}
		return LevelInfo, fmt.Sprintf("Trigger %s fired: %s %s on %s %.2f%% at %.8f (%d/%d)",
			e.TriggerID, e.Action, short(e.Asset), e.Condition, e.Threshold, e.Price, e.TriggerCount, e.MaxTriggers), true

	case *events.ProfitStepExecuted:
		return LevelSuccess, fmt.Sprintf("Profit step %d of %s hit at +%.2f%%: sold %.6f (%.1f%%) at %.8f",
			e.Step, e.StrategyID, e.ProfitPercent, e.Quantity, e.SellPercentage, e.Price), true

	case *events.StrategyCompleted:
		msg := fmt.Sprintf("Strategy %s completed cycle %d on %s (%s)\nRealized PnL: %.4f",
			e.StrategyID, e.CompletedCycles, short(e.Asset), e.ExitReason, e.RealizedPnL)
		if e.AutoStopped {
			msg += fmt.Sprintf("\nStopped after reaching %d cycles", e.MaxCycles)
		}
		return LevelSuccess, msg, true

	case *events.AssetDropped:
		return LevelError, fmt.Sprintf("Dropped %s after %d consecutive quote failures since %s",
			e.Asset, e.Failures, e.FailingSince.Format(time.RFC3339)), true

	case *events.VolatilityChanged:
		return LevelInfo, fmt.Sprintf("Volatility of %s (%s) changed %s -> %s",
			short(e.Asset), e.StrategyID, e.From, e.To), true
	}
	return "", "", false
}

func short(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
