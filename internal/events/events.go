// Package events carries engine notifications from the code that mutates
// state to the observers (API stream, notifier, archive, metrics).
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of event
type EventType string

const (
	EventTypePriceUpdate       EventType = "price_update"
	EventTypeTradeExecuted     EventType = "trade_executed"
	EventTypeTriggerFired      EventType = "trigger_fired"
	EventTypeProfitStep        EventType = "profit_step_executed"
	EventTypeStrategyCompleted EventType = "strategy_completed"
	EventTypeAssetDropped      EventType = "asset_dropped"
	EventTypeVolatilityChanged EventType = "volatility_changed"
)

// Event is the base interface for all engine events
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// Publisher accepts events without blocking the caller
type Publisher interface {
	Publish(event Event)
}

// BaseEvent provides common event functionality
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) GetType() EventType      { return e.Type }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetID() string           { return e.ID }

// NewBaseEvent creates a base event with a fresh ID
func NewBaseEvent(eventType EventType, ts time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: ts,
	}
}

// PriceUpdate is emitted for every accepted price observation
type PriceUpdate struct {
	BaseEvent
	Asset     string  `json:"asset"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	Source    string  `json:"source"`
}

// TradeExecuted is emitted after a swap result was recorded to the ledger
type TradeExecuted struct {
	BaseEvent
	StrategyID string  `json:"strategy_id,omitempty"`
	TriggerID  string  `json:"trigger_id,omitempty"`
	Asset      string  `json:"asset"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	Value      float64 `json:"value"`
	TxRef      string  `json:"tx_ref"`
	Reason     string  `json:"reason"`
}

// TriggerFired is emitted when a trigger condition matched and its action ran
type TriggerFired struct {
	BaseEvent
	TriggerID    string  `json:"trigger_id"`
	Asset        string  `json:"asset"`
	Action       string  `json:"action"`
	Condition    string  `json:"condition"`
	Threshold    float64 `json:"threshold"`
	Price        float64 `json:"price"`
	TriggerCount int     `json:"trigger_count"`
	MaxTriggers  int     `json:"max_triggers"`
	Success      bool    `json:"success"`
}

// ProfitStepExecuted is emitted for each partial sell of a profit range
type ProfitStepExecuted struct {
	BaseEvent
	StrategyID     string  `json:"strategy_id"`
	Asset          string  `json:"asset"`
	Step           int     `json:"step"`
	ProfitPercent  float64 `json:"profit_percent"`
	SellPercentage float64 `json:"sell_percentage"`
	Price          float64 `json:"price"`
	Quantity       float64 `json:"quantity"`
}

// StrategyCompleted is emitted when a strategy sold out a full cycle
type StrategyCompleted struct {
	BaseEvent
	StrategyID      string  `json:"strategy_id"`
	Asset           string  `json:"asset"`
	CompletedCycles int     `json:"completed_cycles"`
	MaxCycles       int     `json:"max_cycles"`
	RealizedPnL     float64 `json:"realized_pnl"`
	ExitReason      string  `json:"exit_reason"`
	AutoStopped     bool    `json:"auto_stopped"`
}

// AssetDropped is emitted when an asset is removed after repeated quote failures
type AssetDropped struct {
	BaseEvent
	Asset        string    `json:"asset"`
	Failures     int       `json:"failures"`
	FailingSince time.Time `json:"failing_since"`
}

// VolatilityChanged is emitted when a strategy's profile is reclassified
type VolatilityChanged struct {
	BaseEvent
	StrategyID string `json:"strategy_id"`
	Asset      string `json:"asset"`
	From       string `json:"from"`
	To         string `json:"to"`
}
