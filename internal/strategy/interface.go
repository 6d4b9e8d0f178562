package strategy

import (
	"time"
)

// TradeDecision represents a trading decision made for one strategy tick
type TradeDecision struct {
	Action    TradeAction
	Amount    float64 // base token for buys, asset tokens for sells
	Price     float64
	Reason    string
	Step      int // profit step index, 0 when not a step sell
	Timestamp time.Time
}

// TradeAction represents the type of trading action
type TradeAction int

const (
	ActionHold TradeAction = iota
	ActionBuy
	ActionSell
)

func (ta TradeAction) String() string {
	switch ta {
	case ActionHold:
		return "HOLD"
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ExitReason explains why a position was closed
type ExitReason string

const (
	ExitReasonProfitStep ExitReason = "profit_range_step"
	ExitReasonFastExit   ExitReason = "fast_exit"
	ExitReasonManual     ExitReason = "manual"
)

// AddressValidator checks token address format at creation time
type AddressValidator interface {
	ValidateTokenAddress(address string) error
}
