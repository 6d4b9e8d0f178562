package strategy

import "fmt"

// DipState is a state of the dip detector
type DipState string

const (
	DipStateNoPosition  DipState = "NO_POSITION"
	DipStateEvaluating  DipState = "EVALUATING_DIP"
	DipStateBuyApproved DipState = "BUY_APPROVED"
	DipStateWaiting     DipState = "WAITING"
)

// Reasons a dip evaluation ends in WAITING
const (
	WaitAveragePriceGate = "average_price_gate"
	WaitInsufficientData = "insufficient_data"
	WaitBelowSmallTier   = "below_small_tier"
	WaitInvalidPrice     = "invalid_price"
	WaitCooldown         = "buy_cooldown"
	WaitLedgerGate       = "ledger_gate"
	WaitNoLiquidity      = "no_liquidity"
)

// DipInput is everything the detector needs for one evaluation
type DipInput struct {
	CurrentPrice     float64
	HasOpenPositions bool
	OpenAveragePrice float64   // weighted average of the open positions
	WindowPrices     []float64 // prices inside the dip lookback window
	Thresholds       Thresholds
}

// DipDecision is the detector outcome
type DipDecision struct {
	State      DipState `json:"state"`
	Reason     string   `json:"reason,omitempty"`
	DipPercent float64  `json:"dip_percent"`
	WindowMax  float64  `json:"window_max"`
	Tier       DipTier  `json:"tier"`
	Amount     float64  `json:"amount"`
}

// Approved reports a buy approval
func (d DipDecision) Approved() bool {
	return d.State == DipStateBuyApproved
}

func (d DipDecision) String() string {
	if d.Approved() {
		return fmt.Sprintf("BUY %s dip %.2f%% amount %.6f", d.Tier, d.DipPercent, d.Amount)
	}
	return fmt.Sprintf("WAIT (%s) dip %.2f%%", d.Reason, d.DipPercent)
}

func waiting(reason string) DipDecision {
	return DipDecision{State: DipStateWaiting, Reason: reason, Tier: DipTierNone}
}

// EvaluateDip runs the dip state machine for one tick. The average-price gate
// is checked first and overrides tier detection.
func EvaluateDip(in DipInput) DipDecision {
	if in.CurrentPrice <= 0 {
		return waiting(WaitInvalidPrice)
	}

	if in.HasOpenPositions && in.OpenAveragePrice > 0 && in.CurrentPrice >= in.OpenAveragePrice {
		return waiting(WaitAveragePriceGate)
	}

	// EVALUATING_DIP
	if len(in.WindowPrices) == 0 {
		return waiting(WaitInsufficientData)
	}
	windowMax := in.WindowPrices[0]
	for _, p := range in.WindowPrices[1:] {
		if p > windowMax {
			windowMax = p
		}
	}
	if windowMax <= 0 {
		return waiting(WaitInsufficientData)
	}

	dipPercent := (windowMax - in.CurrentPrice) / windowMax * 100
	tier := in.Thresholds.Dip.Classify(dipPercent)
	if tier == DipTierNone || dipPercent <= 0 {
		d := waiting(WaitBelowSmallTier)
		d.DipPercent = dipPercent
		d.WindowMax = windowMax
		return d
	}

	return DipDecision{
		State:      DipStateBuyApproved,
		DipPercent: dipPercent,
		WindowMax:  windowMax,
		Tier:       tier,
		Amount:     in.Thresholds.Sizing.For(tier),
	}
}

// ClampToLiquidity caps a sized buy at the venue's safe amount. A
// non-positive maxSafe means the venue reported no usable depth and the
// buy shrinks to zero; +Inf means unbounded.
func ClampToLiquidity(amount, maxSafe float64) (float64, bool) {
	if !(maxSafe > 0) {
		return 0, amount > 0
	}
	if amount > maxSafe {
		return maxSafe, true
	}
	return amount, false
}
