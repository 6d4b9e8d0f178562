package strategy

// DipTier is the severity class of a dip
type DipTier string

const (
	DipTierNone    DipTier = "none"
	DipTierSmall   DipTier = "small"
	DipTierMedium  DipTier = "medium"
	DipTierLarge   DipTier = "large"
	DipTierExtreme DipTier = "extreme"
)

// SellTier is the class of an unrealized gain
type SellTier string

const (
	SellTierNone      SellTier = "none"
	SellTierQuick     SellTier = "quick"
	SellTierNormal    SellTier = "normal"
	SellTierGood      SellTier = "good"
	SellTierExcellent SellTier = "excellent"
	SellTierExtreme   SellTier = "extreme"
)

// DipThresholds are dip percentages for each tier
type DipThresholds struct {
	Small   float64 `json:"small"`
	Medium  float64 `json:"medium"`
	Large   float64 `json:"large"`
	Extreme float64 `json:"extreme"`
}

// SellThresholds are unrealized profit percentages for each tier
type SellThresholds struct {
	Quick     float64 `json:"quick"`
	Normal    float64 `json:"normal"`
	Good      float64 `json:"good"`
	Excellent float64 `json:"excellent"`
	Extreme   float64 `json:"extreme"`
}

// PositionSizing is the trade amount in base token for each dip tier
type PositionSizing struct {
	Small   float64 `json:"small"`
	Medium  float64 `json:"medium"`
	Large   float64 `json:"large"`
	Extreme float64 `json:"extreme"`
}

// Thresholds is a strategy's full adaptive threshold set
type Thresholds struct {
	Profile VolatilityProfile `json:"profile"`
	Dip     DipThresholds     `json:"dip"`
	Sell    SellThresholds    `json:"sell"`
	Sizing  PositionSizing    `json:"sizing"`
}

// Multipliers applied to the base dip and profit percentages per profile
var (
	dipMultipliers = map[VolatilityProfile][4]float64{
		ProfileLow:     {0.5, 1.0, 1.5, 2.0},
		ProfileNormal:  {1.0, 2.0, 3.0, 4.0},
		ProfileHigh:    {1.5, 3.0, 4.5, 6.0},
		ProfileExtreme: {2.0, 4.0, 6.0, 8.0},
	}
	sellMultipliers = map[VolatilityProfile][5]float64{
		ProfileLow:     {0.3, 0.7, 1.5, 3, 5},
		ProfileNormal:  {0.5, 1.0, 2.0, 5, 10},
		ProfileHigh:    {0.7, 1.5, 3.0, 7, 15},
		ProfileExtreme: {1.0, 2.0, 5.0, 10, 25},
	}
	// sizing follows dip severity, never the profile
	sizingMultipliers = [4]float64{0.5, 1.0, 1.5, 2.0}
)

// ComputeThresholds derives the tier tables from the profile, the base dip %,
// the base profit % and the base trade amount. Pure and idempotent.
func ComputeThresholds(profile VolatilityProfile, dipBase, profitBase, baseAmount float64) Thresholds {
	dm, ok := dipMultipliers[profile]
	if !ok {
		profile = ProfileNormal
		dm = dipMultipliers[profile]
	}
	sm := sellMultipliers[profile]

	return Thresholds{
		Profile: profile,
		Dip: DipThresholds{
			Small:   dipBase * dm[0],
			Medium:  dipBase * dm[1],
			Large:   dipBase * dm[2],
			Extreme: dipBase * dm[3],
		},
		Sell: SellThresholds{
			Quick:     profitBase * sm[0],
			Normal:    profitBase * sm[1],
			Good:      profitBase * sm[2],
			Excellent: profitBase * sm[3],
			Extreme:   profitBase * sm[4],
		},
		Sizing: PositionSizing{
			Small:   baseAmount * sizingMultipliers[0],
			Medium:  baseAmount * sizingMultipliers[1],
			Large:   baseAmount * sizingMultipliers[2],
			Extreme: baseAmount * sizingMultipliers[3],
		},
	}
}

// Classify returns the highest tier whose threshold the dip reaches
func (d DipThresholds) Classify(dipPercent float64) DipTier {
	switch {
	case dipPercent >= d.Extreme:
		return DipTierExtreme
	case dipPercent >= d.Large:
		return DipTierLarge
	case dipPercent >= d.Medium:
		return DipTierMedium
	case dipPercent >= d.Small:
		return DipTierSmall
	default:
		return DipTierNone
	}
}

// For returns the sized amount for tier, zero for none
func (s PositionSizing) For(tier DipTier) float64 {
	switch tier {
	case DipTierSmall:
		return s.Small
	case DipTierMedium:
		return s.Medium
	case DipTierLarge:
		return s.Large
	case DipTierExtreme:
		return s.Extreme
	default:
		return 0
	}
}

// Classify returns the highest tier whose threshold the profit reaches
func (s SellThresholds) Classify(pnlPercent float64) SellTier {
	switch {
	case pnlPercent >= s.Extreme:
		return SellTierExtreme
	case pnlPercent >= s.Excellent:
		return SellTierExcellent
	case pnlPercent >= s.Good:
		return SellTierGood
	case pnlPercent >= s.Normal:
		return SellTierNormal
	case pnlPercent >= s.Quick:
		return SellTierQuick
	default:
		return SellTierNone
	}
}

// Threshold returns the profit percentage of tier, zero for none
func (s SellThresholds) Threshold(tier SellTier) float64 {
	switch tier {
	case SellTierQuick:
		return s.Quick
	case SellTierNormal:
		return s.Normal
	case SellTierGood:
		return s.Good
	case SellTierExcellent:
		return s.Excellent
	case SellTierExtreme:
		return s.Extreme
	default:
		return 0
	}
}
