package strategy

import (
	"fmt"
	"math"
	"strings"
)

// VolatilityProfile is the discrete turbulence class used to rescale thresholds
type VolatilityProfile string

const (
	ProfileLow     VolatilityProfile = "low"
	ProfileNormal  VolatilityProfile = "normal"
	ProfileHigh    VolatilityProfile = "high"
	ProfileExtreme VolatilityProfile = "extreme"
)

const (
	DefaultVolatilityWindow = 50 // prices kept per strategy
	MinVolatilityPoints     = 10 // below this the profile stays normal
	RecentVolatilityPoints  = 5  // points used for the recent average
)

// ParseVolatilityProfile accepts a profile name, empty means normal
func ParseVolatilityProfile(s string) (VolatilityProfile, error) {
	switch p := VolatilityProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileNormal, nil
	case ProfileLow, ProfileNormal, ProfileHigh, ProfileExtreme:
		return p, nil
	default:
		return "", fmt.Errorf("unknown volatility profile %q", s)
	}
}

// VolatilityMetrics summarizes absolute percentage changes between consecutive prices
type VolatilityMetrics struct {
	AvgVolatility       float64 `json:"avg_volatility"`
	MaxChange           float64 `json:"max_change"`
	RecentAvgVolatility float64 `json:"recent_avg_volatility"`
	Samples             int     `json:"samples"`
}

// ClassifyMetrics maps metrics to a profile, first match from the top wins
func ClassifyMetrics(m VolatilityMetrics) VolatilityProfile {
	switch {
	case m.MaxChange > 100 || m.RecentAvgVolatility > 50:
		return ProfileExtreme
	case m.MaxChange > 50 || m.RecentAvgVolatility > 25:
		return ProfileHigh
	case m.MaxChange > 20 || m.RecentAvgVolatility > 10:
		return ProfileNormal
	default:
		return ProfileLow
	}
}

// Classifier keeps a bounded rolling window of prices for one strategy.
// It is not safe for concurrent use; the owning Strategy serializes access.
type Classifier struct {
	window  int
	prices  []float64
	profile VolatilityProfile
}

// NewClassifier creates a classifier; window <= 0 uses DefaultVolatilityWindow
func NewClassifier(window int) *Classifier {
	if window <= 0 {
		window = DefaultVolatilityWindow
	}
	return &Classifier{
		window:  window,
		prices:  make([]float64, 0, window),
		profile: ProfileNormal,
	}
}

// Add appends a price, evicting the oldest beyond the window
func (c *Classifier) Add(price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	c.prices = append(c.prices, price)
	if len(c.prices) > c.window {
		c.prices = append(c.prices[:0], c.prices[len(c.prices)-c.window:]...)
	}
}

// Metrics computes volatility metrics; false when fewer than MinVolatilityPoints prices
func (c *Classifier) Metrics() (VolatilityMetrics, bool) {
	if len(c.prices) < MinVolatilityPoints {
		return VolatilityMetrics{Samples: len(c.prices)}, false
	}
	return computeMetrics(c.prices), true
}

func computeMetrics(prices []float64) VolatilityMetrics {
	changes := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		changes = append(changes, math.Abs((prices[i]-prices[i-1])/prices[i-1]*100))
	}

	m := VolatilityMetrics{Samples: len(prices)}
	sum := 0.0
	for _, ch := range changes {
		sum += ch
		if ch > m.MaxChange {
			m.MaxChange = ch
		}
	}
	if len(changes) > 0 {
		m.AvgVolatility = sum / float64(len(changes))
	}

	// changes among the last RecentVolatilityPoints prices
	recent := changes
	if n := RecentVolatilityPoints - 1; len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	recentSum := 0.0
	for _, ch := range recent {
		recentSum += ch
	}
	if len(recent) > 0 {
		m.RecentAvgVolatility = recentSum / float64(len(recent))
	}
	return m
}

// Update adds price and reclassifies; changed reports a profile transition
func (c *Classifier) Update(price float64) (VolatilityProfile, bool) {
	c.Add(price)
	next := ProfileNormal
	if m, ok := c.Metrics(); ok {
		next = ClassifyMetrics(m)
	}
	changed := next != c.profile
	c.profile = next
	return next, changed
}

// Profile returns the last classified profile
func (c *Classifier) Profile() VolatilityProfile {
	return c.profile
}

// Prices returns a copy of the rolling window
func (c *Classifier) Prices() []float64 {
	return append([]float64(nil), c.prices...)
}

// Restore reloads the rolling window and profile from a snapshot
func (c *Classifier) Restore(prices []float64, profile VolatilityProfile) {
	c.prices = c.prices[:0]
	for _, p := range prices {
		c.Add(p)
	}
	if profile == "" {
		profile = ProfileNormal
	}
	c.profile = profile
}
