package pricing

import (
	"fmt"
	"strings"
	"time"
)

// Window is a trailing time span used for SMAs and trigger lookbacks
type Window string

const (
	Window5m  Window = "5min"
	Window1h  Window = "1h"
	Window6h  Window = "6h"
	Window24h Window = "24h"
	Window1d  Window = "1d"
	Window7d  Window = "7d"
)

// AllWindows lists the windows kept in the SMA cache
var AllWindows = []Window{Window5m, Window1h, Window6h, Window24h, Window1d, Window7d}

// Duration returns the span covered by the window
func (w Window) Duration() time.Duration {
	switch w {
	case Window5m:
		return 5 * time.Minute
	case Window1h:
		return time.Hour
	case Window6h:
		return 6 * time.Hour
	case Window24h, Window1d:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseWindow accepts a window label
func ParseWindow(label string) (Window, error) {
	w := Window(strings.ToLower(strings.TrimSpace(label)))
	if w == "5m" {
		return Window5m, nil
	}
	if w.Duration() == 0 {
		return "", fmt.Errorf("unknown window %q", label)
	}
	return w, nil
}

// ParseTimeframe resolves a window label or any Go duration string ("90m")
func ParseTimeframe(label string) (time.Duration, error) {
	if w, err := ParseWindow(label); err == nil {
		return w.Duration(), nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(label))
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q", label)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeframe must be positive: %q", label)
	}
	return d, nil
}
