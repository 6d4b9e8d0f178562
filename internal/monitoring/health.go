package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker tracks liveness signals from the engine
type HealthChecker struct {
	mu              sync.RWMutex
	startedAt       time.Time
	lastPriceAt     time.Time
	lastTradeAt     time.Time
	lastSnapshotAt  time.Time
	lastSnapshotErr string
	staleAfter      time.Duration
	now             func() time.Time
}

// HealthStatus is the body served on /health
type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Uptime         string    `json:"uptime"`
	LastPriceAt    time.Time `json:"last_price_at"`
	LastTradeAt    time.Time `json:"last_trade_at"`
	LastSnapshotAt time.Time `json:"last_snapshot_at"`
	Errors         []string  `json:"errors,omitempty"`
}

// NewHealthChecker reports degraded once no price was accepted for
// staleAfter
func NewHealthChecker(staleAfter time.Duration) *HealthChecker {
	return newHealthChecker(staleAfter, time.Now)
}

func newHealthChecker(staleAfter time.Duration, now func() time.Time) *HealthChecker {
	return &HealthChecker{startedAt: now(), staleAfter: staleAfter, now: now}
}

func (h *HealthChecker) MarkPrice() {
	h.mu.Lock()
	h.lastPriceAt = h.now()
	h.mu.Unlock()
}

func (h *HealthChecker) MarkTrade() {
	h.mu.Lock()
	h.lastTradeAt = h.now()
	h.mu.Unlock()
}

// MarkSnapshot records the outcome of the last snapshot save
func (h *HealthChecker) MarkSnapshot(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastSnapshotErr = err.Error()
		return
	}
	h.lastSnapshotErr = ""
	h.lastSnapshotAt = h.now()
}

// Check evaluates the current health
func (h *HealthChecker) Check() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	st := HealthStatus{
		Status:         "healthy",
		Timestamp:      now,
		Uptime:         now.Sub(h.startedAt).Truncate(time.Second).String(),
		LastPriceAt:    h.lastPriceAt,
		LastTradeAt:    h.lastTradeAt,
		LastSnapshotAt: h.lastSnapshotAt,
	}

	reference := h.lastPriceAt
	if reference.IsZero() {
		reference = h.startedAt
	}
	if h.staleAfter > 0 && now.Sub(reference) > h.staleAfter {
		st.Errors = append(st.Errors, "no price accepted since "+reference.Format(time.RFC3339))
	}
	if h.lastSnapshotErr != "" {
		st.Errors = append(st.Errors, "snapshot: "+h.lastSnapshotErr)
	}
	if len(st.Errors) > 0 {
		st.Status = "degraded"
	}
	return st
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := h.Check()
	w.Header().Set("Content-Type", "application/json")
	if st.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(st)
}
