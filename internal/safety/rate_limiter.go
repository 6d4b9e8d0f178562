package safety

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting for outbound HTTP calls
// to quote and swap services.
type RateLimiter struct {
	capacity   int
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mutex      sync.Mutex
	name       string
}

// NewRateLimiter creates a new rate limiter starting at full capacity
func NewRateLimiter(name string, capacity int, refillRate float64) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	return &RateLimiter{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
		name:       name,
	}
}

// Allow takes one token if available
func (rl *RateLimiter) Allow() bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refill(time.Now())
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}

		timer := time.NewTimer(rl.waitTime())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > float64(rl.capacity) {
		rl.tokens = float64(rl.capacity)
	}
	rl.lastRefill = now
}

func (rl *RateLimiter) waitTime() time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	missing := 1 - rl.tokens
	if missing <= 0 {
		return time.Millisecond
	}
	return time.Duration(missing/rl.refillRate*float64(time.Second)) + time.Millisecond
}

// RateLimiterStats holds statistics about a rate limiter
type RateLimiterStats struct {
	Name       string  `json:"name"`
	Capacity   int     `json:"capacity"`
	Tokens     float64 `json:"tokens"`
	RefillRate float64 `json:"refill_rate"`
}

// GetStats returns current statistics about the rate limiter
func (rl *RateLimiter) GetStats() RateLimiterStats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refill(time.Now())
	return RateLimiterStats{
		Name:       rl.name,
		Capacity:   rl.capacity,
		Tokens:     rl.tokens,
		RefillRate: rl.refillRate,
	}
}
