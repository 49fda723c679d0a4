package notification

import (
	"context"
	"sync"
	"time"
)

// Throttle is a global token bucket for outbound messages. Capacity
// equals the per-second rate; tokens refill continuously and Acquire
// blocks until one is available.
type Throttle struct {
	mu         sync.Mutex
	rate       float64
	tokens     float64
	maxTokens  float64
	lastRefill time.Time
}

// NewThrottle creates a token bucket allowing rate messages per second
func NewThrottle(rate float64) *Throttle {
	return &Throttle{
		rate:       rate,
		tokens:     rate,
		maxTokens:  rate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available, then consumes it. The
// refill-and-consume section is serialized; the wait itself happens
// outside the lock so concurrent acquirers queue fairly.
func (t *Throttle) Acquire(ctx context.Context) error {
	for {
		t.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(t.lastRefill).Seconds()
		t.tokens = min(t.maxTokens, t.tokens+elapsed*t.rate)
		t.lastRefill = now

		if t.tokens >= 1 {
			t.tokens--
			t.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - t.tokens) / t.rate * float64(time.Second))
		t.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
