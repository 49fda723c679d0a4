package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleAllowsBurstUpToCapacity(t *testing.T) {
	throttle := NewThrottle(10)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, throttle.Acquire(context.Background()))
	}

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottleBlocksBeyondCapacity(t *testing.T) {
	rate := 50.0
	capacity := 50
	n := 75

	throttle := NewThrottle(rate)

	start := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, throttle.Acquire(context.Background()))
	}
	elapsed := time.Since(start)

	// draining capacity is free; the rest refills at `rate` per second
	minElapsed := time.Duration(float64(n-capacity) / rate * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, minElapsed-50*time.Millisecond)
}

func TestThrottleConcurrentAcquirers(t *testing.T) {
	throttle := NewThrottle(100)

	var wg sync.WaitGroup
	errs := make(chan error, 150)
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- throttle.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	// bucket can never be overdrawn
	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	assert.GreaterOrEqual(t, throttle.tokens, 0.0)
	assert.LessOrEqual(t, throttle.tokens, throttle.maxTokens)
}

func TestThrottleRespectsContext(t *testing.T) {
	throttle := NewThrottle(1)

	// drain the single token
	require.NoError(t, throttle.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := throttle.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
