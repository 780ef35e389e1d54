package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

// fakeClock is a manually advanced time source for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func succeed(ctx context.Context) (any, error) { return "ok", nil }

func fail(ctx context.Context) (any, error) { return nil, errors.New("boom") }

func newTestBreaker(clock *fakeClock, mutate func(*Config)) *CircuitBreaker {
	config := DefaultConfig().WithClock(clock.Now)
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.ResetTimeout = 30 * time.Second
	if mutate != nil {
		mutate(config)
	}
	return New("test-dep", config, observability.NopLogger())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), fail)
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())

	// Subsequent call is rejected without invoking the operation.
	invoked := false
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreaker_FailureCountDecaysOnSuccess(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	// Two failures, then a success: one more failure must not open.
	_, _ = cb.Execute(context.Background(), fail)
	_, _ = cb.Execute(context.Background(), fail)
	_, err := cb.Execute(context.Background(), succeed)
	require.NoError(t, err)

	_, _ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateClosed, cb.State())

	_, _ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(context.Background(), fail)
	}
	require.Equal(t, StateOpen, cb.State())

	// Before the cooldown elapses calls stay rejected.
	clock.Advance(29 * time.Second)
	_, err := cb.Execute(context.Background(), succeed)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// Past nextAttemptAt the next call is admitted.
	clock.Advance(2 * time.Second)
	_, err = cb.Execute(context.Background(), succeed)
	assert.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(context.Background(), fail)
	}
	clock.Advance(31 * time.Second)

	// SuccessThreshold = 2 cumulative successes close the circuit.
	_, err := cb.Execute(context.Background(), succeed)
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, cb.State())

	_, err = cb.Execute(context.Background(), succeed)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, 0, stats.FailureCount)
	assert.Equal(t, 0, stats.HalfOpenSuccessCount)
}

func TestBreaker_HalfOpenReopensOnSingleFailure(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(context.Background(), fail)
	}
	clock.Advance(31 * time.Second)

	_, err := cb.Execute(context.Background(), succeed)
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, cb.State())

	_, _ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())

	// The reopened circuit carries a fresh nextAttemptAt in the future.
	stats := cb.Stats()
	assert.True(t, stats.NextAttemptAt.After(clock.Now()))
}

func TestBreaker_OpensOnWindowErrorRate(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, func(c *Config) {
		c.FailureThreshold = 100 // keep the consecutive trigger out of the way
		c.VolumeThreshold = 10
		c.ErrorThresholdPercentage = 50
	})

	// 5 successes + 5 failures: 10 samples at 50% failure rate.
	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(context.Background(), succeed)
	}
	for i := 0; i < 4; i++ {
		_, _ = cb.Execute(context.Background(), fail)
		assert.Equal(t, StateClosed, cb.State())
	}
	_, _ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_TimeoutIsClassifiedFailure(t *testing.T) {
	config := DefaultConfig()
	config.Timeout = 20 * time.Millisecond
	config.FailureThreshold = 1
	cb := New("slow-dep", config, observability.NopLogger())

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})

	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, int64(1), cb.Stats().Timeouts)
}

func TestBreaker_FallbackOnOpenCircuit(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, func(c *Config) {
		c.FailureThreshold = 1
		c.Fallback = func(ctx context.Context, err error) (any, error) {
			return "cached", nil
		}
	})

	_, _ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	result, err := cb.Execute(context.Background(), succeed)
	assert.NoError(t, err)
	assert.Equal(t, "cached", result)
}

type statusResult int

func (s statusResult) StatusCode() int { return int(s) }

func TestDefaultIsFailure(t *testing.T) {
	tests := []struct {
		name    string
		result  any
		err     error
		failure bool
	}{
		{"nil error", "ok", nil, false},
		{"error", nil, errors.New("boom"), true},
		{"status 200", statusResult(200), nil, false},
		{"status 404", statusResult(404), nil, false},
		{"status 500", statusResult(500), nil, true},
		{"status 503", statusResult(503), nil, true},
		{"http response 502", &http.Response{StatusCode: 502}, nil, true},
		{"http response 400", &http.Response{StatusCode: 400}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.failure, DefaultIsFailure(tt.result, tt.err))
		})
	}
}

func TestBreaker_EmitsEvents(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, func(c *Config) {
		c.FailureThreshold = 1
		c.SuccessThreshold = 1
	})

	var mu sync.Mutex
	var seen []EventType
	cb.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	_, _ = cb.Execute(context.Background(), fail)
	clock.Advance(31 * time.Second)
	_, _ = cb.Execute(context.Background(), succeed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventOpen, EventFailure, EventHalfOpen, EventClose, EventSuccess}, seen)
}

func TestBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, func(c *Config) { c.FailureThreshold = 1 })

	_, _ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().FailureCount)

	_, err := cb.Execute(context.Background(), succeed)
	assert.NoError(t, err)
}

func TestBreaker_CumulativeCounters(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, func(c *Config) { c.FailureThreshold = 100 })

	for i := 0; i < 7; i++ {
		_, _ = cb.Execute(context.Background(), succeed)
	}
	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(context.Background(), fail)
	}

	stats := cb.Stats()
	assert.Equal(t, int64(10), stats.Requests)
	assert.Equal(t, int64(7), stats.Successes)
	assert.Equal(t, int64(3), stats.Failures)
	assert.Equal(t, int64(0), stats.Timeouts)
}

func TestBreaker_ConcurrentExecute(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, func(c *Config) {
		c.FailureThreshold = 100000
		c.VolumeThreshold = 1000000
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (n+j)%2 == 0 {
					_, _ = cb.Execute(context.Background(), succeed)
				} else {
					_, _ = cb.Execute(context.Background(), fail)
				}
			}
		}(i)
	}
	wg.Wait()

	stats := cb.Stats()
	assert.Equal(t, int64(1000), stats.Requests)
	assert.Equal(t, int64(1000), stats.Successes+stats.Failures)
}

func TestBreaker_ContextCancellation(t *testing.T) {
	cb := New("ctx-dep", DefaultConfig(), observability.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func(ctx context.Context) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), observability.NopLogger())

	cb1 := reg.GetOrCreate("user-service")
	cb2 := reg.GetOrCreate("user-service")
	assert.Same(t, cb1, cb2)

	assert.Nil(t, reg.Get("unknown"))
	assert.ElementsMatch(t, []string{"user-service"}, reg.Names())
}

func TestRegistry_ResetAll(t *testing.T) {
	clock := newFakeClock()
	config := DefaultConfig().WithClock(clock.Now).WithFailureThreshold(1)
	reg := NewRegistry(config, observability.NopLogger())

	cb := reg.GetOrCreate("course-service")
	_, _ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	reg.ResetAll()
	assert.Equal(t, StateClosed, cb.State())
}
