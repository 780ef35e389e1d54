// Package circuitbreaker provides per-dependency fault isolation for the
// gateway and backend services. It implements the circuit breaker pattern to
// stop calling a failing dependency for a cooldown period.
package circuitbreaker

import (
	"context"
	"time"
)

// IsFailureFunc classifies the outcome of an operation. It receives the
// operation's result and error and returns true if the call should count as a
// failure against the breaker.
type IsFailureFunc func(result any, err error) bool

// FallbackFunc is invoked instead of returning ErrCircuitOpen when the circuit
// rejects a call. Its result and error are returned to the caller as-is.
type FallbackFunc func(ctx context.Context, err error) (any, error)

// Config holds configuration for a circuit breaker. A Config is validated once
// at construction and treated as immutable afterwards.
type Config struct {
	// FailureThreshold is the failure count at which a closed circuit opens.
	// Successes decay the count, so only sustained failures trip the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of cumulative successes in half-open
	// state required to close the circuit.
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays open before a trial call is
	// admitted (half-open).
	ResetTimeout time.Duration

	// Timeout is the per-call timeout. A call exceeding it counts as a
	// classified failure with ErrRequestTimeout.
	Timeout time.Duration

	// VolumeThreshold is the minimum number of samples in the monitoring
	// window before the error-rate trigger is evaluated.
	VolumeThreshold int

	// ErrorThresholdPercentage is the failure rate (0-100) over the monitoring
	// window that opens a closed circuit once VolumeThreshold is met.
	ErrorThresholdPercentage float64

	// MonitoringWindow is the age limit for sliding-window call records.
	MonitoringWindow time.Duration

	// IsFailure classifies call outcomes. If nil, any non-nil error or an
	// HTTP-like result with status >= 500 counts as a failure; 4xx does not.
	IsFailure IsFailureFunc

	// Fallback, if set, is invoked instead of failing with ErrCircuitOpen
	// when the circuit rejects a call.
	Fallback FallbackFunc

	// Clock supplies the current time. Defaults to time.Now; tests inject a
	// fake to simulate elapsed time deterministically.
	Clock func() time.Time
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:         5,
		SuccessThreshold:         2,
		ResetTimeout:             30 * time.Second,
		Timeout:                  30 * time.Second,
		VolumeThreshold:          10,
		ErrorThresholdPercentage: 50,
		MonitoringWindow:         time.Minute,
	}
}

// Validate normalizes invalid values back to defaults.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout < time.Millisecond {
		c.ResetTimeout = 30 * time.Second
	}
	if c.Timeout < time.Millisecond {
		c.Timeout = 30 * time.Second
	}
	if c.VolumeThreshold < 1 {
		c.VolumeThreshold = 10
	}
	if c.ErrorThresholdPercentage <= 0 || c.ErrorThresholdPercentage > 100 {
		c.ErrorThresholdPercentage = 50
	}
	if c.MonitoringWindow < time.Second {
		c.MonitoringWindow = time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// WithFailureThreshold sets the failure threshold.
func (c *Config) WithFailureThreshold(n int) *Config {
	c.FailureThreshold = n
	return c
}

// WithSuccessThreshold sets the success threshold.
func (c *Config) WithSuccessThreshold(n int) *Config {
	c.SuccessThreshold = n
	return c
}

// WithResetTimeout sets the open-state cooldown.
func (c *Config) WithResetTimeout(d time.Duration) *Config {
	c.ResetTimeout = d
	return c
}

// WithTimeout sets the per-call timeout.
func (c *Config) WithTimeout(d time.Duration) *Config {
	c.Timeout = d
	return c
}

// WithVolumeThreshold sets the minimum window sample count.
func (c *Config) WithVolumeThreshold(n int) *Config {
	c.VolumeThreshold = n
	return c
}

// WithErrorThresholdPercentage sets the window failure-rate trigger.
func (c *Config) WithErrorThresholdPercentage(pct float64) *Config {
	c.ErrorThresholdPercentage = pct
	return c
}

// WithMonitoringWindow sets the sliding-window duration.
func (c *Config) WithMonitoringWindow(d time.Duration) *Config {
	c.MonitoringWindow = d
	return c
}

// WithIsFailure sets the outcome classifier.
func (c *Config) WithIsFailure(fn IsFailureFunc) *Config {
	c.IsFailure = fn
	return c
}

// WithFallback sets the open-circuit fallback.
func (c *Config) WithFallback(fn FallbackFunc) *Config {
	c.Fallback = fn
	return c
}

// WithClock sets the time source.
func (c *Config) WithClock(clock func() time.Time) *Config {
	c.Clock = clock
	return c
}
