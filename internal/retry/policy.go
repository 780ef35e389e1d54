// Package retry provides a bounded-attempt operation runner with configurable
// backoff strategies and jitter.
package retry

import (
	"time"
)

// Strategy maps an attempt number to a base delay.
type Strategy string

const (
	// StrategyFixed waits BaseDelay between every attempt.
	StrategyFixed Strategy = "fixed"

	// StrategyExponential grows the delay by ExponentialBase per attempt.
	StrategyExponential Strategy = "exponential"

	// StrategyLinear grows the delay by LinearIncrement per attempt.
	StrategyLinear Strategy = "linear"

	// StrategyFibonacci scales BaseDelay by the Fibonacci sequence.
	StrategyFibonacci Strategy = "fibonacci"
)

// Jitter is the randomization applied to a computed delay to avoid
// synchronized retry storms.
type Jitter string

const (
	// JitterNone leaves the delay unchanged.
	JitterNone Jitter = "none"

	// JitterFull replaces the delay with uniform(0, delay).
	JitterFull Jitter = "full"

	// JitterEqual keeps half the delay and randomizes the other half.
	JitterEqual Jitter = "equal"

	// JitterDecorrelated draws from uniform(BaseDelay, 3 x previous delay),
	// threading the previous attempt's post-jitter delay into the next draw.
	JitterDecorrelated Jitter = "decorrelated"
)

// RetryConditionFunc decides whether a failed attempt should be retried.
type RetryConditionFunc func(err error, attempt int, result any) bool

// Policy is the immutable retry configuration shared across many invocations.
// Construct one per operation category (for example "database" or "network")
// and reuse it; per-execution bookkeeping lives in the Executor.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the first backoff delay and the floor for decorrelated
	// jitter.
	BaseDelay time.Duration

	// MaxDelay clamps the pre-jitter delay.
	MaxDelay time.Duration

	// Strategy selects the backoff curve.
	Strategy Strategy

	// Jitter selects the randomization applied after clamping.
	Jitter Jitter

	// ExponentialBase is the growth factor for StrategyExponential.
	ExponentialBase float64

	// LinearIncrement is the per-attempt increment for StrategyLinear.
	LinearIncrement time.Duration

	// Timeout is the first attempt's timeout. Zero disables attempt timeouts.
	Timeout time.Duration

	// TimeoutMultiplier scales the timeout per attempt, capped at 5x Timeout.
	TimeoutMultiplier float64

	// RetryCondition decides whether a failure is retried. If nil, the
	// default applies: never HTTP 4xx; retry network errors, timeouts and
	// HTTP 5xx.
	RetryCondition RetryConditionFunc

	// AbortCondition, if set, short-circuits retrying: a matching failure
	// fails immediately with ErrAborted regardless of MaxRetries.
	AbortCondition RetryConditionFunc
}

// DefaultPolicy returns a Policy with default values.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:        3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		Strategy:          StrategyExponential,
		Jitter:            JitterEqual,
		ExponentialBase:   2.0,
		TimeoutMultiplier: 1.0,
	}
}

// Validate normalizes invalid values back to defaults.
func (p *Policy) Validate() error {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	switch p.Strategy {
	case StrategyFixed, StrategyExponential, StrategyLinear, StrategyFibonacci:
	default:
		p.Strategy = StrategyExponential
	}
	switch p.Jitter {
	case JitterNone, JitterFull, JitterEqual, JitterDecorrelated:
	default:
		p.Jitter = JitterNone
	}
	if p.ExponentialBase <= 1 {
		p.ExponentialBase = 2.0
	}
	if p.LinearIncrement <= 0 {
		p.LinearIncrement = p.BaseDelay
	}
	if p.TimeoutMultiplier < 1 {
		p.TimeoutMultiplier = 1.0
	}
	return nil
}

// WithMaxRetries sets the maximum retries.
func (p *Policy) WithMaxRetries(n int) *Policy {
	p.MaxRetries = n
	return p
}

// WithBaseDelay sets the base delay.
func (p *Policy) WithBaseDelay(d time.Duration) *Policy {
	p.BaseDelay = d
	return p
}

// WithMaxDelay sets the delay clamp.
func (p *Policy) WithMaxDelay(d time.Duration) *Policy {
	p.MaxDelay = d
	return p
}

// WithStrategy sets the backoff strategy.
func (p *Policy) WithStrategy(s Strategy) *Policy {
	p.Strategy = s
	return p
}

// WithJitter sets the jitter mode.
func (p *Policy) WithJitter(j Jitter) *Policy {
	p.Jitter = j
	return p
}

// WithTimeout sets the first attempt's timeout.
func (p *Policy) WithTimeout(d time.Duration) *Policy {
	p.Timeout = d
	return p
}

// WithTimeoutMultiplier sets the per-attempt timeout growth factor.
func (p *Policy) WithTimeoutMultiplier(m float64) *Policy {
	p.TimeoutMultiplier = m
	return p
}

// WithRetryCondition sets the retry condition.
func (p *Policy) WithRetryCondition(fn RetryConditionFunc) *Policy {
	p.RetryCondition = fn
	return p
}

// WithAbortCondition sets the abort condition.
func (p *Policy) WithAbortCondition(fn RetryConditionFunc) *Policy {
	p.AbortCondition = fn
	return p
}

// NoRetryPolicy returns a policy that never retries.
func NoRetryPolicy() *Policy {
	p := DefaultPolicy()
	p.MaxRetries = 0
	return p
}
