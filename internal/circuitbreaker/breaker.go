package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls pass through.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is probing the dependency with
	// trial traffic.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call. The
// breaker never retries on its own; callers decide whether to fall back.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrRequestTimeout is returned when a call exceeds the configured per-call
// timeout. It counts as a classified failure.
var ErrRequestTimeout = errors.New("request timeout")

// Operation is a call guarded by the circuit breaker.
type Operation func(ctx context.Context) (any, error)

// StatusCoder is implemented by HTTP-like results that expose a status code,
// used by the default failure classifier.
type StatusCoder interface {
	StatusCode() int
}

// CircuitBreaker is a per-dependency fault-isolation state machine. One
// instance guards one logical dependency and is shared by all concurrent
// callers targeting it.
type CircuitBreaker struct {
	name   string
	config *Config
	logger observability.Logger

	// Cumulative counters, updated atomically in completion order.
	requests     atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	timeouts     atomic.Int64
	latencyTotal atomic.Int64 // nanoseconds
	latencyCount atomic.Int64

	// State and window, serialized under mu. mu is never held across the
	// guarded operation's execution.
	mu                   sync.Mutex
	state                State
	failureCount         int
	halfOpenSuccessCount int
	nextAttemptAt        time.Time
	lastFailureAt        time.Time
	win                  *window
	resetTimer           *time.Timer

	subMu       sync.RWMutex
	subscribers []func(Event)
}

// New creates a circuit breaker for the named dependency.
func New(name string, config *Config, logger observability.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	if logger == nil {
		logger = observability.NopLogger()
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
		win:    newWindow(config.MonitoringWindow),
	}
}

// Execute runs op under circuit breaker protection. Rejected calls fail with
// ErrCircuitOpen unless a fallback is configured, in which case the fallback's
// result and error are returned instead. A call exceeding the configured
// timeout fails with ErrRequestTimeout; the underlying operation is not
// cancelled and may run to completion in the background.
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation) (any, error) {
	if !cb.admit() {
		RecordRequest(cb.name, false)
		cb.logger.Debug("call rejected, circuit open",
			observability.String("breaker", cb.name),
		)
		if cb.config.Fallback != nil {
			return cb.config.Fallback(ctx, ErrCircuitOpen)
		}
		return nil, ErrCircuitOpen
	}
	RecordRequest(cb.name, true)

	start := cb.config.Clock()
	result, err := cb.run(ctx, op)
	latency := cb.config.Clock().Sub(start)

	if cb.isFailure(result, err) {
		cb.recordFailure(latency, err)
		return result, err
	}

	cb.recordSuccess(latency)
	return result, err
}

// run races op against the per-call timeout. The losing operation keeps
// running; its result is discarded when it eventually completes.
func (cb *CircuitBreaker) run(ctx context.Context, op Operation) (any, error) {
	type outcome struct {
		result any
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		result, err := op(ctx)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(cb.config.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// admit decides whether a call may proceed, performing the OPEN to HALF_OPEN
// transition when the cooldown has elapsed.
func (cb *CircuitBreaker) admit() bool {
	var events []Event

	cb.mu.Lock()
	allowed := false
	switch cb.state {
	case StateClosed, StateHalfOpen:
		allowed = true
	case StateOpen:
		now := cb.config.Clock()
		if !now.Before(cb.nextAttemptAt) {
			events = append(events, cb.toHalfOpenLocked(now))
			allowed = true
		}
	}
	cb.mu.Unlock()

	for _, ev := range events {
		cb.emit(ev)
	}
	return allowed
}

// recordSuccess applies a classified success to counters, window and state.
func (cb *CircuitBreaker) recordSuccess(latency time.Duration) {
	cb.requests.Add(1)
	cb.successes.Add(1)
	cb.latencyTotal.Add(int64(latency))
	cb.latencyCount.Add(1)
	RecordSuccess(cb.name)
	ObserveLatency(cb.name, latency)

	now := cb.config.Clock()
	var events []Event

	cb.mu.Lock()
	cb.win.add(callRecord{at: now, success: true, latency: latency}, now)

	switch cb.state {
	case StateClosed:
		// Failures decay under sustained success.
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	case StateHalfOpen:
		cb.halfOpenSuccessCount++
		if cb.halfOpenSuccessCount >= cb.config.SuccessThreshold {
			events = append(events, cb.toClosedLocked(now))
		}
	}
	cb.mu.Unlock()

	events = append(events, Event{Breaker: cb.name, Type: EventSuccess, At: now})
	for _, ev := range events {
		cb.emit(ev)
	}
}

// recordFailure applies a classified failure to counters, window and state.
func (cb *CircuitBreaker) recordFailure(latency time.Duration, err error) {
	cb.requests.Add(1)
	cb.failures.Add(1)
	if errors.Is(err, ErrRequestTimeout) {
		cb.timeouts.Add(1)
		RecordTimeout(cb.name)
	}
	cb.latencyTotal.Add(int64(latency))
	cb.latencyCount.Add(1)
	RecordFailure(cb.name)
	ObserveLatency(cb.name, latency)

	now := cb.config.Clock()
	var events []Event

	cb.mu.Lock()
	cb.lastFailureAt = now
	cb.win.add(callRecord{at: now, success: false, latency: latency}, now)

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.shouldOpenLocked() {
			events = append(events, cb.toOpenLocked(now))
		}
	case StateHalfOpen:
		// A single failure during the trial reopens the circuit.
		events = append(events, cb.toOpenLocked(now))
	}
	cb.mu.Unlock()

	events = append(events, Event{Breaker: cb.name, Type: EventFailure, At: now, Err: err})
	for _, ev := range events {
		cb.emit(ev)
	}
}

// shouldOpenLocked evaluates both open triggers. Must be called with mu held.
func (cb *CircuitBreaker) shouldOpenLocked() bool {
	if cb.failureCount >= cb.config.FailureThreshold {
		return true
	}
	if cb.win.size() >= cb.config.VolumeThreshold &&
		cb.win.failureRate() >= cb.config.ErrorThresholdPercentage {
		return true
	}
	return false
}

// toOpenLocked transitions to OPEN and arms the half-open backstop timer.
// Must be called with mu held.
func (cb *CircuitBreaker) toOpenLocked(now time.Time) Event {
	from := cb.state
	cb.state = StateOpen
	cb.nextAttemptAt = now.Add(cb.config.ResetTimeout)
	cb.halfOpenSuccessCount = 0
	cb.stopResetTimerLocked()
	// Backstop: the transition normally happens on the next Execute, but a
	// timer also performs it so subscribers observe recovery on idle
	// dependencies.
	cb.resetTimer = time.AfterFunc(cb.config.ResetTimeout, cb.backstopHalfOpen)

	cb.logTransition(from, StateOpen)
	return Event{Breaker: cb.name, Type: EventOpen, From: from, To: StateOpen, At: now}
}

// toHalfOpenLocked transitions to HALF_OPEN. Must be called with mu held.
func (cb *CircuitBreaker) toHalfOpenLocked(now time.Time) Event {
	from := cb.state
	cb.state = StateHalfOpen
	cb.halfOpenSuccessCount = 0
	cb.stopResetTimerLocked()

	cb.logTransition(from, StateHalfOpen)
	return Event{Breaker: cb.name, Type: EventHalfOpen, From: from, To: StateHalfOpen, At: now}
}

// toClosedLocked transitions to CLOSED, resetting failure tracking. Must be
// called with mu held.
func (cb *CircuitBreaker) toClosedLocked(now time.Time) Event {
	from := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenSuccessCount = 0
	cb.win.reset()
	cb.stopResetTimerLocked()

	cb.logTransition(from, StateClosed)
	return Event{Breaker: cb.name, Type: EventClose, From: from, To: StateClosed, At: now}
}

func (cb *CircuitBreaker) stopResetTimerLocked() {
	if cb.resetTimer != nil {
		cb.resetTimer.Stop()
		cb.resetTimer = nil
	}
}

func (cb *CircuitBreaker) logTransition(from, to State) {
	RecordStateChange(cb.name, from, to)
	cb.logger.Info("circuit breaker state changed",
		observability.String("breaker", cb.name),
		observability.String("from", from.String()),
		observability.String("to", to.String()),
	)
}

// backstopHalfOpen performs the OPEN to HALF_OPEN transition from the reset
// timer when no call has triggered it.
func (cb *CircuitBreaker) backstopHalfOpen() {
	var events []Event

	cb.mu.Lock()
	if cb.state == StateOpen {
		now := cb.config.Clock()
		if !now.Before(cb.nextAttemptAt) {
			events = append(events, cb.toHalfOpenLocked(now))
		}
	}
	cb.mu.Unlock()

	for _, ev := range events {
		cb.emit(ev)
	}
}

// isFailure classifies an outcome using the configured or default classifier.
func (cb *CircuitBreaker) isFailure(result any, err error) bool {
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(result, err)
	}
	return DefaultIsFailure(result, err)
}

// DefaultIsFailure is the default outcome classifier: any error, or an
// HTTP-like result with status >= 500, is a failure. 4xx responses are the
// caller's problem, not the dependency's.
func DefaultIsFailure(result any, err error) bool {
	if err != nil {
		return true
	}
	switch r := result.(type) {
	case *http.Response:
		return r != nil && r.StatusCode >= http.StatusInternalServerError
	case StatusCoder:
		return r.StatusCode() >= http.StatusInternalServerError
	}
	return false
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the name of the guarded dependency.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset forces the breaker back to CLOSED with all failure tracking cleared.
func (cb *CircuitBreaker) Reset() {
	now := cb.config.Clock()

	cb.mu.Lock()
	ev := cb.toClosedLocked(now)
	cb.mu.Unlock()

	cb.emit(ev)
	cb.logger.Info("circuit breaker reset",
		observability.String("breaker", cb.name),
	)
}

// Stats is a point-in-time snapshot of breaker state and counters.
type Stats struct {
	State                State
	FailureCount         int
	HalfOpenSuccessCount int
	NextAttemptAt        time.Time
	LastFailureAt        time.Time
	WindowSize           int
	WindowFailureRate    float64

	Requests       int64
	Successes      int64
	Failures       int64
	Timeouts       int64
	AverageLatency time.Duration
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	s := Stats{
		State:                cb.state,
		FailureCount:         cb.failureCount,
		HalfOpenSuccessCount: cb.halfOpenSuccessCount,
		NextAttemptAt:        cb.nextAttemptAt,
		LastFailureAt:        cb.lastFailureAt,
		WindowSize:           cb.win.size(),
		WindowFailureRate:    cb.win.failureRate(),
	}
	cb.mu.Unlock()

	s.Requests = cb.requests.Load()
	s.Successes = cb.successes.Load()
	s.Failures = cb.failures.Load()
	s.Timeouts = cb.timeouts.Load()
	if count := cb.latencyCount.Load(); count > 0 {
		s.AverageLatency = time.Duration(cb.latencyTotal.Load() / count)
	}
	return s
}
