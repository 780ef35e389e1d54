package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

// Sentinel errors returned by the executor.
var (
	// ErrAborted wraps a failure the abort condition matched. The operation
	// fails immediately regardless of remaining retry budget.
	ErrAborted = errors.New("retry aborted")

	// ErrAttemptTimeout is returned when a single attempt exceeds its timeout.
	ErrAttemptTimeout = errors.New("attempt timed out")

	// ErrRetriesExhausted wraps the last failure once the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrRetryableResult marks a nil-error result the retry condition
	// classified as a failure, such as an HTTP 5xx response.
	ErrRetryableResult = errors.New("retryable result")
)

// Operation is the unit of work the executor retries.
type Operation func(ctx context.Context) (any, error)

// Metrics holds cumulative per-executor counters. Safe for concurrent use.
type Metrics struct {
	attempts  atomic.Int64
	retries   atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	aborts    atomic.Int64

	mu      sync.Mutex
	reasons map[string]int64
}

// MetricsSnapshot is a point-in-time copy of executor metrics.
type MetricsSnapshot struct {
	Attempts         int64
	Retries          int64
	Successes        int64
	Failures         int64
	Aborts           int64
	AvgAttemptsPerOp float64
	FailureReasons   map[string]int64
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Attempts:  m.attempts.Load(),
		Retries:   m.retries.Load(),
		Successes: m.successes.Load(),
		Failures:  m.failures.Load(),
		Aborts:    m.aborts.Load(),
	}

	if ops := s.Successes + s.Failures + s.Aborts; ops > 0 {
		s.AvgAttemptsPerOp = float64(s.Attempts) / float64(ops)
	}

	m.mu.Lock()
	s.FailureReasons = make(map[string]int64, len(m.reasons))
	for reason, n := range m.reasons {
		s.FailureReasons[reason] = n
	}
	m.mu.Unlock()

	return s
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	m.attempts.Store(0)
	m.retries.Store(0)
	m.successes.Store(0)
	m.failures.Store(0)
	m.aborts.Store(0)

	m.mu.Lock()
	m.reasons = make(map[string]int64)
	m.mu.Unlock()
}

func (m *Metrics) recordReason(reason string) {
	m.mu.Lock()
	if m.reasons == nil {
		m.reasons = make(map[string]int64)
	}
	m.reasons[reason]++
	m.mu.Unlock()
}

// Executor runs operations under a retry policy. One executor serves a named
// operation category and accumulates metrics across invocations.
type Executor struct {
	name    string
	policy  *Policy
	logger  observability.Logger
	metrics Metrics
}

// NewExecutor creates an executor for the named operation category.
// A nil policy uses DefaultPolicy.
func NewExecutor(name string, policy *Policy, logger observability.Logger) *Executor {
	if policy == nil {
		policy = DefaultPolicy()
	}
	_ = policy.Validate()
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Executor{
		name:   name,
		policy: policy,
		logger: logger,
	}
}

// Name returns the executor's operation category name.
func (e *Executor) Name() string {
	return e.name
}

// Policy returns the executor's policy.
func (e *Executor) Policy() *Policy {
	return e.policy
}

// Metrics returns a snapshot of the executor's counters.
func (e *Executor) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// ResetMetrics zeroes the executor's counters.
func (e *Executor) ResetMetrics() {
	e.metrics.Reset()
}

// Execute runs op, retrying failures the policy's retry condition matches.
// The first attempt always runs; up to MaxRetries retries follow, separated
// by backoff delays. Context cancellation stops the loop between attempts
// and during backoff waits.
func (e *Executor) Execute(ctx context.Context, op Operation) (any, error) {
	executionID := uuid.NewString()
	start := time.Now()
	maxAttempts := e.policy.MaxRetries + 1

	retryCond := e.policy.RetryCondition
	if retryCond == nil {
		retryCond = DefaultCondition().ShouldRetry
	}

	var (
		lastErr    error
		lastResult any
		prevDelay  time.Duration
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		e.metrics.attempts.Add(1)
		RecordAttempt(e.name, attempt)

		result, err := e.runAttempt(ctx, op, attempt)
		lastResult, lastErr = result, err

		if err != nil && e.policy.AbortCondition != nil && e.policy.AbortCondition(err, attempt, result) {
			e.metrics.aborts.Add(1)
			e.metrics.recordReason("aborted")
			RecordAbort(e.name)

			e.logger.Warn("operation aborted",
				observability.String("operation", e.name),
				observability.String("execution_id", executionID),
				observability.Int("attempt", attempt),
				observability.Error(err),
			)
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}

		retryable := retryCond(err, attempt, result)

		if err == nil && !retryable {
			e.metrics.successes.Add(1)
			RecordSuccess(e.name, time.Since(start).Seconds())

			if attempt > 1 {
				e.logger.Info("operation succeeded after retries",
					observability.String("operation", e.name),
					observability.String("execution_id", executionID),
					observability.Int("attempt", attempt),
				)
			}
			return result, nil
		}

		if err == nil {
			// A nil-error result the condition wants retried, typically 5xx.
			lastErr = fmt.Errorf("%w: status %d", ErrRetryableResult, statusOf(result))
		}

		if !retryable {
			e.metrics.failures.Add(1)
			reason := classifyReason(err, result)
			e.metrics.recordReason(reason)
			RecordFailure(e.name, reason, time.Since(start).Seconds())

			e.logger.Warn("operation failed with non-retryable error",
				observability.String("operation", e.name),
				observability.String("execution_id", executionID),
				observability.Int("attempt", attempt),
				observability.Error(lastErr),
			)
			return result, lastErr
		}

		if attempt == maxAttempts {
			break
		}

		delay := e.policy.delay(attempt, prevDelay)
		prevDelay = delay
		e.metrics.retries.Add(1)
		RecordBackoff(e.name, delay.Seconds())

		e.logger.Debug("retrying operation",
			observability.String("operation", e.name),
			observability.String("execution_id", executionID),
			observability.Int("attempt", attempt),
			observability.Duration("backoff", delay),
			observability.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	e.metrics.failures.Add(1)
	reason := classifyReason(lastErr, lastResult)
	e.metrics.recordReason(reason)
	RecordFailure(e.name, reason, time.Since(start).Seconds())

	e.logger.Error("operation failed after all attempts",
		observability.String("operation", e.name),
		observability.String("execution_id", executionID),
		observability.Int("attempts", maxAttempts),
		observability.Error(lastErr),
	)
	return lastResult, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

// runAttempt runs op under the attempt's timeout. On timeout the attempt
// fails with ErrAttemptTimeout; the operation itself keeps running and its
// eventual result is discarded.
func (e *Executor) runAttempt(ctx context.Context, op Operation, attempt int) (any, error) {
	timeout := e.policy.attemptTimeout(attempt)
	if timeout <= 0 {
		return op(ctx)
	}

	type outcome struct {
		result any
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		result, err := op(ctx)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classifyReason buckets a terminal failure for the reason histogram.
func classifyReason(err error, result any) string {
	if err == nil {
		if code := statusOf(result); code >= 500 {
			return "status_5xx"
		}
		return "other"
	}

	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "network"
	}

	if errors.Is(err, ErrRetryableResult) {
		return "status_5xx"
	}

	return "other"
}
