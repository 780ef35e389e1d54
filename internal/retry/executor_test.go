package retry

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

func fastPolicy() *Policy {
	p := DefaultPolicy().
		WithBaseDelay(time.Millisecond).
		WithMaxDelay(5 * time.Millisecond).
		WithJitter(JitterNone)
	return p
}

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	ex := NewExecutor("first-try", fastPolicy(), observability.NopLogger())

	calls := 0
	result, err := ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)

	m := ex.Metrics()
	assert.Equal(t, int64(1), m.Attempts)
	assert.Equal(t, int64(0), m.Retries)
	assert.Equal(t, int64(1), m.Successes)
}

func TestExecutor_SucceedsAfterFailures(t *testing.T) {
	policy := fastPolicy().WithMaxRetries(5).WithCondition(AlwaysRetry())
	ex := NewExecutor("flaky", policy, observability.NopLogger())

	calls := 0
	result, err := ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls <= 3 {
			return nil, syscall.ECONNRESET
		}
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 4, calls)

	m := ex.Metrics()
	assert.Equal(t, int64(4), m.Attempts)
	assert.Equal(t, int64(3), m.Retries)
	assert.Equal(t, int64(1), m.Successes)
	assert.Equal(t, int64(0), m.Failures)
}

func TestExecutor_ExhaustsRetryBudget(t *testing.T) {
	policy := fastPolicy().WithMaxRetries(2).WithCondition(AlwaysRetry())
	ex := NewExecutor("down", policy, observability.NopLogger())

	calls := 0
	_, err := ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("unavailable")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, calls)

	m := ex.Metrics()
	assert.Equal(t, int64(3), m.Attempts)
	assert.Equal(t, int64(2), m.Retries)
	assert.Equal(t, int64(1), m.Failures)
}

func TestExecutor_AbortConditionNeverRetries(t *testing.T) {
	authErr := errors.New("authentication failed")
	policy := fastPolicy().
		WithMaxRetries(5).
		WithCondition(AlwaysRetry()).
		WithAbortCondition(func(err error, attempt int, result any) bool {
			return errors.Is(err, authErr)
		})
	ex := NewExecutor("auth", policy, observability.NopLogger())

	calls := 0
	_, err := ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, authErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, calls)

	m := ex.Metrics()
	assert.Equal(t, int64(1), m.Aborts)
	assert.Equal(t, int64(0), m.Retries)
}

func TestExecutor_NonRetryableErrorFailsFast(t *testing.T) {
	policy := fastPolicy().WithMaxRetries(5).WithCondition(NeverRetry())
	ex := NewExecutor("strict", policy, observability.NopLogger())

	calls := 0
	_, err := ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("bad input")
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
}

func TestExecutor_Retryable5xxResult(t *testing.T) {
	policy := fastPolicy().WithMaxRetries(2).WithCondition(RetryOn5xx())
	ex := NewExecutor("upstream", policy, observability.NopLogger())

	calls := 0
	result, err := ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return &http.Response{StatusCode: 503}, nil
		}
		return &http.Response{StatusCode: 200}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, result.(*http.Response).StatusCode)
	assert.Equal(t, 2, calls)
}

func TestExecutor_4xxResultNotRetried(t *testing.T) {
	ex := NewExecutor("client-error", fastPolicy().WithMaxRetries(5), observability.NopLogger())

	calls := 0
	result, err := ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return &http.Response{StatusCode: 404}, nil
	})

	// The default condition treats 4xx as success from the retry loop's
	// point of view: the caller sees the response, not an error.
	require.NoError(t, err)
	assert.Equal(t, 404, result.(*http.Response).StatusCode)
	assert.Equal(t, 1, calls)
}

func TestExecutor_AttemptTimeout(t *testing.T) {
	policy := fastPolicy().
		WithMaxRetries(1).
		WithTimeout(20 * time.Millisecond).
		WithCondition(RetryOnTimeout())
	ex := NewExecutor("slow", policy, observability.NopLogger())

	calls := 0
	_, err := ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	assert.Equal(t, 2, calls)
}

func TestExecutor_ContextCancellationStopsBackoff(t *testing.T) {
	policy := DefaultPolicy().
		WithMaxRetries(10).
		WithBaseDelay(time.Hour).
		WithJitter(JitterNone).
		WithCondition(AlwaysRetry())
	ex := NewExecutor("cancelled", policy, observability.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := ex.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutor_MetricsReasonHistogram(t *testing.T) {
	policy := fastPolicy().WithMaxRetries(0).WithCondition(AlwaysRetry())
	ex := NewExecutor("reasons", policy, observability.NopLogger())

	_, _ = ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, syscall.ECONNREFUSED
	})

	m := ex.Metrics()
	assert.Equal(t, int64(1), m.Failures)
	assert.Equal(t, int64(1), m.FailureReasons["network"])

	ex.ResetMetrics()
	m = ex.Metrics()
	assert.Equal(t, int64(0), m.Failures)
	assert.Empty(t, m.FailureReasons)
}

func TestExecutor_AvgAttemptsPerOp(t *testing.T) {
	policy := fastPolicy().WithMaxRetries(2).WithCondition(AlwaysRetry())
	ex := NewExecutor("avg", policy, observability.NopLogger())

	// One op that takes 3 attempts and fails, one that succeeds immediately.
	_, _ = ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	_, _ = ex.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	m := ex.Metrics()
	assert.Equal(t, int64(4), m.Attempts)
	assert.InDelta(t, 2.0, m.AvgAttemptsPerOp, 0.001)
}
