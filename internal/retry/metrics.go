package retry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttemptsTotal counts individual attempts, including first tries.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of attempts executed, including first tries",
		},
		[]string{"operation", "attempt"},
	)

	// RetrySuccessTotal counts operations that eventually succeeded.
	RetrySuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_success_total",
			Help: "Total number of operations that eventually succeeded",
		},
		[]string{"operation"},
	)

	// RetryFailureTotal counts operations that exhausted their retry budget.
	RetryFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_failure_total",
			Help: "Total number of operations that failed after all attempts",
		},
		[]string{"operation", "reason"},
	)

	// RetryAbortsTotal counts operations stopped by an abort condition.
	RetryAbortsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_aborts_total",
			Help: "Total number of operations aborted without retrying",
		},
		[]string{"operation"},
	)

	// RetryDuration measures end-to-end duration including backoff waits.
	RetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retry_duration_seconds",
			Help:    "Total duration of retried operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	// RetryBackoffDuration measures backoff wait times.
	RetryBackoffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retry_backoff_duration_seconds",
			Help:    "Duration of backoff waits in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
)

// RecordAttempt records one attempt of an operation.
func RecordAttempt(operation string, attempt int) {
	RetryAttemptsTotal.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

// RecordSuccess records an operation that eventually succeeded.
func RecordSuccess(operation string, durationSeconds float64) {
	RetrySuccessTotal.WithLabelValues(operation).Inc()
	RetryDuration.WithLabelValues(operation, "success").Observe(durationSeconds)
}

// RecordFailure records an operation that failed after all attempts.
func RecordFailure(operation, reason string, durationSeconds float64) {
	RetryFailureTotal.WithLabelValues(operation, reason).Inc()
	RetryDuration.WithLabelValues(operation, "failure").Observe(durationSeconds)
}

// RecordAbort records an operation stopped by the abort condition.
func RecordAbort(operation string) {
	RetryAbortsTotal.WithLabelValues(operation).Inc()
}

// RecordBackoff records a backoff wait duration.
func RecordBackoff(operation string, durationSeconds float64) {
	RetryBackoffDuration.WithLabelValues(operation).Observe(durationSeconds)
}
