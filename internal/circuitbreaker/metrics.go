package circuitbreaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerState shows the current state of circuit breakers.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)

	// CircuitBreakerRequestsTotal counts calls through circuit breakers.
	CircuitBreakerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of calls through circuit breakers",
		},
		[]string{"breaker", "result"},
	)

	// CircuitBreakerFailuresTotal counts classified failures.
	CircuitBreakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of classified failures recorded by circuit breakers",
		},
		[]string{"breaker"},
	)

	// CircuitBreakerSuccessesTotal counts classified successes.
	CircuitBreakerSuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_successes_total",
			Help: "Total number of classified successes recorded by circuit breakers",
		},
		[]string{"breaker"},
	)

	// CircuitBreakerTimeoutsTotal counts per-call timeouts.
	CircuitBreakerTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_timeouts_total",
			Help: "Total number of calls that exceeded the per-call timeout",
		},
		[]string{"breaker"},
	)

	// CircuitBreakerStateChangesTotal counts state transitions.
	CircuitBreakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"breaker", "from", "to"},
	)

	// CircuitBreakerCallDuration measures guarded call latency.
	CircuitBreakerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "circuit_breaker_call_duration_seconds",
			Help:    "Latency of calls executed through circuit breakers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"breaker"},
	)
)

// RecordRequest records an admitted or rejected call.
func RecordRequest(name string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	CircuitBreakerRequestsTotal.WithLabelValues(name, result).Inc()
}

// RecordSuccess records a classified success.
func RecordSuccess(name string) {
	CircuitBreakerSuccessesTotal.WithLabelValues(name).Inc()
}

// RecordFailure records a classified failure.
func RecordFailure(name string) {
	CircuitBreakerFailuresTotal.WithLabelValues(name).Inc()
}

// RecordTimeout records a per-call timeout.
func RecordTimeout(name string) {
	CircuitBreakerTimeoutsTotal.WithLabelValues(name).Inc()
}

// RecordStateChange records a state transition and updates the state gauge.
func RecordStateChange(name string, from, to State) {
	CircuitBreakerStateChangesTotal.WithLabelValues(name, from.String(), to.String()).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}

// ObserveLatency records the latency of a guarded call.
func ObserveLatency(name string, d time.Duration) {
	CircuitBreakerCallDuration.WithLabelValues(name).Observe(d.Seconds())
}
