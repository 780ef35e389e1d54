package secrets

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SecretOperationsTotal counts store operations by result.
	SecretOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_operations_total",
			Help: "Total number of secrets store operations",
		},
		[]string{"operation", "result"},
	)

	// SecretOperationDuration measures operation latency.
	SecretOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secrets_operation_duration_seconds",
			Help:    "Duration of secrets store operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	// SecretCacheHitsTotal counts cache hits.
	SecretCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secrets_cache_hits_total",
			Help: "Total number of secrets cache hits",
		},
	)

	// SecretCacheMissesTotal counts cache misses.
	SecretCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secrets_cache_misses_total",
			Help: "Total number of secrets cache misses",
		},
	)

	// SecretCacheSize shows the current cache entry count.
	SecretCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "secrets_cache_size",
			Help: "Current number of cached secret values",
		},
	)

	// SecretRotationsTotal counts completed rotations.
	SecretRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secrets_rotations_total",
			Help: "Total number of completed secret rotations",
		},
	)
)

// RecordOperation records one store operation and its latency.
func RecordOperation(operation string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	SecretOperationsTotal.WithLabelValues(operation, result).Inc()
	SecretOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordCacheHit records a cache hit.
func RecordCacheHit() {
	SecretCacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss.
func RecordCacheMiss() {
	SecretCacheMissesTotal.Inc()
}

// UpdateCacheSize updates the cache size gauge.
func UpdateCacheSize(size int) {
	SecretCacheSize.Set(float64(size))
}

// RecordRotation records a completed rotation.
func RecordRotation() {
	SecretRotationsTotal.Inc()
}
