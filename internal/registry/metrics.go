package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ServiceInstances shows the number of registered instances per service.
	ServiceInstances = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_service_instances",
			Help: "Number of registered instances per service",
		},
		[]string{"service"},
	)

	// InstanceHealthy shows the health flag per instance.
	InstanceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_instance_healthy",
			Help: "Instance health flag (1=healthy, 0=unhealthy)",
		},
		[]string{"service", "instance"},
	)

	// SelectionsTotal counts instance selections by outcome.
	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_selections_total",
			Help: "Total number of instance selections by outcome",
		},
		[]string{"service", "outcome"},
	)

	// HealthPollDuration measures health check round trips.
	HealthPollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_health_poll_duration_seconds",
			Help:    "Duration of individual health check requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"service", "result"},
	)
)

// RecordInstances updates the instance count gauge for a service.
func RecordInstances(service string, count int) {
	ServiceInstances.WithLabelValues(service).Set(float64(count))
}

// RecordSelection records the outcome of an instance selection.
func RecordSelection(service, outcome string) {
	SelectionsTotal.WithLabelValues(service, outcome).Inc()
}

// RecordHealthStatus updates the per-instance health gauge.
func RecordHealthStatus(service, instance string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	InstanceHealthy.WithLabelValues(service, instance).Set(v)
}

// ObservePollDuration records a health check duration.
func ObservePollDuration(service string, success bool, d time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	HealthPollDuration.WithLabelValues(service, result).Observe(d.Seconds())
}
