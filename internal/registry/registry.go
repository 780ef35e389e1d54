// Package registry tracks service instances, their health, and selects
// targets for outbound calls using round-robin over healthy instances.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayefimenko/sharklearning-sub002/internal/circuitbreaker"
	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

// Sentinel errors returned by instance selection.
var (
	// ErrServiceNotFound is returned when the service name is unregistered.
	ErrServiceNotFound = errors.New("service not found")

	// ErrNoHealthyInstances is returned when every instance of a registered
	// service is unhealthy.
	ErrNoHealthyInstances = errors.New("no healthy instances")
)

// DefaultHealthPath is the health endpoint polled on every instance.
const DefaultHealthPath = "/health"

// Instance is a single addressable instance of a logical service.
// Health flags are atomics so routing reads never contend with the poller.
type Instance struct {
	URL    string
	Weight int

	healthy         atomic.Bool
	lastHealthCheck atomic.Int64
}

// NewInstance creates an instance that starts healthy.
func NewInstance(url string, weight int) *Instance {
	if weight <= 0 {
		weight = 1
	}
	inst := &Instance{
		URL:    url,
		Weight: weight,
	}
	inst.healthy.Store(true)
	return inst
}

// Healthy reports whether the instance passed its last health check.
func (i *Instance) Healthy() bool {
	return i.healthy.Load()
}

// SetHealthy updates the health flag.
func (i *Instance) SetHealthy(healthy bool) {
	i.healthy.Store(healthy)
}

// LastHealthCheckAt returns the time of the last health check, zero if the
// instance has never been polled.
func (i *Instance) LastHealthCheckAt() time.Time {
	ns := i.lastHealthCheck.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (i *Instance) stampHealthCheck(at time.Time) {
	i.lastHealthCheck.Store(at.UnixNano())
}

// service is a registered logical service: an ordered instance list, a
// round-robin cursor, and an owned circuit breaker.
type service struct {
	name       string
	instances  []*Instance
	healthPath string
	cursor     atomic.Uint64
	breaker    *circuitbreaker.CircuitBreaker
}

// next selects the next healthy instance in round-robin order.
func (s *service) next() (*Instance, error) {
	healthy := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if inst.Healthy() {
			healthy = append(healthy, inst)
		}
	}

	if len(healthy) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHealthyInstances, s.name)
	}

	idx := s.cursor.Add(1) - 1
	return healthy[idx%uint64(len(healthy))], nil
}

// ServiceOption configures a service at registration time.
type ServiceOption func(*service)

// WithHealthPath overrides the default health endpoint path.
func WithHealthPath(path string) ServiceOption {
	return func(s *service) {
		s.healthPath = path
	}
}

// WithInstanceWeights assigns weights positionally to the service's
// instances. Weights are informational and do not affect selection.
func WithInstanceWeights(weights []int) ServiceOption {
	return func(s *service) {
		for i, w := range weights {
			if i < len(s.instances) && w > 0 {
				s.instances[i].Weight = w
			}
		}
	}
}

// Registry manages registered services. Safe for concurrent use; routing
// reads take a read lock only and never block on health polling.
type Registry struct {
	mu            sync.RWMutex
	services      map[string]*service
	breakerConfig *circuitbreaker.Config
	logger        observability.Logger
}

// New creates a service registry. breakerConfig is the template for each
// service's owned circuit breaker; nil uses defaults.
func New(breakerConfig *circuitbreaker.Config, logger observability.Logger) *Registry {
	if breakerConfig == nil {
		breakerConfig = circuitbreaker.DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Registry{
		services:      make(map[string]*service),
		breakerConfig: breakerConfig,
		logger:        logger,
	}
}

// Register adds a service with the given instance URLs. Instances start
// healthy until the first poll says otherwise. Registering an existing
// name fails.
func (r *Registry) Register(name string, urls []string, opts ...ServiceOption) error {
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	if len(urls) == 0 {
		return fmt.Errorf("at least one instance URL is required for service %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return fmt.Errorf("service already registered: %s", name)
	}

	svc := &service{
		name:       name,
		instances:  make([]*Instance, 0, len(urls)),
		healthPath: DefaultHealthPath,
		breaker:    circuitbreaker.New(name, r.breakerConfig, r.logger),
	}
	for _, url := range urls {
		svc.instances = append(svc.instances, NewInstance(url, 1))
	}

	for _, opt := range opts {
		opt(svc)
	}

	r.services[name] = svc
	RecordInstances(name, len(svc.instances))

	r.logger.Info("registered service",
		observability.String("service", name),
		observability.Int("instances", len(svc.instances)),
	)
	return nil
}

// Deregister removes a service. Removing an unknown name fails.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; !exists {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	delete(r.services, name)
	RecordInstances(name, 0)

	r.logger.Info("deregistered service",
		observability.String("service", name),
	)
	return nil
}

// Next selects the next healthy instance of the named service in
// round-robin order.
func (r *Registry) Next(name string) (*Instance, error) {
	r.mu.RLock()
	svc, exists := r.services[name]
	r.mu.RUnlock()

	if !exists {
		RecordSelection(name, "service_not_found")
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	inst, err := svc.next()
	if err != nil {
		RecordSelection(name, "no_healthy_instances")
		return nil, err
	}

	RecordSelection(name, "ok")
	return inst, nil
}

// Breaker returns the circuit breaker owned by the named service, or nil
// if the service is unregistered.
func (r *Registry) Breaker(name string) *circuitbreaker.CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, exists := r.services[name]
	if !exists {
		return nil
	}
	return svc.breaker
}

// Instances returns a copy of the named service's instance list.
func (r *Registry) Instances(name string) ([]*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	instances := make([]*Instance, len(svc.instances))
	copy(instances, svc.instances)
	return instances, nil
}

// Services returns the names of all registered services.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// snapshot returns all services for the health poller to iterate without
// holding the registry lock during network I/O.
func (r *Registry) snapshot() []*service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]*service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	return services
}
