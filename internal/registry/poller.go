package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

// Health poller default configuration constants.
const (
	// DefaultPollInterval is the default interval between health check rounds.
	DefaultPollInterval = 30 * time.Second

	// DefaultPollTimeout is the default timeout for a single health check
	// request.
	DefaultPollTimeout = 5 * time.Second

	// DefaultHealthyThreshold is the default number of consecutive successes
	// required to mark an instance healthy.
	DefaultHealthyThreshold = 1

	// DefaultUnhealthyThreshold is the default number of consecutive failures
	// required to mark an instance unhealthy.
	DefaultUnhealthyThreshold = 1
)

// StatusChangeFunc is called when an instance's health flag flips.
type StatusChangeFunc func(serviceName, instanceURL string, healthy bool)

// HealthPoller periodically checks every instance of every registered
// service. Poll failures mark the instance unhealthy and are logged, never
// propagated.
type HealthPoller struct {
	registry           *Registry
	interval           time.Duration
	client             *http.Client
	logger             observability.Logger
	healthyThreshold   int
	unhealthyThreshold int
	onStatusChange     StatusChangeFunc

	mu              sync.Mutex
	running         bool
	healthyCounts   map[*Instance]int
	unhealthyCounts map[*Instance]int

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// PollerOption is a functional option for configuring the health poller.
type PollerOption func(*HealthPoller)

// WithPollInterval sets the interval between health check rounds.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *HealthPoller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPollTimeout sets the timeout for a single health check request.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *HealthPoller) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithPollerClient sets the HTTP client used for health checks.
func WithPollerClient(client *http.Client) PollerOption {
	return func(p *HealthPoller) {
		p.client = client
	}
}

// WithPollerLogger sets the logger for the poller.
func WithPollerLogger(logger observability.Logger) PollerOption {
	return func(p *HealthPoller) {
		p.logger = logger
	}
}

// WithHealthyThreshold sets the consecutive successes required before an
// unhealthy instance is marked healthy again.
func WithHealthyThreshold(n int) PollerOption {
	return func(p *HealthPoller) {
		if n > 0 {
			p.healthyThreshold = n
		}
	}
}

// WithUnhealthyThreshold sets the consecutive failures required before a
// healthy instance is marked unhealthy.
func WithUnhealthyThreshold(n int) PollerOption {
	return func(p *HealthPoller) {
		if n > 0 {
			p.unhealthyThreshold = n
		}
	}
}

// WithStatusChangeCallback sets a callback invoked on health transitions.
func WithStatusChangeCallback(fn StatusChangeFunc) PollerOption {
	return func(p *HealthPoller) {
		p.onStatusChange = fn
	}
}

// NewHealthPoller creates a poller over the given registry.
func NewHealthPoller(registry *Registry, opts ...PollerOption) *HealthPoller {
	p := &HealthPoller{
		registry: registry,
		interval: DefaultPollInterval,
		client: &http.Client{
			Timeout: DefaultPollTimeout,
		},
		logger:             observability.NopLogger(),
		healthyThreshold:   DefaultHealthyThreshold,
		unhealthyThreshold: DefaultUnhealthyThreshold,
		healthyCounts:      make(map[*Instance]int),
		unhealthyCounts:    make(map[*Instance]int),
		stopCh:             make(chan struct{}),
		stoppedCh:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start starts the poll loop. Calling Start on a running poller is a no-op.
func (p *HealthPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop stops the poll loop and waits for the in-flight round to finish.
func (p *HealthPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.stoppedCh
}

// IsRunning returns true if the poll loop is active.
func (p *HealthPoller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *HealthPoller) run(ctx context.Context) {
	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First round runs immediately so instances are classified before the
	// first full interval elapses.
	p.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

// pollAll checks every instance of every registered service concurrently.
func (p *HealthPoller) pollAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, svc := range p.registry.snapshot() {
		for _, inst := range svc.instances {
			wg.Add(1)
			go func(svc *service, inst *Instance) {
				defer wg.Done()
				p.pollInstance(ctx, svc, inst)
			}(svc, inst)
		}
	}

	wg.Wait()
}

// pollInstance issues one health check. Any network or status error counts
// as a failure; the error never leaves this method.
func (p *HealthPoller) pollInstance(ctx context.Context, svc *service, inst *Instance) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	url := inst.URL + svc.healthPath

	start := time.Now()
	healthy, err := p.check(ctx, url)
	duration := time.Since(start)

	inst.stampHealthCheck(time.Now())
	ObservePollDuration(svc.name, healthy, duration)

	if healthy {
		p.recordSuccess(svc, inst)
		return
	}
	p.recordFailure(svc, inst, err)
}

func (p *HealthPoller) check(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices, nil
}

func (p *HealthPoller) recordSuccess(svc *service, inst *Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.healthyCounts[inst]++
	p.unhealthyCounts[inst] = 0

	if p.healthyCounts[inst] < p.healthyThreshold || inst.Healthy() {
		return
	}

	inst.SetHealthy(true)
	RecordHealthStatus(svc.name, inst.URL, true)

	p.logger.Info("instance became healthy",
		observability.String("service", svc.name),
		observability.String("instance", inst.URL),
	)

	if p.onStatusChange != nil {
		p.onStatusChange(svc.name, inst.URL, true)
	}
}

func (p *HealthPoller) recordFailure(svc *service, inst *Instance, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.unhealthyCounts[inst]++
	p.healthyCounts[inst] = 0

	if p.unhealthyCounts[inst] < p.unhealthyThreshold || !inst.Healthy() {
		return
	}

	inst.SetHealthy(false)
	RecordHealthStatus(svc.name, inst.URL, false)

	p.logger.Warn("instance became unhealthy",
		observability.String("service", svc.name),
		observability.String("instance", inst.URL),
		observability.Error(err),
	)

	if p.onStatusChange != nil {
		p.onStatusChange(svc.name, inst.URL, false)
	}
}
