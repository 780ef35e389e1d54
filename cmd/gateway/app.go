package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayefimenko/sharklearning-sub002/internal/config"
	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
	"github.com/ayefimenko/sharklearning-sub002/internal/registry"
	"github.com/ayefimenko/sharklearning-sub002/internal/retry"
	"github.com/ayefimenko/sharklearning-sub002/internal/secrets"
)

// application holds all application components.
type application struct {
	config    *config.Config
	logger    observability.Logger
	secrets   *secrets.Store
	registry  *registry.Registry
	poller    *registry.HealthPoller
	executors map[string]*retry.Executor

	httpServer    *http.Server
	metricsServer *http.Server
}

// newApplication wires all components from the configuration.
func newApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	store, err := secrets.New(cfg.Secrets.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets store: %w", err)
	}

	reg := registry.New(cfg.CircuitBreaker.Breaker(), logger)
	for _, svc := range cfg.Services {
		var opts []registry.ServiceOption
		if svc.HealthPath != "" {
			opts = append(opts, registry.WithHealthPath(svc.HealthPath))
		}
		if len(svc.Weights) > 0 {
			opts = append(opts, registry.WithInstanceWeights(svc.Weights))
		}
		if err := reg.Register(svc.Name, svc.URLs, opts...); err != nil {
			return nil, fmt.Errorf("failed to register service %s: %w", svc.Name, err)
		}
	}

	poller := registry.NewHealthPoller(reg,
		registry.WithPollInterval(cfg.HealthCheck.Interval.Duration()),
		registry.WithPollTimeout(cfg.HealthCheck.Timeout.Duration()),
		registry.WithHealthyThreshold(cfg.HealthCheck.HealthyThreshold),
		registry.WithUnhealthyThreshold(cfg.HealthCheck.UnhealthyThreshold),
		registry.WithPollerLogger(logger),
	)

	executors := make(map[string]*retry.Executor, len(cfg.Retry))
	for category, rc := range cfg.Retry {
		executors[category] = retry.NewExecutor(category, rc.Policy(), logger)
	}

	app := &application{
		config:    cfg,
		logger:    logger,
		secrets:   store,
		registry:  reg,
		poller:    poller,
		executors: executors,
	}

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           app.routes(),
		ReadTimeout:       cfg.Server.ReadTimeout.Duration(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:       cfg.Server.IdleTimeout.Duration(),
	}
	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           app.metricsRoutes(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return app, nil
}

// routes builds the main request handler.
func (a *application) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.Handle("/services/", newProxyHandler(a.registry, a.executors, a.logger))

	var h http.Handler = mux
	h = loggingMiddleware(a.logger)(h)
	h = requestIDMiddleware()(h)
	return h
}

// metricsRoutes builds the metrics server handler.
func (a *application) metricsRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.config.Server.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/healthz", a.handleHealthz)
	return mux
}

// handleHealthz reports process liveness and registered services.
func (a *application) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"version":  version,
		"services": a.registry.Services(),
	})
}

// Start starts the secrets store, health poller, and HTTP servers.
func (a *application) Start(ctx context.Context) error {
	if err := a.secrets.Start(ctx); err != nil {
		return fmt.Errorf("failed to start secrets store: %w", err)
	}

	a.poller.Start(ctx)

	go a.serve(a.httpServer, "http")
	go a.serve(a.metricsServer, "metrics")

	a.logger.Info("gateway started",
		observability.String("address", a.httpServer.Addr),
		observability.String("metrics_address", a.metricsServer.Addr),
	)
	return nil
}

func (a *application) serve(server *http.Server, name string) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("server error",
			observability.String("server", name),
			observability.Error(err),
		)
	}
}

// Stop shuts down the servers and background components.
func (a *application) Stop(ctx context.Context) error {
	var firstErr error

	if err := a.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := a.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	a.poller.Stop()

	if err := a.secrets.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
