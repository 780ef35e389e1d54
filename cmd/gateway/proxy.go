package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayefimenko/sharklearning-sub002/internal/circuitbreaker"
	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
	"github.com/ayefimenko/sharklearning-sub002/internal/registry"
	"github.com/ayefimenko/sharklearning-sub002/internal/retry"
)

// defaultRetryCategory is the retry policy used when a request does not name
// one. Requests may select another configured category via this header.
const (
	defaultRetryCategory = "network"
	retryCategoryHeader  = "X-Retry-Category"
)

// maxProxyBodySize bounds buffered request and response bodies. Bodies are
// buffered so an attempt can be replayed on retry.
const maxProxyBodySize = 10 << 20

// proxyResponse carries a buffered downstream response through the retry and
// circuit breaker layers.
type proxyResponse struct {
	status int
	header http.Header
	body   []byte
}

// StatusCode reports the downstream HTTP status for outcome classification.
func (r *proxyResponse) StatusCode() int { return r.status }

// proxyHandler forwards /services/<name>/<path> requests to a healthy
// instance of the named service, guarded by the service's circuit breaker
// and wrapped in a retry executor.
type proxyHandler struct {
	registry  *registry.Registry
	executors map[string]*retry.Executor
	noRetry   *retry.Executor
	client    *http.Client
	logger    observability.Logger
}

func newProxyHandler(
	reg *registry.Registry,
	executors map[string]*retry.Executor,
	logger observability.Logger,
) *proxyHandler {
	return &proxyHandler{
		registry:  reg,
		executors: executors,
		noRetry:   retry.NewExecutor("passthrough", retry.NoRetryPolicy(), logger),
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

func (h *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serviceName, rest, ok := splitServicePath(r.URL.Path)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown path")
		return
	}

	breaker := h.registry.Breaker(serviceName)
	if breaker == nil {
		h.writeError(w, http.StatusNotFound, "unknown service: "+serviceName)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	op := func(ctx context.Context) (any, error) {
		inst, err := h.registry.Next(serviceName)
		if err != nil {
			return nil, err
		}
		return h.forward(ctx, r, inst.URL+rest, body)
	}

	executor := h.executor(r)
	result, err := executor.Execute(r.Context(), func(ctx context.Context) (any, error) {
		return breaker.Execute(ctx, op)
	})
	if err != nil {
		h.writeUpstreamError(w, r, serviceName, err)
		return
	}

	resp, ok := result.(*proxyResponse)
	if !ok {
		h.writeError(w, http.StatusBadGateway, "invalid upstream result")
		return
	}

	for key, values := range resp.header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

// executor selects the retry executor for the request.
func (h *proxyHandler) executor(r *http.Request) *retry.Executor {
	category := r.Header.Get(retryCategoryHeader)
	if category == "" {
		category = defaultRetryCategory
	}
	if exec, ok := h.executors[category]; ok {
		return exec
	}
	return h.noRetry
}

// forward performs one outbound attempt and buffers the response.
func (h *proxyHandler) forward(
	ctx context.Context,
	r *http.Request,
	target string,
	body []byte,
) (*proxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBodySize))
	if err != nil {
		return nil, err
	}

	return &proxyResponse{
		status: resp.StatusCode,
		header: resp.Header.Clone(),
		body:   respBody,
	}, nil
}

// writeUpstreamError maps resilience layer errors to HTTP status codes.
func (h *proxyHandler) writeUpstreamError(
	w http.ResponseWriter,
	r *http.Request,
	serviceName string,
	err error,
) {
	h.logger.WithContext(r.Context()).Warn("proxy request failed",
		observability.String("service", serviceName),
		observability.Error(err),
	)

	switch {
	case errors.Is(err, registry.ErrServiceNotFound):
		h.writeError(w, http.StatusNotFound, "unknown service: "+serviceName)
	case errors.Is(err, registry.ErrNoHealthyInstances):
		h.writeError(w, http.StatusServiceUnavailable, "no healthy instances")
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		h.writeError(w, http.StatusServiceUnavailable, "circuit open")
	case errors.Is(err, circuitbreaker.ErrRequestTimeout),
		errors.Is(err, retry.ErrAttemptTimeout),
		errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "upstream timeout")
	default:
		h.writeError(w, http.StatusBadGateway, "upstream request failed")
	}
}

func (h *proxyHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// splitServicePath splits "/services/<name>/<rest>" into the service name
// and the downstream path including its leading slash.
func splitServicePath(path string) (name, rest string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/services/")
	if trimmed == path || trimmed == "" {
		return "", "", false
	}

	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx], trimmed[idx:], trimmed[:idx] != ""
	}
	return trimmed, "/", true
}
