package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayefimenko/sharklearning-sub002/internal/circuitbreaker"
	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
	"github.com/ayefimenko/sharklearning-sub002/internal/registry"
	"github.com/ayefimenko/sharklearning-sub002/internal/retry"
)

func newTestProxy(t *testing.T, backendURL string) *proxyHandler {
	t.Helper()

	reg := registry.New(circuitbreaker.DefaultConfig(), observability.NopLogger())
	require.NoError(t, reg.Register("users", []string{backendURL}))

	policy := retry.DefaultPolicy().
		WithMaxRetries(2).
		WithBaseDelay(time.Millisecond).
		WithMaxDelay(5 * time.Millisecond).
		WithJitter(retry.JitterNone)
	executors := map[string]*retry.Executor{
		"network": retry.NewExecutor("network", policy, observability.NopLogger()),
	}

	return newProxyHandler(reg, executors, observability.NopLogger())
}

func TestProxyHandler_ForwardsToBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users", r.URL.Path)
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer backend.Close()

	handler := newTestProxy(t, backend.URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/users/api/users", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Backend"))
}

func TestProxyHandler_UnknownService(t *testing.T) {
	handler := newTestProxy(t, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/orders/api", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyHandler_NoHealthyInstances(t *testing.T) {
	handler := newTestProxy(t, "http://127.0.0.1:1")

	instances, err := handler.registry.Instances("users")
	require.NoError(t, err)
	for _, inst := range instances {
		inst.SetHealthy(false)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/users/api", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProxyHandler_UpstreamFailureAfterRetries(t *testing.T) {
	calls := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	handler := newTestProxy(t, backend.URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/users/api", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 3, calls)
}

func TestProxyHandler_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backend.Close()

	handler := newTestProxy(t, backend.URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/users/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestProxyHandler_UnknownRetryCategoryFallsBack(t *testing.T) {
	calls := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	handler := newTestProxy(t, backend.URL)

	req := httptest.NewRequest(http.MethodGet, "/services/users/api", nil)
	req.Header.Set(retryCategoryHeader, "no-such-category")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 1, calls, "passthrough executor must not retry")
}

func TestSplitServicePath(t *testing.T) {
	tests := []struct {
		path string
		name string
		rest string
		ok   bool
	}{
		{"/services/users/api/v1", "users", "/api/v1", true},
		{"/services/users/", "users", "/", true},
		{"/services/users", "users", "/", true},
		{"/services/", "", "", false},
		{"/other/users", "", "", false},
		{"/services//api", "", "", false},
	}

	for _, tt := range tests {
		name, rest, ok := splitServicePath(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		if tt.ok {
			assert.Equal(t, tt.name, name, tt.path)
			assert.Equal(t, tt.rest, rest, tt.path)
		}
	}
}
