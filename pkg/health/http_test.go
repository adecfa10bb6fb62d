package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/stride/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerForServer(t *testing.T, server *httptest.Server, path string) *HTTPChecker {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewHTTPChecker(u.Hostname(), port, path, time.Second)
}

func TestHTTPCheckerHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := checkerForServer(t, server, "/health").Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Contains(t, result.Message, "200")
}

func TestHTTPCheckerUnhealthyStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result := checkerForServer(t, server, "/health").Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPCheckerConnectionRefused(t *testing.T) {
	checker := NewHTTPChecker("127.0.0.1", 1, "/health", 200*time.Millisecond)

	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestStatusUpdateThreshold(t *testing.T) {
	now := time.Now()
	status := NewStatus(now)
	require.True(t, status.Healthy)

	fail := Result{Healthy: false, CheckedAt: now}
	ok := Result{Healthy: true, CheckedAt: now}

	// Stays healthy until the retry threshold is reached.
	status.Update(fail, 3)
	status.Update(fail, 3)
	assert.True(t, status.Healthy)

	status.Update(fail, 3)
	assert.False(t, status.Healthy)

	// A single success recovers.
	status.Update(ok, 3)
	assert.True(t, status.Healthy)
	assert.Equal(t, 0, status.ConsecutiveFailures)
}

func TestForHealthCheckSelectsProtocol(t *testing.T) {
	httpCheck := ForHealthCheck(spec.HealthCheck{Type: spec.CheckTypeHTTP, Port: 80, Path: "/ping"}, "10.0.0.1")
	assert.Equal(t, spec.CheckTypeHTTP, httpCheck.Type())

	tcpCheck := ForHealthCheck(spec.HealthCheck{Type: spec.CheckTypeTCP, Port: 6379}, "10.0.0.1")
	assert.Equal(t, spec.CheckTypeTCP, tcpCheck.Type())
}
