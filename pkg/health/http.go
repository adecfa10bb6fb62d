package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/stride/pkg/spec"
)

// HTTPChecker probes a task over HTTP. Status codes 200-399 count as
// healthy.
type HTTPChecker struct {
	// URL is the full probe URL, e.g. "http://10.0.1.7:8080/health"
	URL string

	// Client is the HTTP client to use
	Client *http.Client
}

// NewHTTPChecker creates an HTTP checker against host:port/path.
func NewHTTPChecker(host string, port int, path string, timeout time.Duration) *HTTPChecker {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if path == "" {
		path = "/"
	}
	return &HTTPChecker{
		URL:    fmt.Sprintf("http://%s:%d%s", host, port, path),
		Client: &http.Client{Timeout: timeout},
	}
}

// Check performs the HTTP probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode <= 399
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe protocol
func (h *HTTPChecker) Type() spec.CheckType {
	return spec.CheckTypeHTTP
}
