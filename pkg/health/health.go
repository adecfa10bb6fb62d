package health

import (
	"context"
	"time"

	"github.com/cuemby/stride/pkg/spec"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface all probes implement
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Type returns the probe protocol
	Type() spec.CheckType
}

// ForHealthCheck builds a checker probing host according to hc.
func ForHealthCheck(hc spec.HealthCheck, host string) Checker {
	switch hc.Type {
	case spec.CheckTypeTCP:
		return NewTCPChecker(host, hc.Port, hc.Timeout)
	default:
		return NewHTTPChecker(host, hc.Port, hc.Path, hc.Timeout)
	}
}

// ForReadinessCheck builds a checker probing host according to rc.
// Readiness checks are always HTTP.
func ForReadinessCheck(rc spec.ReadinessCheck, host string) Checker {
	return NewHTTPChecker(host, rc.Port, rc.Path, rc.Timeout)
}

// Status accumulates probe results for one task
type Status struct {
	// ConsecutiveFailures counts failed probes since the last success
	ConsecutiveFailures int

	// ConsecutiveSuccesses counts successful probes since the last failure
	ConsecutiveSuccesses int

	// LastResult is the most recent probe outcome
	LastResult Result

	// Healthy is the current verdict
	Healthy bool

	// StartedAt is when probing began for this task
	StartedAt time.Time
}

// NewStatus creates a Status that assumes health until proven otherwise
func NewStatus(now time.Time) *Status {
	return &Status{
		Healthy:   true,
		StartedAt: now,
	}
}

// Update folds a probe result into the status. A task turns unhealthy only
// after retries consecutive failures; it recovers on the first success.
func (s *Status) Update(result Result, retries int) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= retries {
		s.Healthy = false
	}
}

// InGracePeriod reports whether probing is still inside the startup grace
// period configured on the check.
func (s *Status) InGracePeriod(grace time.Duration, now time.Time) bool {
	if grace == 0 {
		return false
	}
	return now.Sub(s.StartedAt) < grace
}
