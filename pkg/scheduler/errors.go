package scheduler

import (
	"errors"
	"fmt"
)

// ErrApplicationLocked is returned when a deployment cannot acquire its
// run-spec locks. Callers may retry with force.
var ErrApplicationLocked = errors.New("run-spec is locked by another deployment")

// ErrDeploymentCancelled fails the promise of a plan that was pre-empted or
// cancelled.
var ErrDeploymentCancelled = errors.New("deployment cancelled")

// ErrNotLeader is returned when the executor is asked to act while not
// leading.
var ErrNotLeader = errors.New("not the leader")

// DeploymentFailedError wraps any step failure: timeouts, readiness or
// health gates, or unknown causes.
type DeploymentFailedError struct {
	PlanID string
	Cause  error
}

func (e *DeploymentFailedError) Error() string {
	return fmt.Sprintf("deployment %s failed: %v", e.PlanID, e.Cause)
}

func (e *DeploymentFailedError) Unwrap() error {
	return e.Cause
}
