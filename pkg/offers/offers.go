package offers

import (
	"context"
	"sync"

	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
)

// TaskStatus is the task view submitted to the offer layer during
// reconciliation.
type TaskStatus struct {
	TaskID     string
	InstanceID string
	Condition  instance.Condition
	AgentID    string
}

// Driver sends task operations to the offer layer.
type Driver interface {
	// KillTask asks the offer layer to kill one task. Kills are idempotent;
	// re-issuing the same kill is defined behavior.
	KillTask(ctx context.Context, taskID, agentID string) error

	// ReconcileTasks submits task statuses for explicit reconciliation. An
	// empty list is the sentinel that a reconciliation round finished.
	ReconcileTasks(ctx context.Context, statuses []TaskStatus) error
}

// LaunchQueue accepts demand for new instances. The offer matcher consumes
// the queue and provisions instances as offers arrive.
type LaunchQueue interface {
	// Add enqueues count additional instances of runSpec.
	Add(ctx context.Context, runSpec spec.RunSpec, count int) error

	// Purge drops all queued demand for a run-spec.
	Purge(ctx context.Context, id pathid.PathID) error
}

// RecordingDriver is a Driver test double that records every call.
type RecordingDriver struct {
	mu         sync.Mutex
	Kills      []string
	Reconciles [][]TaskStatus
}

func (d *RecordingDriver) KillTask(ctx context.Context, taskID, agentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Kills = append(d.Kills, taskID)
	return nil
}

func (d *RecordingDriver) ReconcileTasks(ctx context.Context, statuses []TaskStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := append([]TaskStatus(nil), statuses...)
	d.Reconciles = append(d.Reconciles, copied)
	return nil
}

// KilledTasks returns a snapshot of the recorded kill requests.
func (d *RecordingDriver) KilledTasks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Kills...)
}

// ReconcileCalls returns a snapshot of the recorded reconciliations.
func (d *RecordingDriver) ReconcileCalls() [][]TaskStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]TaskStatus, len(d.Reconciles))
	copy(out, d.Reconciles)
	return out
}

// LaunchRequest is one recorded LaunchQueue.Add call.
type LaunchRequest struct {
	RunSpecID string
	Count     int
}

// RecordingLaunchQueue is a LaunchQueue test double that records demand.
type RecordingLaunchQueue struct {
	mu     sync.Mutex
	Adds   []LaunchRequest
	Purges []string
}

func (q *RecordingLaunchQueue) Add(ctx context.Context, runSpec spec.RunSpec, count int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Adds = append(q.Adds, LaunchRequest{RunSpecID: runSpec.ID().String(), Count: count})
	return nil
}

func (q *RecordingLaunchQueue) Purge(ctx context.Context, id pathid.PathID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Purges = append(q.Purges, id.String())
	return nil
}

// Requests returns a snapshot of the recorded launch demand.
func (q *RecordingLaunchQueue) Requests() []LaunchRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]LaunchRequest(nil), q.Adds...)
}
