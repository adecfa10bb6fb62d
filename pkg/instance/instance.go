package instance

import (
	"time"

	"github.com/cuemby/stride/pkg/spec"
)

// Goal is the desired fate of an instance.
type Goal string

const (
	// GoalRunning keeps the instance running.
	GoalRunning Goal = "running"

	// GoalStopped kills the tasks but retains the reservation, if any.
	GoalStopped Goal = "stopped"

	// GoalDecommissioned kills the tasks, releases the reservation and
	// expunges the instance once terminal.
	GoalDecommissioned Goal = "decommissioned"
)

// Task is the unit the offer layer launches and tracks.
type Task struct {
	ID               string
	Condition        Condition
	StartedAt        time.Time // zero until the task reported running
	Healthy          *bool     // nil while unknown
	UnreachableSince time.Time // set while Condition is unreachable
}

// AgentInfo describes the agent an instance was provisioned on.
type AgentInfo struct {
	Host       string
	AgentID    string
	Region     string
	Zone       string
	Attributes map[string]string
}

// State is the reduced view of an instance's tasks.
type State struct {
	Condition   Condition
	Since       time.Time
	ActiveSince time.Time // zero if no task started yet
	Healthy     *bool
	Goal        Goal
}

// Instance is one runtime replica of a run-spec.
type Instance struct {
	InstanceID  ID
	AgentInfo   *AgentInfo
	State       State
	Tasks       map[string]*Task
	RunSpec     spec.RunSpec
	Reservation *Reservation

	// Role is the Mesos role resources were reserved against. It may differ
	// from the run-spec's role for resident instances during role migration.
	Role string
}

// NewScheduled creates an instance in the scheduled state: no tasks, no
// agent, waiting for the offer layer.
func NewScheduled(runSpec spec.RunSpec, now time.Time) *Instance {
	return &Instance{
		InstanceID: NewID(runSpec.ID()),
		State: State{
			Condition: ConditionScheduled,
			Since:     now,
			Goal:      GoalRunning,
		},
		Tasks:   map[string]*Task{},
		RunSpec: runSpec,
		Role:    runSpec.Role(),
	}
}

// IsScheduled reports whether the instance is waiting to be launched.
func (i *Instance) IsScheduled() bool {
	return i.State.Goal == GoalRunning &&
		(i.State.Condition.IsTerminal() || i.State.Condition == ConditionScheduled)
}

// IsActive reports whether the instance counts toward its run-spec's live
// instances.
func (i *Instance) IsActive() bool {
	return i.State.Condition.IsActive()
}

// HasLiveTasks reports whether any task is not yet terminal.
func (i *Instance) HasLiveTasks() bool {
	for _, t := range i.Tasks {
		if !t.Condition.IsTerminal() {
			return true
		}
	}
	return false
}

// TaskList returns the instance's tasks in unspecified order.
func (i *Instance) TaskList() []*Task {
	tasks := make([]*Task, 0, len(i.Tasks))
	for _, t := range i.Tasks {
		tasks = append(tasks, t)
	}
	return tasks
}

// Copy returns a deep copy; readers of the tracker get copies so the single
// writer can keep mutating.
func (i *Instance) Copy() *Instance {
	c := *i
	c.Tasks = make(map[string]*Task, len(i.Tasks))
	for id, t := range i.Tasks {
		tc := *t
		if t.Healthy != nil {
			h := *t.Healthy
			tc.Healthy = &h
		}
		c.Tasks[id] = &tc
	}
	if i.AgentInfo != nil {
		a := *i.AgentInfo
		c.AgentInfo = &a
	}
	if i.Reservation != nil {
		r := *i.Reservation
		r.VolumeIDs = append([]string(nil), i.Reservation.VolumeIDs...)
		c.Reservation = &r
	}
	if i.State.Healthy != nil {
		h := *i.State.Healthy
		c.State.Healthy = &h
	}
	return &c
}

// ReduceConditions folds a non-empty set of task conditions into one
// instance condition: the most severe wins. An unreachable result is
// promoted to UnreachableInactive when the strategy is enabled and any task
// has been unreachable longer than its inactiveAfter. Empty input yields
// Unknown.
func ReduceConditions(tasks []*Task, strategy spec.UnreachableStrategy, now time.Time) Condition {
	if len(tasks) == 0 {
		return ConditionUnknown
	}

	reduced := tasks[0].Condition
	for _, t := range tasks[1:] {
		if t.Condition.Severity() < reduced.Severity() {
			reduced = t.Condition
		}
	}

	if reduced == ConditionUnreachable && strategy.Enabled {
		for _, t := range tasks {
			if t.Condition != ConditionUnreachable || t.UnreachableSince.IsZero() {
				continue
			}
			if now.Sub(t.UnreachableSince) >= strategy.InactiveAfter {
				return ConditionUnreachableInactive
			}
		}
	}

	return reduced
}

// AggregateHealth folds task health reports into an instance-level verdict:
// false if any running task reports unhealthy, nil while any task is neither
// running nor finished, true when at least one running task reports healthy
// and none contradicts, nil otherwise.
func AggregateHealth(tasks []*Task) *bool {
	no := false
	yes := true

	for _, t := range tasks {
		if t.Condition == ConditionRunning && t.Healthy != nil && !*t.Healthy {
			return &no
		}
	}
	for _, t := range tasks {
		if t.Condition != ConditionRunning && t.Condition != ConditionFinished {
			return nil
		}
	}
	for _, t := range tasks {
		if t.Condition == ConditionRunning && t.Healthy != nil && *t.Healthy {
			return &yes
		}
	}
	return nil
}

// ActiveSince returns the earliest task start time, or zero if none started.
func ActiveSince(tasks []*Task) time.Time {
	var earliest time.Time
	for _, t := range tasks {
		if t.StartedAt.IsZero() {
			continue
		}
		if earliest.IsZero() || t.StartedAt.Before(earliest) {
			earliest = t.StartedAt
		}
	}
	return earliest
}

// UpdateState recomputes the instance state from its tasks. The Since
// timestamp only advances when condition or health actually changed.
// Instances without tasks are still scheduled and keep their state.
func (i *Instance) UpdateState(now time.Time) {
	if len(i.Tasks) == 0 {
		return
	}
	// Once inactive, the instance stays inactive even if a task reports
	// running again; only a terminal reduced condition moves it on.
	condition := ReduceConditions(i.TaskList(), i.RunSpec.UnreachableStrategy(), now)
	if i.State.Condition == ConditionUnreachableInactive && !condition.IsTerminal() {
		condition = ConditionUnreachableInactive
	}

	healthy := AggregateHealth(i.TaskList())

	if condition != i.State.Condition || !boolPtrEqual(healthy, i.State.Healthy) {
		i.State.Since = now
	}
	i.State.Condition = condition
	i.State.Healthy = healthy
	i.State.ActiveSince = ActiveSince(i.TaskList())
}

func boolPtrEqual(a, b *bool) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
