package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/stride/pkg/events"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/log"
	"github.com/cuemby/stride/pkg/metrics"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/cuemby/stride/pkg/storage"
	"github.com/rs/zerolog"
)

// GoalReason explains why a goal was changed.
type GoalReason string

const (
	// ReasonUserRequest is an operator-initiated change.
	ReasonUserRequest GoalReason = "user-request"

	// ReasonOrphaned marks instances whose run-spec no longer exists.
	ReasonOrphaned GoalReason = "orphaned"

	// ReasonOverCapacity marks instances sentenced by a scale-down.
	ReasonOverCapacity GoalReason = "over-capacity"

	// ReasonUnreachableExpunge marks instances unreachable past their
	// expunge deadline.
	ReasonUnreachableExpunge GoalReason = "unreachable-expunge"
)

// TaskUpdate is one task status update from the offer layer.
type TaskUpdate struct {
	InstanceID instance.ID
	TaskID     string
	Condition  instance.Condition
	Healthy    *bool
}

// Tracker is the single writer of instance state.
type Tracker struct {
	repo   storage.InstanceRepository
	broker *events.Broker
	clock  clock.Clock
	logger zerolog.Logger

	mu        sync.RWMutex
	instances map[string]*instance.Instance

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a tracker backed by repo, publishing to broker.
func New(repo storage.InstanceRepository, broker *events.Broker, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		repo:      repo,
		broker:    broker,
		clock:     clk,
		logger:    log.WithComponent("tracker"),
		instances: map[string]*instance.Instance{},
		stopCh:    make(chan struct{}),
	}
}

// Load warms the in-memory view from the repository.
func (t *Tracker) Load(ctx context.Context) error {
	all, err := t.repo.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load instances: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.instances = make(map[string]*instance.Instance, len(all))
	for _, i := range all {
		t.instances[i.InstanceID.String()] = i
	}
	t.logger.Info().Int("instances", len(all)).Msg("instance state loaded")
	return nil
}

// Start begins the timer loop that promotes unreachable instances and
// advances reservation timeouts.
func (t *Tracker) Start() {
	go t.run()
}

// Stop stops the timer loop.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *Tracker) run() {
	ticker := t.clock.Ticker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.tick(context.Background())
		case <-t.stopCh:
			return
		}
	}
}

// Schedule creates count new instances of runSpec in the scheduled state.
func (t *Tracker) Schedule(ctx context.Context, runSpec spec.RunSpec, count int) ([]*instance.Instance, error) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	created := make([]*instance.Instance, 0, count)
	for i := 0; i < count; i++ {
		inst := instance.NewScheduled(runSpec, now)
		if err := t.repo.Store(ctx, inst); err != nil {
			return created, fmt.Errorf("failed to store instance %s: %w", inst.InstanceID, err)
		}
		t.instances[inst.InstanceID.String()] = inst
		created = append(created, inst.Copy())
	}
	return created, nil
}

// Provision moves a scheduled instance to provisioned, binding the agent
// from the accepting offer and the launched task set. The goal must still
// be running.
func (t *Tracker) Provision(ctx context.Context, id instance.ID, agent instance.AgentInfo, tasks []*instance.Task) error {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[id.String()]
	if !ok {
		return fmt.Errorf("instance %s: %w", id, storage.ErrNotFound)
	}
	if inst.State.Goal != instance.GoalRunning {
		return fmt.Errorf("cannot provision instance %s with goal %s", id, inst.State.Goal)
	}
	if inst.State.Condition != instance.ConditionScheduled {
		return fmt.Errorf("cannot provision instance %s in condition %s", id, inst.State.Condition)
	}

	inst.AgentInfo = &agent
	inst.Tasks = map[string]*instance.Task{}
	for _, task := range tasks {
		task.Condition = instance.ConditionProvisioned
		inst.Tasks[task.ID] = task
	}
	inst.State.Condition = instance.ConditionProvisioned
	inst.State.Since = now

	if err := t.repo.Store(ctx, inst); err != nil {
		return fmt.Errorf("failed to store instance %s: %w", id, err)
	}
	t.publishChanged(inst)
	return nil
}

// Update applies a task status update. Updates for unknown instances with a
// terminal condition publish UnknownInstanceTerminated; others are dropped.
func (t *Tracker) Update(ctx context.Context, update TaskUpdate) error {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[update.InstanceID.String()]
	if !ok {
		if update.Condition.IsTerminal() {
			t.broker.Publish(&events.Event{
				Type:       events.EventUnknownInstanceTerminated,
				InstanceID: update.InstanceID.String(),
				RunSpecID:  update.InstanceID.RunSpecID.String(),
				Condition:  update.Condition,
			})
		}
		return nil
	}

	task, ok := inst.Tasks[update.TaskID]
	if !ok {
		task = &instance.Task{ID: update.TaskID}
		inst.Tasks[update.TaskID] = task
	}

	task.Condition = update.Condition
	if update.Healthy != nil {
		task.Healthy = update.Healthy
	}
	switch update.Condition {
	case instance.ConditionRunning:
		if task.StartedAt.IsZero() {
			task.StartedAt = now
		}
		task.UnreachableSince = time.Time{}
	case instance.ConditionUnreachable:
		if task.UnreachableSince.IsZero() {
			task.UnreachableSince = now
		}
	default:
		task.UnreachableSince = time.Time{}
	}

	inst.UpdateState(now)
	metrics.InstanceUpdatesTotal.Inc()

	if inst.State.Goal == instance.GoalDecommissioned && !inst.HasLiveTasks() {
		return t.expungeLocked(ctx, inst)
	}

	if err := t.repo.Store(ctx, inst); err != nil {
		return fmt.Errorf("failed to store instance %s: %w", inst.InstanceID, err)
	}
	// Published even when the reduced condition is unchanged: consumers such
	// as the kill service settle on task-level transitions.
	t.publishChanged(inst)
	return nil
}

// SetGoal changes an instance's goal. Decommissioning a scheduled or fully
// terminal instance expunges it immediately.
func (t *Tracker) SetGoal(ctx context.Context, id instance.ID, goal instance.Goal, reason GoalReason) error {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[id.String()]
	if !ok {
		return fmt.Errorf("instance %s: %w", id, storage.ErrNotFound)
	}
	if inst.State.Goal == goal {
		return nil
	}

	inst.State.Goal = goal
	inst.State.Since = now
	t.logger.Info().
		Str("instance_id", id.String()).
		Str("goal", string(goal)).
		Str("reason", string(reason)).
		Msg("instance goal changed")

	if goal == instance.GoalDecommissioned {
		if inst.Reservation != nil {
			inst.Reservation.State = instance.ReservationGarbage
		}
		if !inst.HasLiveTasks() {
			return t.expungeLocked(ctx, inst)
		}
	}
	if goal == instance.GoalStopped && inst.Reservation != nil {
		inst.Reservation.State = instance.ReservationSuspended
	}

	if err := t.repo.Store(ctx, inst); err != nil {
		return fmt.Errorf("failed to store instance %s: %w", id, err)
	}
	t.publishChanged(inst)
	return nil
}

// Expunge removes an instance outright.
func (t *Tracker) Expunge(ctx context.Context, id instance.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[id.String()]
	if !ok {
		return nil
	}
	return t.expungeLocked(ctx, inst)
}

func (t *Tracker) expungeLocked(ctx context.Context, inst *instance.Instance) error {
	if err := t.repo.Delete(ctx, inst.InstanceID); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", inst.InstanceID, err)
	}
	delete(t.instances, inst.InstanceID.String())
	t.publishChanged(inst)
	t.logger.Debug().Str("instance_id", inst.InstanceID.String()).Msg("instance expunged")
	return nil
}

// Get returns a copy of the instance, or nil.
func (t *Tracker) Get(id instance.ID) *instance.Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	inst, ok := t.instances[id.String()]
	if !ok {
		return nil
	}
	return inst.Copy()
}

// List returns copies of all instances, ordered by id.
func (t *Tracker) List() []*instance.Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*instance.Instance, 0, len(t.instances))
	for _, inst := range t.instances {
		out = append(out, inst.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstanceID.String() < out[j].InstanceID.String()
	})
	return out
}

// ListByRunSpec returns copies of the instances of one run-spec.
func (t *Tracker) ListByRunSpec(id pathid.PathID) []*instance.Instance {
	var out []*instance.Instance
	for _, inst := range t.List() {
		if inst.InstanceID.RunSpecID.Equal(id) {
			out = append(out, inst)
		}
	}
	return out
}

// LiveCount counts instances of a run-spec that are active with goal
// running and satisfy ready.
func (t *Tracker) LiveCount(id pathid.PathID, ready func(*instance.Instance) bool) int {
	count := 0
	for _, inst := range t.ListByRunSpec(id) {
		if !inst.IsActive() || inst.State.Goal != instance.GoalRunning {
			continue
		}
		if ready != nil && !ready(inst) {
			continue
		}
		count++
	}
	return count
}

// tick promotes unreachable instances past their inactive deadline, expunges
// those past their expunge deadline and advances reservation timeouts.
func (t *Tracker) tick(ctx context.Context) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	conditionCounts := map[instance.Condition]int{}

	for _, inst := range t.instances {
		prev := inst.State.Condition
		inst.UpdateState(now)
		changed := inst.State.Condition != prev

		strategy := inst.RunSpec.UnreachableStrategy()
		if strategy.Enabled && inst.State.Goal == instance.GoalRunning {
			for _, task := range inst.Tasks {
				if task.Condition != instance.ConditionUnreachable || task.UnreachableSince.IsZero() {
					continue
				}
				if now.Sub(task.UnreachableSince) >= strategy.ExpungeAfter && strategy.ExpungeAfter > 0 {
					inst.State.Goal = instance.GoalDecommissioned
					inst.State.Since = now
					changed = true
					t.logger.Info().
						Str("instance_id", inst.InstanceID.String()).
						Str("reason", string(ReasonUnreachableExpunge)).
						Msg("decommissioning unreachable instance")
					break
				}
			}
		}

		if inst.Reservation != nil && inst.Reservation.TimedOut(now) {
			inst.Reservation.AdvanceOnTimeout(now.Add(15 * time.Minute))
			changed = true
		}

		if changed {
			if err := t.repo.Store(ctx, inst); err != nil {
				t.logger.Error().Err(err).
					Str("instance_id", inst.InstanceID.String()).
					Msg("failed to persist instance during timer tick")
			}
			t.publishChanged(inst)
		}

		conditionCounts[inst.State.Condition]++
	}

	metrics.InstancesTotal.Reset()
	for condition, count := range conditionCounts {
		metrics.InstancesTotal.WithLabelValues(string(condition)).Set(float64(count))
	}
}

func (t *Tracker) publishChanged(inst *instance.Instance) {
	t.broker.Publish(&events.Event{
		Type:       events.EventInstanceChanged,
		InstanceID: inst.InstanceID.String(),
		RunSpecID:  inst.InstanceID.RunSpecID.String(),
		Condition:  inst.State.Condition,
		Goal:       inst.State.Goal,
	})
}
