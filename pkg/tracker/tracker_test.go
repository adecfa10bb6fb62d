package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/stride/pkg/events"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/cuemby/stride/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(id string, instances int) *spec.AppDefinition {
	return &spec.AppDefinition{
		AppID:       pathid.MustParse(id),
		Cmd:         "sleep 1000",
		Instances:   instances,
		Unreachable: spec.UnreachableStrategy{Enabled: true, InactiveAfter: 5 * time.Minute, ExpungeAfter: 10 * time.Minute},
	}
}

func newTestTracker(t *testing.T) (*Tracker, *clock.Mock, storage.InstanceRepository) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	repo := storage.NewMemoryStore().Instances()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	return New(repo, broker, mock), mock, repo
}

func TestScheduleCreatesInstances(t *testing.T) {
	tr, _, repo := newTestTracker(t)
	ctx := context.Background()

	created, err := tr.Schedule(ctx, testApp("/app", 3), 3)
	require.NoError(t, err)
	require.Len(t, created, 3)

	for _, inst := range created {
		assert.Equal(t, instance.ConditionScheduled, inst.State.Condition)
		assert.Equal(t, instance.GoalRunning, inst.State.Goal)
		assert.Nil(t, inst.AgentInfo)
		assert.True(t, inst.IsScheduled())
	}

	persisted, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
	assert.Len(t, tr.List(), 3)
}

func TestProvisionBindsAgentAndTasks(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	created, err := tr.Schedule(ctx, testApp("/app", 1), 1)
	require.NoError(t, err)
	id := created[0].InstanceID

	agent := instance.AgentInfo{Host: "10.0.1.7", AgentID: "agent-1"}
	task := &instance.Task{ID: id.TaskIDFor("")}
	require.NoError(t, tr.Provision(ctx, id, agent, []*instance.Task{task}))

	got := tr.Get(id)
	require.NotNil(t, got)
	assert.Equal(t, instance.ConditionProvisioned, got.State.Condition)
	require.NotNil(t, got.AgentInfo)
	assert.Equal(t, "10.0.1.7", got.AgentInfo.Host)
	assert.Len(t, got.Tasks, 1)

	// Provisioning twice is rejected.
	assert.Error(t, tr.Provision(ctx, id, agent, []*instance.Task{task}))
}

func TestProvisionRequiresRunningGoal(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	created, err := tr.Schedule(ctx, testApp("/app", 1), 1)
	require.NoError(t, err)
	id := created[0].InstanceID

	// Scheduled instance with no live tasks is expunged on decommission, so
	// use stop to keep it around.
	require.NoError(t, tr.SetGoal(ctx, id, instance.GoalStopped, ReasonUserRequest))

	err = tr.Provision(ctx, id, instance.AgentInfo{Host: "h"}, []*instance.Task{{ID: "t"}})
	assert.Error(t, err)
}

func TestUpdateDrivesCondition(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	created, err := tr.Schedule(ctx, testApp("/app", 1), 1)
	require.NoError(t, err)
	id := created[0].InstanceID
	taskID := id.TaskIDFor("")

	require.NoError(t, tr.Provision(ctx, id, instance.AgentInfo{Host: "h"}, []*instance.Task{{ID: taskID}}))

	require.NoError(t, tr.Update(ctx, TaskUpdate{InstanceID: id, TaskID: taskID, Condition: instance.ConditionRunning}))
	got := tr.Get(id)
	assert.Equal(t, instance.ConditionRunning, got.State.Condition)
	assert.False(t, got.State.ActiveSince.IsZero())

	healthy := true
	require.NoError(t, tr.Update(ctx, TaskUpdate{InstanceID: id, TaskID: taskID, Condition: instance.ConditionRunning, Healthy: &healthy}))
	got = tr.Get(id)
	require.NotNil(t, got.State.Healthy)
	assert.True(t, *got.State.Healthy)
}

func TestDecommissionedInstanceExpungedWhenTerminal(t *testing.T) {
	tr, _, repo := newTestTracker(t)
	ctx := context.Background()

	created, err := tr.Schedule(ctx, testApp("/app", 1), 1)
	require.NoError(t, err)
	id := created[0].InstanceID
	taskID := id.TaskIDFor("")

	require.NoError(t, tr.Provision(ctx, id, instance.AgentInfo{Host: "h"}, []*instance.Task{{ID: taskID}}))
	require.NoError(t, tr.Update(ctx, TaskUpdate{InstanceID: id, TaskID: taskID, Condition: instance.ConditionRunning}))

	require.NoError(t, tr.SetGoal(ctx, id, instance.GoalDecommissioned, ReasonUserRequest))
	assert.NotNil(t, tr.Get(id), "instance with live tasks stays until terminal")

	require.NoError(t, tr.Update(ctx, TaskUpdate{InstanceID: id, TaskID: taskID, Condition: instance.ConditionKilled}))
	assert.Nil(t, tr.Get(id))

	persisted, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestUnknownTerminalUpdatePublishesEvent(t *testing.T) {
	mock := clock.NewMock()
	repo := storage.NewMemoryStore().Instances()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	tr := New(repo, broker, mock)

	ghost := instance.NewID(pathid.MustParse("/ghost"))
	require.NoError(t, tr.Update(context.Background(), TaskUpdate{
		InstanceID: ghost,
		TaskID:     ghost.TaskIDFor(""),
		Condition:  instance.ConditionGone,
	}))

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventUnknownInstanceTerminated, ev.Type)
		assert.Equal(t, ghost.String(), ev.InstanceID)
	case <-time.After(time.Second):
		t.Fatal("expected an UnknownInstanceTerminated event")
	}
}

func TestUnreachableExpungeDeadlineDecommissions(t *testing.T) {
	tr, mock, _ := newTestTracker(t)
	ctx := context.Background()

	created, err := tr.Schedule(ctx, testApp("/app", 1), 1)
	require.NoError(t, err)
	id := created[0].InstanceID
	taskID := id.TaskIDFor("")

	require.NoError(t, tr.Provision(ctx, id, instance.AgentInfo{Host: "h"}, []*instance.Task{{ID: taskID}}))
	require.NoError(t, tr.Update(ctx, TaskUpdate{InstanceID: id, TaskID: taskID, Condition: instance.ConditionUnreachable}))

	// Past inactiveAfter: promoted, still tracked.
	mock.Add(6 * time.Minute)
	tr.tick(ctx)
	got := tr.Get(id)
	require.NotNil(t, got)
	assert.Equal(t, instance.ConditionUnreachableInactive, got.State.Condition)
	assert.Equal(t, instance.GoalRunning, got.State.Goal)

	// Past expungeAfter: goal flips to decommissioned.
	mock.Add(5 * time.Minute)
	tr.tick(ctx)
	got = tr.Get(id)
	require.NotNil(t, got)
	assert.Equal(t, instance.GoalDecommissioned, got.State.Goal)
}

func TestLiveCount(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()
	app := testApp("/app", 3)

	created, err := tr.Schedule(ctx, app, 3)
	require.NoError(t, err)

	for _, inst := range created[:2] {
		taskID := inst.InstanceID.TaskIDFor("")
		require.NoError(t, tr.Provision(ctx, inst.InstanceID, instance.AgentInfo{Host: "h"}, []*instance.Task{{ID: taskID}}))
		require.NoError(t, tr.Update(ctx, TaskUpdate{InstanceID: inst.InstanceID, TaskID: taskID, Condition: instance.ConditionRunning}))
	}

	// Two running, one still scheduled.
	assert.Equal(t, 2, tr.LiveCount(app.AppID, nil))

	// A readiness predicate filters further.
	assert.Equal(t, 0, tr.LiveCount(app.AppID, func(i *instance.Instance) bool { return false }))
}
