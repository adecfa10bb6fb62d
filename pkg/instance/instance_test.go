package instance

import (
	"testing"
	"time"

	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }

func TestReduceConditionsMostSevereWins(t *testing.T) {
	tests := []struct {
		name       string
		conditions []Condition
		want       Condition
	}{
		{name: "empty is unknown", conditions: nil, want: ConditionUnknown},
		{name: "single running", conditions: []Condition{ConditionRunning}, want: ConditionRunning},
		{name: "failed beats running", conditions: []Condition{ConditionRunning, ConditionFailed}, want: ConditionFailed},
		{name: "error beats failed", conditions: []Condition{ConditionFailed, ConditionError}, want: ConditionError},
		{name: "staging beats running", conditions: []Condition{ConditionRunning, ConditionStaging}, want: ConditionStaging},
		{name: "killing beats staging", conditions: []Condition{ConditionStaging, ConditionKilling}, want: ConditionKilling},
		{name: "running beats finished", conditions: []Condition{ConditionFinished, ConditionRunning}, want: ConditionRunning},
		{name: "finished beats killed", conditions: []Condition{ConditionKilled, ConditionFinished}, want: ConditionFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := make([]*Task, len(tt.conditions))
			for i, c := range tt.conditions {
				tasks[i] = &Task{Condition: c}
			}
			got := ReduceConditions(tasks, spec.UnreachableStrategy{}, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnreachableInactivePromotion(t *testing.T) {
	strategy := spec.UnreachableStrategy{Enabled: true, InactiveAfter: 5 * time.Minute}

	fresh := []*Task{{Condition: ConditionUnreachable, UnreachableSince: now.Add(-time.Minute)}}
	assert.Equal(t, ConditionUnreachable, ReduceConditions(fresh, strategy, now))

	stale := []*Task{{Condition: ConditionUnreachable, UnreachableSince: now.Add(-10 * time.Minute)}}
	assert.Equal(t, ConditionUnreachableInactive, ReduceConditions(stale, strategy, now))

	// Disabled strategy never promotes.
	assert.Equal(t, ConditionUnreachable, ReduceConditions(stale, spec.UnreachableStrategy{}, now))

	// Promotion only applies when unreachable is the reduced condition.
	mixed := []*Task{
		{Condition: ConditionUnreachable, UnreachableSince: now.Add(-10 * time.Minute)},
		{Condition: ConditionFailed},
	}
	assert.Equal(t, ConditionFailed, ReduceConditions(mixed, strategy, now))
}

func TestAggregateHealth(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*Task
		want  *bool
	}{
		{
			name:  "running unhealthy wins",
			tasks: []*Task{{Condition: ConditionRunning, Healthy: boolPtr(false)}, {Condition: ConditionRunning, Healthy: boolPtr(true)}},
			want:  boolPtr(false),
		},
		{
			name:  "staging task keeps health unknown",
			tasks: []*Task{{Condition: ConditionRunning, Healthy: boolPtr(true)}, {Condition: ConditionStaging}},
			want:  nil,
		},
		{
			name:  "all running healthy",
			tasks: []*Task{{Condition: ConditionRunning, Healthy: boolPtr(true)}, {Condition: ConditionFinished}},
			want:  boolPtr(true),
		},
		{
			name:  "running without reports",
			tasks: []*Task{{Condition: ConditionRunning}},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AggregateHealth(tt.tasks)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tt.want, *got)
			}
		})
	}
}

func TestActiveSince(t *testing.T) {
	early := now.Add(-time.Hour)
	late := now.Add(-time.Minute)

	assert.True(t, ActiveSince([]*Task{{}, {}}).IsZero())
	assert.Equal(t, early, ActiveSince([]*Task{{StartedAt: late}, {StartedAt: early}}))
}

func TestUpdateStatePreservesSince(t *testing.T) {
	app := &spec.AppDefinition{AppID: pathid.MustParse("/app"), Instances: 1}
	inst := NewScheduled(app, now)
	inst.Tasks["t1"] = &Task{ID: "t1", Condition: ConditionRunning, StartedAt: now}

	inst.UpdateState(now)
	assert.Equal(t, ConditionRunning, inst.State.Condition)
	assert.Equal(t, now, inst.State.Since)

	// Same condition and health: since stays put.
	later := now.Add(time.Minute)
	inst.UpdateState(later)
	assert.Equal(t, now, inst.State.Since)

	// Condition change advances since.
	inst.Tasks["t1"].Condition = ConditionFailed
	inst.UpdateState(later)
	assert.Equal(t, ConditionFailed, inst.State.Condition)
	assert.Equal(t, later, inst.State.Since)
}

func TestUnreachableInactiveIsSticky(t *testing.T) {
	app := &spec.AppDefinition{
		AppID:       pathid.MustParse("/app"),
		Instances:   1,
		Unreachable: spec.UnreachableStrategy{Enabled: true, InactiveAfter: time.Minute},
	}
	inst := NewScheduled(app, now)
	inst.Tasks["t1"] = &Task{ID: "t1", Condition: ConditionUnreachable, UnreachableSince: now.Add(-2 * time.Minute)}

	inst.UpdateState(now)
	require.Equal(t, ConditionUnreachableInactive, inst.State.Condition)

	// The unreachable window shrinking below inactiveAfter does not demote
	// an already-inactive instance.
	inst.Tasks["t1"].UnreachableSince = now
	inst.UpdateState(now)
	assert.Equal(t, ConditionUnreachableInactive, inst.State.Condition)
}

func TestIsScheduled(t *testing.T) {
	app := &spec.AppDefinition{AppID: pathid.MustParse("/app"), Instances: 1}
	inst := NewScheduled(app, now)

	assert.True(t, inst.IsScheduled())

	inst.State.Condition = ConditionRunning
	assert.False(t, inst.IsScheduled())

	inst.State.Condition = ConditionFailed
	assert.True(t, inst.IsScheduled())

	inst.State.Goal = GoalDecommissioned
	assert.False(t, inst.IsScheduled())
}

func TestInstanceIDRoundTrip(t *testing.T) {
	ids := []ID{
		NewID(pathid.MustParse("/app")),
		NewID(pathid.MustParse("/prod/db/primary")),
	}

	for _, id := range ids {
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		assert.True(t, id.Equal(parsed), "round trip of %s", id)
	}
}

func TestParseIDLegacyPrefix(t *testing.T) {
	raw := "prod_db.marathon-1b4e28ba-2fa1-11d2-883f-0016d3cca427"

	id, err := ParseID(raw)
	require.NoError(t, err)
	assert.Equal(t, PrefixLegacy, id.Prefix)
	assert.Equal(t, "/prod/db", id.RunSpecID.String())
	assert.Equal(t, raw, id.String())
}

func TestParseIDMalformed(t *testing.T) {
	cases := []string{
		"",
		"noprefix",
		"app.instance-",
		"app.other-1b4e28ba-2fa1-11d2-883f-0016d3cca427",
		"app.instance-not-a-uuid",
	}
	for _, raw := range cases {
		_, err := ParseID(raw)
		assert.ErrorIs(t, err, ErrMalformedInstanceID, "input %q", raw)
	}
}

func TestReservationTimeouts(t *testing.T) {
	id := NewID(pathid.MustParse("/db"))
	r := NewReservation(id, []string{"vol-1"}, now.Add(time.Minute))

	assert.Equal(t, SimplifiedReservationID(id), r.ID)
	assert.False(t, r.TimedOut(now))
	assert.True(t, r.TimedOut(now.Add(2*time.Minute)))

	r.AdvanceOnTimeout(now.Add(10 * time.Minute))
	assert.Equal(t, ReservationGarbage, r.State)

	r.State = ReservationLaunched
	r.Deadline = time.Time{}
	r.AdvanceOnTimeout(now)
	assert.Equal(t, ReservationLaunched, r.State)
}
