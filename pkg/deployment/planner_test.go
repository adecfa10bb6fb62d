package deployment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var v0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func app(id string, instances int) *spec.AppDefinition {
	return &spec.AppDefinition{
		AppID:     pathid.MustParse(id),
		Cmd:       "sleep 1000",
		Instances: instances,
		Upgrade:   spec.DefaultUpgradeStrategy(),
	}
}

func rootWith(t *testing.T, apps ...*spec.AppDefinition) *group.RootGroup {
	t.Helper()
	ops := make([]group.Operation, len(apps))
	for i, a := range apps {
		ops[i] = group.PutApp(a)
	}
	root, err := group.NewRootGroup(v0).UpdateMany(v0, ops...)
	require.NoError(t, err)
	return root
}

func TestNoOpPlanIsEmpty(t *testing.T) {
	root := rootWith(t, app("/a", 2), app("/b", 3))

	plan := NewPlan(root, root, nil, v0)
	assert.Empty(t, plan.Steps)
	assert.True(t, plan.IsEmpty())
	assert.Empty(t, plan.AffectedRunSpecIDs())
}

func TestSingleAppDryRun(t *testing.T) {
	// Empty original, one new app: a start placeholder then a scale to 1.
	original := group.NewRootGroup(v0)
	target := rootWith(t, &spec.AppDefinition{
		AppID:     pathid.MustParse("/test/app"),
		Cmd:       "test cmd",
		Instances: 1,
	})

	plan := NewPlan(original, target, nil, v0)
	require.Len(t, plan.Steps, 2)

	require.Len(t, plan.Steps[0].Actions, 1)
	assert.Equal(t, ActionStart, plan.Steps[0].Actions[0].Type)
	assert.Equal(t, "/test/app", plan.Steps[0].Actions[0].Spec.ID().String())

	require.Len(t, plan.Steps[1].Actions, 1)
	assert.Equal(t, ActionScale, plan.Steps[1].Actions[0].Type)
	assert.Equal(t, 1, plan.Steps[1].Actions[0].ScaleTo)
}

func TestStopsComeFirst(t *testing.T) {
	original := rootWith(t, app("/old", 2), app("/keep", 1))
	target := rootWith(t, app("/keep", 1))

	plan := NewPlan(original, target, nil, v0)
	require.Len(t, plan.Steps, 1)
	require.Len(t, plan.Steps[0].Actions, 1)
	assert.Equal(t, ActionStop, plan.Steps[0].Actions[0].Type)
	assert.Equal(t, "/old", plan.Steps[0].Actions[0].Spec.ID().String())
}

func TestScaleOnlyChange(t *testing.T) {
	original := rootWith(t, app("/a", 2))
	target := rootWith(t, app("/a", 5))

	plan := NewPlan(original, target, nil, v0)
	require.Len(t, plan.Steps, 1)
	require.Len(t, plan.Steps[0].Actions, 1)
	assert.Equal(t, ActionScale, plan.Steps[0].Actions[0].Type)
	assert.Equal(t, 5, plan.Steps[0].Actions[0].ScaleTo)
}

func TestConfigChangeRestarts(t *testing.T) {
	original := rootWith(t, app("/a", 2))
	changed := app("/a", 2)
	changed.Cmd = "sleep 2000"
	target := rootWith(t, changed)

	plan := NewPlan(original, target, nil, v0)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, ActionRestart, plan.Steps[0].Actions[0].Type)
}

func TestConfigChangeToZeroInstancesScales(t *testing.T) {
	original := rootWith(t, app("/a", 2))
	changed := app("/a", 0)
	changed.Cmd = "sleep 2000"
	target := rootWith(t, changed)

	plan := NewPlan(original, target, nil, v0)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, ActionScale, plan.Steps[0].Actions[0].Type)
	assert.Equal(t, 0, plan.Steps[0].Actions[0].ScaleTo)
}

func TestVersionOnlyChangeIsNoOp(t *testing.T) {
	a := app("/a", 2)
	a.SpecVersion = spec.NewVersionInfo(v0)
	original := rootWith(t, a)

	b := app("/a", 2)
	b.SpecVersion = spec.NewVersionInfo(v0.Add(time.Hour))
	target := rootWith(t, b)

	plan := NewPlan(original, target, nil, v0)
	assert.True(t, plan.IsEmpty())
}

func TestDependencyLayering(t *testing.T) {
	db := app("/db", 1)
	api := app("/api", 1)
	api.DependsOn = []pathid.PathID{pathid.MustParse("/db")}
	web := app("/web", 1)
	web.DependsOn = []pathid.PathID{pathid.MustParse("/api")}
	cache := app("/cache", 1)

	original := group.NewRootGroup(v0)
	target := rootWith(t, db, api, web, cache)

	plan := NewPlan(original, target, nil, v0)

	// One start step, then three layered scale steps.
	require.Len(t, plan.Steps, 4)
	assert.Equal(t, ActionStart, plan.Steps[0].Actions[0].Type)

	layer0 := specIDs(plan.Steps[1])
	assert.ElementsMatch(t, []string{"/cache", "/db"}, layer0)
	assert.Equal(t, []string{"/api"}, specIDs(plan.Steps[2]))
	assert.Equal(t, []string{"/web"}, specIDs(plan.Steps[3]))
}

// Dependency monotonicity: every affected dependency appears in a step no
// later than its dependents.
func TestDependencyMonotonicity(t *testing.T) {
	db := app("/db", 1)
	api := app("/api", 1)
	api.DependsOn = []pathid.PathID{pathid.MustParse("/db")}

	original := rootWith(t, app("/db", 1), func() *spec.AppDefinition {
		a := app("/api", 1)
		a.DependsOn = []pathid.PathID{pathid.MustParse("/db")}
		return a
	}())
	db.Instances = 3
	api.Instances = 3
	target := rootWith(t, db, api)

	plan := NewPlan(original, target, nil, v0)

	stepOf := map[string]int{}
	for i, step := range plan.Steps {
		for _, action := range step.Actions {
			stepOf[action.Spec.ID().String()] = i
		}
	}
	require.Contains(t, stepOf, "/db")
	require.Contains(t, stepOf, "/api")
	assert.LessOrEqual(t, stepOf["/db"], stepOf["/api"])
}

func TestAffectedIDSymmetry(t *testing.T) {
	a := rootWith(t, app("/only-a", 1), app("/both", 2))
	b := rootWith(t, app("/only-b", 1), app("/both", 3))

	forward := NewPlan(a, b, nil, v0).AffectedRunSpecIDs()
	backward := NewPlan(b, a, nil, v0).AffectedRunSpecIDs()

	fwd := make([]string, len(forward))
	for i, id := range forward {
		fwd[i] = id.String()
	}
	bwd := make([]string, len(backward))
	for i, id := range backward {
		bwd[i] = id.String()
	}
	assert.Equal(t, fwd, bwd)
	assert.ElementsMatch(t, []string{"/only-a", "/only-b", "/both"}, fwd)
}

func TestRevertPreservesLaterAdditions(t *testing.T) {
	original := rootWith(t, app("/a", 2))
	target := rootWith(t, app("/a", 5), app("/new", 1))

	plan := NewPlan(original, target, nil, v0)

	// While the plan ran, someone added /later.
	current, err := target.PutApp(app("/later", 1), v0.Add(time.Minute))
	require.NoError(t, err)

	reverted, err := plan.Revert(current, v0.Add(2*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 2, reverted.App(pathid.MustParse("/a")).InstanceCount())
	assert.Nil(t, reverted.App(pathid.MustParse("/new")))
	assert.NotNil(t, reverted.App(pathid.MustParse("/later")))
}

func TestPlanJSONRoundTrip(t *testing.T) {
	original := rootWith(t, app("/old", 1), app("/a", 2))
	target := rootWith(t, app("/a", 5))

	plan := NewPlan(original, target, nil, v0)
	require.False(t, plan.IsEmpty())

	data, err := json.Marshal(plan)
	require.NoError(t, err)

	var decoded Plan
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, plan.ID, decoded.ID)
	require.Len(t, decoded.Steps, len(plan.Steps))
	for i := range plan.Steps {
		require.Len(t, decoded.Steps[i].Actions, len(plan.Steps[i].Actions))
		for j := range plan.Steps[i].Actions {
			assert.Equal(t, plan.Steps[i].Actions[j].Type, decoded.Steps[i].Actions[j].Type)
			assert.Equal(t,
				plan.Steps[i].Actions[j].Spec.ID().String(),
				decoded.Steps[i].Actions[j].Spec.ID().String())
		}
	}
}

func specIDs(step Step) []string {
	ids := make([]string, len(step.Actions))
	for i, a := range step.Actions {
		ids[i] = a.Spec.ID().String()
	}
	return ids
}
