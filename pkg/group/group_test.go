package group

import (
	"testing"
	"time"

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

func TestPutAppCreatesIntermediateGroups(t *testing.T) {
	root, err := NewRootGroup(v0).PutApp(app("/prod/db/primary", 1), v0)
	require.NoError(t, err)

	assert.NotNil(t, root.GroupAt(pathid.MustParse("/prod")))
	assert.NotNil(t, root.GroupAt(pathid.MustParse("/prod/db")))
	assert.NotNil(t, root.App(pathid.MustParse("/prod/db/primary")))
	assert.Equal(t, v0, root.App(pathid.MustParse("/prod/db/primary")).Version())
}

func TestPutAppDoesNotMutateOriginalRoot(t *testing.T) {
	empty := NewRootGroup(v0)

	updated, err := empty.PutApp(app("/a", 1), v0)
	require.NoError(t, err)

	assert.Nil(t, empty.App(pathid.MustParse("/a")))
	assert.NotNil(t, updated.App(pathid.MustParse("/a")))
}

func TestGroupAppIDCollision(t *testing.T) {
	root, err := NewRootGroup(v0).PutApp(app("/a/b", 1), v0)
	require.NoError(t, err)

	// /a is a group, an app there must be rejected.
	_, err = root.PutApp(app("/a", 1), v0)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	// /a/b is an app, a group beneath it must be rejected.
	_, err = root.PutApp(app("/a/b/c", 1), v0)
	assert.ErrorAs(t, err, &conflict)

	// A pod may not take an app's id.
	_, err = root.PutPod(&spec.PodDefinition{PodID: pathid.MustParse("/a/b")}, v0)
	assert.ErrorAs(t, err, &conflict)
}

func TestRoleInheritanceUnderEnforce(t *testing.T) {
	prod := NewGroup(pathid.MustParse("/prod"), v0)
	prod.EnforceRole = true

	root, err := NewRootGroup(v0).PutGroup(prod, v0)
	require.NoError(t, err)

	root, err = root.PutApp(app("/prod/sleep/goodnight", 1), v0)
	require.NoError(t, err)

	got := root.App(pathid.MustParse("/prod/sleep/goodnight"))
	require.NotNil(t, got)
	assert.Equal(t, "prod", got.Role())
}

func TestEnforcedRoleMismatchRejected(t *testing.T) {
	prod := NewGroup(pathid.MustParse("/prod"), v0)
	prod.EnforceRole = true
	root, err := NewRootGroup(v0).PutGroup(prod, v0)
	require.NoError(t, err)

	bad := app("/prod/web", 1)
	bad.ResourceRole = "staging"

	_, err = root.PutApp(bad, v0)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestEnforceToggleWithSpecChangeRejected(t *testing.T) {
	root, err := NewRootGroup(v0).PutApp(app("/prod/web", 1), v0)
	require.NoError(t, err)

	_, err = root.UpdateMany(v0,
		SetEnforceRole(pathid.MustParse("/prod"), true),
		PutApp(app("/prod/web", 2)),
	)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reason, "enforceRole")

	// The toggle alone is fine.
	updated, err := root.SetEnforceRole(pathid.MustParse("/prod"), true, v0)
	require.NoError(t, err)
	assert.True(t, updated.GroupAt(pathid.MustParse("/prod")).EnforceRole)
}

func TestRelativeIDResolvesAgainstTargetGroup(t *testing.T) {
	root, err := NewRootGroup(v0).UpdateMany(v0,
		PutApp(app("a", 1)).Within(pathid.MustParse("/parent")),
	)
	require.NoError(t, err)

	assert.NotNil(t, root.App(pathid.MustParse("/parent/a")))
	assert.Nil(t, root.App(pathid.MustParse("/a")))
}

func TestDependencyCycleRejected(t *testing.T) {
	a := app("/a", 1)
	a.DependsOn = []pathid.PathID{pathid.MustParse("/b")}
	b := app("/b", 1)
	b.DependsOn = []pathid.PathID{pathid.MustParse("/a")}

	_, err := NewRootGroup(v0).UpdateMany(v0, PutApp(a), PutApp(b))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reason, "cycle")
}

func TestDanglingDependencyAllowed(t *testing.T) {
	a := app("/a", 1)
	a.DependsOn = []pathid.PathID{pathid.MustParse("/not-there")}

	_, err := NewRootGroup(v0).PutApp(a, v0)
	assert.NoError(t, err)
}

func TestRemoveOperations(t *testing.T) {
	root, err := NewRootGroup(v0).UpdateMany(v0,
		PutApp(app("/a/x", 1)),
		PutApp(app("/a/y", 1)),
	)
	require.NoError(t, err)

	root, err = root.RemoveApp(pathid.MustParse("/a/x"), v0)
	require.NoError(t, err)
	assert.Nil(t, root.App(pathid.MustParse("/a/x")))
	assert.NotNil(t, root.App(pathid.MustParse("/a/y")))

	_, err = root.RemoveApp(pathid.MustParse("/a/x"), v0)
	assert.Error(t, err)

	root, err = root.RemoveGroup(pathid.MustParse("/a"), v0)
	require.NoError(t, err)
	assert.Nil(t, root.GroupAt(pathid.MustParse("/a")))
	assert.Empty(t, root.RunSpecs())
}

func TestRunSpecsSorted(t *testing.T) {
	root, err := NewRootGroup(v0).UpdateMany(v0,
		PutApp(app("/z", 1)),
		PutApp(app("/a", 1)),
		PutPod(&spec.PodDefinition{PodID: pathid.MustParse("/m"), Containers: []spec.Container{{Name: "c"}}}),
	)
	require.NoError(t, err)

	specs := root.RunSpecs()
	require.Len(t, specs, 3)
	assert.Equal(t, "/a", specs[0].ID().String())
	assert.Equal(t, "/m", specs[1].ID().String())
	assert.Equal(t, "/z", specs[2].ID().String())
}

func TestLongestPathLayering(t *testing.T) {
	// db <- api <- web, cache independent.
	db := app("/db", 1)
	api := app("/api", 1)
	api.DependsOn = []pathid.PathID{pathid.MustParse("/db")}
	web := app("/web", 1)
	web.DependsOn = []pathid.PathID{pathid.MustParse("/api")}
	cache := app("/cache", 1)

	root, err := NewRootGroup(v0).UpdateMany(v0, PutApp(db), PutApp(api), PutApp(web), PutApp(cache))
	require.NoError(t, err)

	g := root.DependencyGraph()
	assert.Equal(t, 0, g.LongestPath(pathid.MustParse("/db")))
	assert.Equal(t, 0, g.LongestPath(pathid.MustParse("/cache")))
	assert.Equal(t, 1, g.LongestPath(pathid.MustParse("/api")))
	assert.Equal(t, 2, g.LongestPath(pathid.MustParse("/web")))
	assert.False(t, g.HasCycle())
}
