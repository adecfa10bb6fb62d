package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/stride/pkg/deployment"
	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var v0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	boltStore, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { boltStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   boltStore,
	}
}

func testApp(id string, version time.Time) *spec.AppDefinition {
	return &spec.AppDefinition{
		AppID:       pathid.MustParse(id),
		Cmd:         "sleep 1000",
		Instances:   2,
		SpecVersion: spec.NewVersionInfo(version),
	}
}

func TestAppRepository(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			apps := store.Apps()

			app1 := testApp("/prod/web", v0)
			require.NoError(t, apps.Store(ctx, app1))

			app2 := testApp("/prod/web", v0.Add(time.Hour))
			app2.Instances = 5
			require.NoError(t, apps.Store(ctx, app2))

			got, err := apps.Get(ctx, pathid.MustParse("/prod/web"))
			require.NoError(t, err)
			assert.Equal(t, 5, got.InstanceCount())

			old, err := apps.GetVersion(ctx, pathid.MustParse("/prod/web"), v0)
			require.NoError(t, err)
			assert.Equal(t, 2, old.InstanceCount())

			versions, err := apps.Versions(ctx, pathid.MustParse("/prod/web"))
			require.NoError(t, err)
			require.Len(t, versions, 2)
			assert.True(t, versions[0].Before(versions[1]))

			ids, err := apps.IDs(ctx)
			require.NoError(t, err)
			require.Len(t, ids, 1)
			assert.Equal(t, "/prod/web", ids[0].String())

			require.NoError(t, apps.DeleteVersion(ctx, pathid.MustParse("/prod/web"), v0))
			versions, err = apps.Versions(ctx, pathid.MustParse("/prod/web"))
			require.NoError(t, err)
			assert.Len(t, versions, 1)

			require.NoError(t, apps.Delete(ctx, pathid.MustParse("/prod/web")))
			_, err = apps.Get(ctx, pathid.MustParse("/prod/web"))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRootRepository(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			roots := store.Roots()

			_, err := roots.Root(ctx)
			assert.ErrorIs(t, err, ErrNotFound)

			app := testApp("/a", v0)
			root, err := group.NewRootGroup(v0).PutApp(app, v0)
			require.NoError(t, err)

			require.NoError(t, roots.StoreRoot(ctx, root, []*spec.AppDefinition{app}, nil, nil, nil))

			got, err := roots.Root(ctx)
			require.NoError(t, err)
			require.NotNil(t, got.App(pathid.MustParse("/a")))
			assert.Equal(t, "sleep 1000", got.App(pathid.MustParse("/a")).Cmd)

			// The app update travelled with the root write.
			storedApp, err := store.Apps().Get(ctx, pathid.MustParse("/a"))
			require.NoError(t, err)
			assert.Equal(t, 2, storedApp.InstanceCount())

			versions, err := roots.RootVersions(ctx)
			require.NoError(t, err)
			require.Len(t, versions, 1)

			byVersion, err := roots.RootVersion(ctx, versions[0])
			require.NoError(t, err)
			assert.NotNil(t, byVersion.App(pathid.MustParse("/a")))

			require.NoError(t, roots.DeleteRootVersion(ctx, versions[0]))
			versions, err = roots.RootVersions(ctx)
			require.NoError(t, err)
			assert.Empty(t, versions)
		})
	}
}

func TestDeploymentRepository(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deployments := store.Deployments()

			original := group.NewRootGroup(v0)
			target, err := original.PutApp(testApp("/a", v0), v0)
			require.NoError(t, err)

			plan := deployment.NewPlan(original, target, nil, v0)
			require.NoError(t, deployments.Store(ctx, plan))

			all, err := deployments.All(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, plan.ID, all[0].ID)
			assert.Len(t, all[0].Steps, len(plan.Steps))

			require.NoError(t, deployments.Delete(ctx, plan.ID))
			all, err = deployments.All(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestInstanceRepository(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			instances := store.Instances()

			app := testApp("/a", v0)
			inst := instance.NewScheduled(app, v0)
			inst.Tasks["t1"] = &instance.Task{ID: "t1", Condition: instance.ConditionRunning, StartedAt: v0}

			require.NoError(t, instances.Store(ctx, inst))

			got, err := instances.Get(ctx, inst.InstanceID)
			require.NoError(t, err)
			assert.True(t, got.InstanceID.Equal(inst.InstanceID))
			assert.Equal(t, "/a", got.RunSpec.ID().String())
			require.Contains(t, got.Tasks, "t1")
			assert.Equal(t, instance.ConditionRunning, got.Tasks["t1"].Condition)

			all, err := instances.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)

			require.NoError(t, instances.Delete(ctx, inst.InstanceID))
			_, err = instances.Get(ctx, inst.InstanceID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
