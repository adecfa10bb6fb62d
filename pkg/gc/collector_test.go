package gc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/stride/pkg/deployment"
	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/cuemby/stride/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var v0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testApp(id string, version time.Time) *spec.AppDefinition {
	return &spec.AppDefinition{
		AppID:       pathid.MustParse(id),
		Cmd:         "sleep 1000",
		Instances:   1,
		SpecVersion: spec.NewVersionInfo(version),
	}
}

// storeRootWithApp persists a root containing the given apps.
func storeRootWithApp(t *testing.T, store storage.Store, version time.Time, apps ...*spec.AppDefinition) {
	t.Helper()
	root := group.NewRootGroup(version)
	var err error
	for _, app := range apps {
		root, err = root.PutApp(app, version)
		require.NoError(t, err)
	}
	require.NoError(t, store.Roots().StoreRoot(context.Background(), root, apps, nil, nil, nil))
}

func TestScanDeletesUnreferencedApps(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// /live is in the root; /orphan only in the app repo.
	live := testApp("/live", v0)
	storeRootWithApp(t, store, v0, live)
	require.NoError(t, store.Apps().Store(ctx, testApp("/orphan", v0)))

	c := New(store, clock.NewMock(), Config{MaxVersions: 5, MaxRootVersions: 5})
	result := c.scan(ctx)

	assert.True(t, result.apps["/orphan"])
	assert.False(t, result.apps["/live"])
}

func TestScanRetainsRecentVersions(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// Six versions of /app; the current root references the newest.
	var newest *spec.AppDefinition
	for i := 0; i < 6; i++ {
		newest = testApp("/app", v0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.Apps().Store(ctx, newest))
	}
	storeRootWithApp(t, store, v0.Add(6*time.Hour), newest)

	c := New(store, clock.NewMock(), Config{MaxVersions: 3, MaxRootVersions: 5})
	result := c.scan(ctx)

	assert.False(t, result.apps["/app"])
	// Six versions stored, keep the 3 newest, delete the rest.
	deleted := result.appVersions["/app"]
	assert.Len(t, deleted, 3)
}

func TestScanProtectsDeploymentRoots(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// An app only referenced by an in-flight deployment's target survives.
	pending := testApp("/pending", v0)
	target, err := group.NewRootGroup(v0).PutApp(pending, v0)
	require.NoError(t, err)
	plan := deploymentPlan(t, group.NewRootGroup(v0), target)
	require.NoError(t, store.Deployments().Store(ctx, plan))
	require.NoError(t, store.Apps().Store(ctx, pending))

	storeRootWithApp(t, store, v0.Add(time.Hour))

	c := New(store, clock.NewMock(), Config{MaxVersions: 5, MaxRootVersions: 5})
	result := c.scan(ctx)

	assert.False(t, result.apps["/pending"])
}

func TestScanErrorOnAppsSkipsEverything(t *testing.T) {
	// S4: the apps repo fails on IDs; GC reaches ReadyForGC without
	// touching any other repository.
	inner := storage.NewMemoryStore()
	failing := &failingStore{Store: inner}

	c := New(failing, clock.NewMock(), Config{MaxVersions: 5, MaxRootVersions: 5})
	c.Start()
	require.Equal(t, StateReadyForGC, c.State())

	c.RunGC()
	assert.Eventually(t, func() bool { return c.State() == StateReadyForGC }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, failing.otherRepoCalls)
}

func TestStoreDuringScanSurvivesCompaction(t *testing.T) {
	// Invariant: a store completing between RunGC and CompactDone leaves
	// the entity present afterwards.
	store := storage.NewMemoryStore()
	ctx := context.Background()

	orphan := testApp("/orphan", v0)
	require.NoError(t, store.Apps().Store(ctx, orphan))
	storeRootWithApp(t, store, v0)

	c := New(store, clock.NewMock(), Config{MaxVersions: 5, MaxRootVersions: 5})
	guarded := c.Guard(store)

	c.mu.Lock()
	c.beginScanLockedForTest()
	c.mu.Unlock()

	// The scan would delete /orphan, but the user stores it mid-scan.
	require.NoError(t, guarded.Apps().Store(ctx, orphan))

	result := c.scan(ctx)
	require.True(t, result.apps["/orphan"])

	c.scanDone(result)
	assert.Eventually(t, func() bool { return c.State() == StateReadyForGC }, 2*time.Second, 10*time.Millisecond)

	_, err := store.Apps().Get(ctx, orphan.AppID)
	assert.NoError(t, err, "stored-during-scan app must survive compaction")
}

func TestCompactionDeletesAndFinishes(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Apps().Store(ctx, testApp("/orphan", v0)))
	storeRootWithApp(t, store, v0)

	c := New(store, clock.NewMock(), Config{MaxVersions: 5, MaxRootVersions: 5})
	c.Start()
	c.RunGC()

	assert.Eventually(t, func() bool { return c.State() == StateReadyForGC }, 2*time.Second, 10*time.Millisecond)

	_, err := store.Apps().Get(ctx, pathid.MustParse("/orphan"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunGCWhileScanningCoalesces(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store, clock.NewMock(), Config{MaxVersions: 5, MaxRootVersions: 5})

	c.mu.Lock()
	c.beginScanLockedForTest()
	c.mu.Unlock()
	require.Equal(t, StateScanning, c.State())

	c.RunGC()
	c.mu.Lock()
	requested := c.gcRequested
	c.mu.Unlock()
	assert.True(t, requested)

	// An empty scan result with a pending request starts a fresh scan.
	c.scanDone(newDeletionSet())
	assert.Equal(t, StateScanning, c.State())
}

func TestRestingTimerMovesToReady(t *testing.T) {
	mock := clock.NewMock()
	c := New(storage.NewMemoryStore(), mock, Config{ScanInterval: time.Minute, MaxVersions: 5, MaxRootVersions: 5})
	c.Start()
	require.Equal(t, StateResting, c.State())

	mock.Add(2 * time.Minute)
	assert.Eventually(t, func() bool { return c.State() == StateReadyForGC }, 2*time.Second, 10*time.Millisecond)
}

func TestBlockedStoreReleasedAtCompactDone(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store, clock.NewMock(), Config{MaxVersions: 5, MaxRootVersions: 5})

	set := newDeletionSet()
	set.apps["/doomed"] = true

	c.mu.Lock()
	c.state = StateCompacting
	c.deletion = set
	c.mu.Unlock()

	gate := c.BeforeStore(EntityRef{Kind: KindApp, ID: "/doomed"})
	require.NotNil(t, gate)

	// A store outside the deletion set passes immediately.
	assert.Nil(t, c.BeforeStore(EntityRef{Kind: KindApp, ID: "/fine"}))

	c.compactDone()

	select {
	case <-gate:
	case <-time.After(time.Second):
		t.Fatal("blocked store was not released at CompactDone")
	}
	assert.Equal(t, StateReadyForGC, c.State())
}

// beginScanLockedForTest enters Scanning without spawning the scan
// goroutine, so tests can drive the scan themselves.
func (c *Collector) beginScanLockedForTest() {
	c.state = StateScanning
	c.gcRequested = false
	c.updated = map[string]bool{}
}

// failingStore fails every app listing and counts calls into other repos.
type failingStore struct {
	storage.Store
	otherRepoCalls int
}

func (s *failingStore) Apps() storage.AppRepository {
	return &failingApps{inner: s.Store.Apps()}
}

func (s *failingStore) Pods() storage.PodRepository {
	s.otherRepoCalls++
	return s.Store.Pods()
}

func (s *failingStore) Roots() storage.RootRepository {
	s.otherRepoCalls++
	return s.Store.Roots()
}

func (s *failingStore) Deployments() storage.DeploymentRepository {
	s.otherRepoCalls++
	return s.Store.Deployments()
}

type failingApps struct {
	inner storage.AppRepository
}

func (r *failingApps) Store(ctx context.Context, app *spec.AppDefinition) error {
	return r.inner.Store(ctx, app)
}

func (r *failingApps) StoreVersion(ctx context.Context, app *spec.AppDefinition) error {
	return r.inner.StoreVersion(ctx, app)
}

func (r *failingApps) Get(ctx context.Context, id pathid.PathID) (*spec.AppDefinition, error) {
	return r.inner.Get(ctx, id)
}

func (r *failingApps) GetVersion(ctx context.Context, id pathid.PathID, version time.Time) (*spec.AppDefinition, error) {
	return r.inner.GetVersion(ctx, id, version)
}

func (r *failingApps) IDs(ctx context.Context) ([]pathid.PathID, error) {
	return nil, errors.New("boom")
}

func (r *failingApps) Versions(ctx context.Context, id pathid.PathID) ([]time.Time, error) {
	return r.inner.Versions(ctx, id)
}

func (r *failingApps) Delete(ctx context.Context, id pathid.PathID) error {
	return r.inner.Delete(ctx, id)
}

func (r *failingApps) DeleteVersion(ctx context.Context, id pathid.PathID, version time.Time) error {
	return r.inner.DeleteVersion(ctx, id, version)
}

func deploymentPlan(t *testing.T, original, target *group.RootGroup) *deployment.Plan {
	t.Helper()
	return deployment.NewPlan(original, target, nil, v0)
}
