package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/stride/pkg/deployment"
	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
)

// MemoryStore implements Store with in-process maps. Single-key operations
// are atomic under one mutex; used by tests and single-node dry runs.
type MemoryStore struct {
	mu sync.RWMutex

	apps        map[string]*spec.AppDefinition
	appVersions map[string]map[time.Time]*spec.AppDefinition
	pods        map[string]*spec.PodDefinition
	podVersions map[string]map[time.Time]*spec.PodDefinition

	root         *group.RootGroup
	rootVersions map[time.Time]*group.RootGroup

	deployments map[string]*deployment.Plan
	instances   map[string]*instance.Instance
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:         map[string]*spec.AppDefinition{},
		appVersions:  map[string]map[time.Time]*spec.AppDefinition{},
		pods:         map[string]*spec.PodDefinition{},
		podVersions:  map[string]map[time.Time]*spec.PodDefinition{},
		rootVersions: map[time.Time]*group.RootGroup{},
		deployments:  map[string]*deployment.Plan{},
		instances:    map[string]*instance.Instance{},
	}
}

func (s *MemoryStore) Apps() AppRepository { return &memoryApps{s: s} }

func (s *MemoryStore) Pods() PodRepository { return &memoryPods{s: s} }

func (s *MemoryStore) Roots() RootRepository { return &memoryRoots{s: s} }

func (s *MemoryStore) Deployments() DeploymentRepository { return &memoryDeployments{s: s} }

func (s *MemoryStore) Instances() InstanceRepository { return &memoryInstances{s: s} }

func (s *MemoryStore) Close() error { return nil }

type memoryApps struct {
	s *MemoryStore
}

func (r *memoryApps) Store(ctx context.Context, app *spec.AppDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.apps[app.AppID.String()] = app
	r.storeVersionLocked(app)
	return nil
}

func (r *memoryApps) StoreVersion(ctx context.Context, app *spec.AppDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.storeVersionLocked(app)
	return nil
}

func (r *memoryApps) storeVersionLocked(app *spec.AppDefinition) {
	key := app.AppID.String()
	if r.s.appVersions[key] == nil {
		r.s.appVersions[key] = map[time.Time]*spec.AppDefinition{}
	}
	r.s.appVersions[key][app.Version().UTC()] = app
}

func (r *memoryApps) Get(ctx context.Context, id pathid.PathID) (*spec.AppDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	app, ok := r.s.apps[id.String()]
	if !ok {
		return nil, fmt.Errorf("app %s: %w", id, ErrNotFound)
	}
	return app, nil
}

func (r *memoryApps) GetVersion(ctx context.Context, id pathid.PathID, version time.Time) (*spec.AppDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	app, ok := r.s.appVersions[id.String()][version.UTC()]
	if !ok {
		return nil, fmt.Errorf("app %s version %s: %w", id, version, ErrNotFound)
	}
	return app, nil
}

func (r *memoryApps) IDs(ctx context.Context) ([]pathid.PathID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []pathid.PathID
	for _, app := range r.s.apps {
		ids = append(ids, app.AppID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids, nil
}

func (r *memoryApps) Versions(ctx context.Context, id pathid.PathID) ([]time.Time, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sortedVersionTimes(r.s.appVersions[id.String()]), nil
}

func (r *memoryApps) Delete(ctx context.Context, id pathid.PathID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.apps, id.String())
	delete(r.s.appVersions, id.String())
	return nil
}

func (r *memoryApps) DeleteVersion(ctx context.Context, id pathid.PathID, version time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.appVersions[id.String()], version.UTC())
	return nil
}

type memoryPods struct {
	s *MemoryStore
}

func (r *memoryPods) Store(ctx context.Context, pod *spec.PodDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.pods[pod.PodID.String()] = pod
	r.storeVersionLocked(pod)
	return nil
}

func (r *memoryPods) StoreVersion(ctx context.Context, pod *spec.PodDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.storeVersionLocked(pod)
	return nil
}

func (r *memoryPods) storeVersionLocked(pod *spec.PodDefinition) {
	key := pod.PodID.String()
	if r.s.podVersions[key] == nil {
		r.s.podVersions[key] = map[time.Time]*spec.PodDefinition{}
	}
	r.s.podVersions[key][pod.Version().UTC()] = pod
}

func (r *memoryPods) Get(ctx context.Context, id pathid.PathID) (*spec.PodDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	pod, ok := r.s.pods[id.String()]
	if !ok {
		return nil, fmt.Errorf("pod %s: %w", id, ErrNotFound)
	}
	return pod, nil
}

func (r *memoryPods) GetVersion(ctx context.Context, id pathid.PathID, version time.Time) (*spec.PodDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	pod, ok := r.s.podVersions[id.String()][version.UTC()]
	if !ok {
		return nil, fmt.Errorf("pod %s version %s: %w", id, version, ErrNotFound)
	}
	return pod, nil
}

func (r *memoryPods) IDs(ctx context.Context) ([]pathid.PathID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []pathid.PathID
	for _, pod := range r.s.pods {
		ids = append(ids, pod.PodID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids, nil
}

func (r *memoryPods) Versions(ctx context.Context, id pathid.PathID) ([]time.Time, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sortedVersionTimes(r.s.podVersions[id.String()]), nil
}

func (r *memoryPods) Delete(ctx context.Context, id pathid.PathID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.pods, id.String())
	delete(r.s.podVersions, id.String())
	return nil
}

func (r *memoryPods) DeleteVersion(ctx context.Context, id pathid.PathID, version time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.podVersions[id.String()], version.UTC())
	return nil
}

type memoryRoots struct {
	s *MemoryStore
}

func (r *memoryRoots) Root(ctx context.Context) (*group.RootGroup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.root == nil {
		return nil, fmt.Errorf("root group: %w", ErrNotFound)
	}
	return r.s.root, nil
}

func (r *memoryRoots) RootVersions(ctx context.Context) ([]time.Time, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []time.Time
	for t := range r.s.rootVersions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *memoryRoots) RootVersion(ctx context.Context, version time.Time) (*group.RootGroup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	root, ok := r.s.rootVersions[version.UTC()]
	if !ok {
		return nil, fmt.Errorf("root version %s: %w", version, ErrNotFound)
	}
	return root, nil
}

func (r *memoryRoots) StoreRoot(ctx context.Context, root *group.RootGroup,
	updatedApps []*spec.AppDefinition, deletedAppIDs []pathid.PathID,
	updatedPods []*spec.PodDefinition, deletedPodIDs []pathid.PathID) error {

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.root = root
	r.s.rootVersions[root.Version().UTC()] = root

	apps := &memoryApps{s: r.s}
	for _, app := range updatedApps {
		r.s.apps[app.AppID.String()] = app
		apps.storeVersionLocked(app)
	}
	for _, id := range deletedAppIDs {
		delete(r.s.apps, id.String())
	}

	pods := &memoryPods{s: r.s}
	for _, pod := range updatedPods {
		r.s.pods[pod.PodID.String()] = pod
		pods.storeVersionLocked(pod)
	}
	for _, id := range deletedPodIDs {
		delete(r.s.pods, id.String())
	}
	return nil
}

func (r *memoryRoots) DeleteRootVersion(ctx context.Context, version time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.rootVersions, version.UTC())
	return nil
}

type memoryDeployments struct {
	s *MemoryStore
}

func (r *memoryDeployments) Store(ctx context.Context, plan *deployment.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deployments[plan.ID] = plan
	return nil
}

func (r *memoryDeployments) Delete(ctx context.Context, planID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.deployments, planID)
	return nil
}

func (r *memoryDeployments) All(ctx context.Context) ([]*deployment.Plan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var plans []*deployment.Plan
	for _, plan := range r.s.deployments {
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}

type memoryInstances struct {
	s *MemoryStore
}

func (r *memoryInstances) Store(ctx context.Context, i *instance.Instance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.instances[i.InstanceID.String()] = i.Copy()
	return nil
}

func (r *memoryInstances) Get(ctx context.Context, id instance.ID) (*instance.Instance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	i, ok := r.s.instances[id.String()]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return i.Copy(), nil
}

func (r *memoryInstances) All(ctx context.Context) ([]*instance.Instance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*instance.Instance
	for _, i := range r.s.instances {
		out = append(out, i.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstanceID.String() < out[j].InstanceID.String()
	})
	return out, nil
}

func (r *memoryInstances) Delete(ctx context.Context, id instance.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.instances, id.String())
	return nil
}

func sortedVersionTimes[V any](versions map[time.Time]V) []time.Time {
	var out []time.Time
	for t := range versions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
