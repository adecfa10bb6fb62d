package gc

import (
	"context"

	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/cuemby/stride/pkg/storage"
)

// Guard wraps a store so every write announces itself to the collector
// first. Reads, deployment and instance writes pass through: the collector
// only compacts app, pod and root data.
func (c *Collector) Guard(store storage.Store) storage.Store {
	return &guardedStore{inner: store, gc: c}
}

type guardedStore struct {
	inner storage.Store
	gc    *Collector
}

func (s *guardedStore) Apps() storage.AppRepository {
	return &guardedApps{AppRepository: s.inner.Apps(), gc: s.gc}
}

func (s *guardedStore) Pods() storage.PodRepository {
	return &guardedPods{PodRepository: s.inner.Pods(), gc: s.gc}
}

func (s *guardedStore) Roots() storage.RootRepository {
	return &guardedRoots{RootRepository: s.inner.Roots(), gc: s.gc}
}

func (s *guardedStore) Deployments() storage.DeploymentRepository {
	return s.inner.Deployments()
}

func (s *guardedStore) Instances() storage.InstanceRepository {
	return s.inner.Instances()
}

func (s *guardedStore) Close() error {
	return s.inner.Close()
}

// await blocks until the collector admits the store, or ctx ends.
func await(ctx context.Context, gc *Collector, refs ...EntityRef) error {
	gate := gc.BeforeStore(refs...)
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type guardedApps struct {
	storage.AppRepository
	gc *Collector
}

func (r *guardedApps) Store(ctx context.Context, app *spec.AppDefinition) error {
	refs := []EntityRef{
		{Kind: KindApp, ID: app.AppID.String()},
		{Kind: KindApp, ID: app.AppID.String(), Version: app.Version()},
	}
	if err := await(ctx, r.gc, refs...); err != nil {
		return err
	}
	return r.AppRepository.Store(ctx, app)
}

func (r *guardedApps) StoreVersion(ctx context.Context, app *spec.AppDefinition) error {
	ref := EntityRef{Kind: KindApp, ID: app.AppID.String(), Version: app.Version()}
	if err := await(ctx, r.gc, ref); err != nil {
		return err
	}
	return r.AppRepository.StoreVersion(ctx, app)
}

type guardedPods struct {
	storage.PodRepository
	gc *Collector
}

func (r *guardedPods) Store(ctx context.Context, pod *spec.PodDefinition) error {
	refs := []EntityRef{
		{Kind: KindPod, ID: pod.PodID.String()},
		{Kind: KindPod, ID: pod.PodID.String(), Version: pod.Version()},
	}
	if err := await(ctx, r.gc, refs...); err != nil {
		return err
	}
	return r.PodRepository.Store(ctx, pod)
}

func (r *guardedPods) StoreVersion(ctx context.Context, pod *spec.PodDefinition) error {
	ref := EntityRef{Kind: KindPod, ID: pod.PodID.String(), Version: pod.Version()}
	if err := await(ctx, r.gc, ref); err != nil {
		return err
	}
	return r.PodRepository.StoreVersion(ctx, pod)
}

type guardedRoots struct {
	storage.RootRepository
	gc *Collector
}

func (r *guardedRoots) StoreRoot(ctx context.Context, root *group.RootGroup,
	updatedApps []*spec.AppDefinition, deletedAppIDs []pathid.PathID,
	updatedPods []*spec.PodDefinition, deletedPodIDs []pathid.PathID) error {

	refs := []EntityRef{{Kind: KindRoot, Version: root.Version()}}
	for _, app := range updatedApps {
		refs = append(refs,
			EntityRef{Kind: KindApp, ID: app.AppID.String()},
			EntityRef{Kind: KindApp, ID: app.AppID.String(), Version: app.Version()})
	}
	for _, pod := range updatedPods {
		refs = append(refs,
			EntityRef{Kind: KindPod, ID: pod.PodID.String()},
			EntityRef{Kind: KindPod, ID: pod.PodID.String(), Version: pod.Version()})
	}
	if err := await(ctx, r.gc, refs...); err != nil {
		return err
	}
	return r.RootRepository.StoreRoot(ctx, root, updatedApps, deletedAppIDs, updatedPods, deletedPodIDs)
}
