package gc

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/metrics"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/storage"
)

// deletionSet is the outcome of a scan.
type deletionSet struct {
	apps         map[string]bool
	appVersions  map[string]map[int64]bool
	pods         map[string]bool
	podVersions  map[string]map[int64]bool
	rootVersions map[int64]bool

	// versionTimes maps unix nanos back to the original timestamps for the
	// delete calls.
	versionTimes map[int64]time.Time
}

func newDeletionSet() *deletionSet {
	return &deletionSet{
		apps:         map[string]bool{},
		appVersions:  map[string]map[int64]bool{},
		pods:         map[string]bool{},
		podVersions:  map[string]map[int64]bool{},
		rootVersions: map[int64]bool{},
		versionTimes: map[int64]time.Time{},
	}
}

func (d *deletionSet) empty() bool {
	if len(d.apps) > 0 || len(d.pods) > 0 || len(d.rootVersions) > 0 {
		return false
	}
	for _, versions := range d.appVersions {
		if len(versions) > 0 {
			return false
		}
	}
	for _, versions := range d.podVersions {
		if len(versions) > 0 {
			return false
		}
	}
	return true
}

// subtract removes everything the user stored during the scan.
func (d *deletionSet) subtract(updated map[string]bool) {
	for id := range d.apps {
		if updated[EntityRef{Kind: KindApp, ID: id}.key()] {
			delete(d.apps, id)
		}
	}
	for id, versions := range d.appVersions {
		for nanos := range versions {
			if updated[EntityRef{Kind: KindApp, ID: id, Version: d.versionTimes[nanos]}.key()] {
				delete(versions, nanos)
			}
		}
	}
	for id := range d.pods {
		if updated[EntityRef{Kind: KindPod, ID: id}.key()] {
			delete(d.pods, id)
		}
	}
	for id, versions := range d.podVersions {
		for nanos := range versions {
			if updated[EntityRef{Kind: KindPod, ID: id, Version: d.versionTimes[nanos]}.key()] {
				delete(versions, nanos)
			}
		}
	}
	for nanos := range d.rootVersions {
		if updated[EntityRef{Kind: KindRoot, Version: d.versionTimes[nanos]}.key()] {
			delete(d.rootVersions, nanos)
		}
	}
}

func (d *deletionSet) contains(ref EntityRef) bool {
	nanos := ref.Version.UTC().UnixNano()
	switch ref.Kind {
	case KindApp:
		if ref.Version.IsZero() {
			return d.apps[ref.ID]
		}
		return d.apps[ref.ID] || d.appVersions[ref.ID][nanos]
	case KindPod:
		if ref.Version.IsZero() {
			return d.pods[ref.ID]
		}
		return d.pods[ref.ID] || d.podVersions[ref.ID][nanos]
	case KindRoot:
		return d.rootVersions[nanos]
	}
	return false
}

// references collects everything pinned by live roots and deployments.
type references struct {
	appIDs      map[string]bool
	appVersions map[string]map[int64]bool
	podIDs      map[string]bool
	podVersions map[string]map[int64]bool
}

func newReferences() *references {
	return &references{
		appIDs:      map[string]bool{},
		appVersions: map[string]map[int64]bool{},
		podIDs:      map[string]bool{},
		podVersions: map[string]map[int64]bool{},
	}
}

func (r *references) addRoot(root *group.RootGroup) {
	if root == nil {
		return
	}
	for _, app := range root.Apps() {
		id := app.AppID.String()
		r.appIDs[id] = true
		if r.appVersions[id] == nil {
			r.appVersions[id] = map[int64]bool{}
		}
		r.appVersions[id][app.Version().UTC().UnixNano()] = true
	}
	for _, pod := range root.Pods() {
		id := pod.PodID.String()
		r.podIDs[id] = true
		if r.podVersions[id] == nil {
			r.podVersions[id] = map[int64]bool{}
		}
		r.podVersions[id][pod.Version().UTC().UnixNano()] = true
	}
}

// scan computes the deletion set. Any repository error ends the scan with
// an empty result: garbage collection never crashes the process and deletes
// nothing it is not sure about.
func (c *Collector) scan(ctx context.Context) *deletionSet {
	result := newDeletionSet()

	appIDs, err := c.store.Apps().IDs(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("app scan failed, skipping collection")
		return newDeletionSet()
	}
	podIDs, err := c.store.Pods().IDs(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("pod scan failed, skipping collection")
		return newDeletionSet()
	}

	rootVersions, err := c.store.Roots().RootVersions(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("root version scan failed, skipping collection")
		return newDeletionSet()
	}
	sort.Slice(rootVersions, func(i, j int) bool { return rootVersions[i].After(rootVersions[j]) })

	protected := rootVersions
	if len(protected) > c.cfg.MaxRootVersions {
		protected = rootVersions[:c.cfg.MaxRootVersions]
	}

	refs := newReferences()

	currentRoot, err := c.store.Roots().Root(ctx)
	if err != nil && !isNotFound(err) {
		c.logger.Warn().Err(err).Msg("current root load failed, skipping collection")
		return newDeletionSet()
	}
	refs.addRoot(currentRoot)

	for _, version := range protected {
		root, err := c.store.Roots().RootVersion(ctx, version)
		if err != nil {
			c.logger.Warn().Err(err).Time("version", version).Msg("root version load failed, skipping collection")
			return newDeletionSet()
		}
		refs.addRoot(root)
	}

	plans, err := c.store.Deployments().All(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("deployment scan failed, skipping collection")
		return newDeletionSet()
	}
	deploymentRoots := map[int64]bool{}
	for _, plan := range plans {
		refs.addRoot(plan.Original)
		refs.addRoot(plan.Target)
		deploymentRoots[plan.Original.Version().UTC().UnixNano()] = true
		deploymentRoots[plan.Target.Version().UTC().UnixNano()] = true
	}

	// Old root versions go unless an in-flight deployment still points at
	// them.
	for _, version := range rootVersions[len(protected):] {
		nanos := version.UTC().UnixNano()
		if deploymentRoots[nanos] {
			continue
		}
		result.rootVersions[nanos] = true
		result.versionTimes[nanos] = version
	}

	if err := c.scanRunSpecs(ctx, appIDs, refs.appIDs, refs.appVersions, result.apps, result.appVersions, result, true); err != nil {
		c.logger.Warn().Err(err).Msg("app version scan failed, skipping collection")
		return newDeletionSet()
	}
	if err := c.scanRunSpecs(ctx, podIDs, refs.podIDs, refs.podVersions, result.pods, result.podVersions, result, false); err != nil {
		c.logger.Warn().Err(err).Msg("pod version scan failed, skipping collection")
		return newDeletionSet()
	}

	return result
}

// scanRunSpecs fills the deletion sets for one run-spec kind: unreferenced
// specs go entirely; referenced ones keep their referenced versions plus
// the newest MaxVersions.
func (c *Collector) scanRunSpecs(ctx context.Context, ids []pathid.PathID,
	referencedIDs map[string]bool, referencedVersions map[string]map[int64]bool,
	deleteIDs map[string]bool, deleteVersions map[string]map[int64]bool,
	result *deletionSet, isApp bool) error {

	for _, id := range ids {
		key := id.String()
		if !referencedIDs[key] {
			deleteIDs[key] = true
			continue
		}

		var versions []time.Time
		var err error
		if isApp {
			versions, err = c.store.Apps().Versions(ctx, id)
		} else {
			versions, err = c.store.Pods().Versions(ctx, id)
		}
		if err != nil {
			return err
		}

		sort.Slice(versions, func(i, j int) bool { return versions[i].After(versions[j]) })
		if len(versions) <= c.cfg.MaxVersions {
			continue
		}
		for _, version := range versions[c.cfg.MaxVersions:] {
			nanos := version.UTC().UnixNano()
			if referencedVersions[key][nanos] {
				continue
			}
			if deleteVersions[key] == nil {
				deleteVersions[key] = map[int64]bool{}
			}
			deleteVersions[key][nanos] = true
			result.versionTimes[nanos] = version
		}
	}
	return nil
}

// compact deletes everything in the set. Errors are logged and swallowed;
// CompactDone is emitted unconditionally by the caller.
func (c *Collector) compact(ctx context.Context, result *deletionSet) {
	for id := range result.apps {
		if err := c.deleteApp(ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("app", id).Msg("failed to delete app")
		} else {
			metrics.GCDeletionsTotal.WithLabelValues(string(KindApp)).Inc()
		}
	}
	for id, versions := range result.appVersions {
		for nanos := range versions {
			if err := c.deleteAppVersion(ctx, id, result.versionTimes[nanos]); err != nil {
				c.logger.Warn().Err(err).Str("app", id).Msg("failed to delete app version")
			} else {
				metrics.GCDeletionsTotal.WithLabelValues(string(KindApp)).Inc()
			}
		}
	}
	for id := range result.pods {
		if err := c.deletePod(ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("pod", id).Msg("failed to delete pod")
		} else {
			metrics.GCDeletionsTotal.WithLabelValues(string(KindPod)).Inc()
		}
	}
	for id, versions := range result.podVersions {
		for nanos := range versions {
			if err := c.deletePodVersion(ctx, id, result.versionTimes[nanos]); err != nil {
				c.logger.Warn().Err(err).Str("pod", id).Msg("failed to delete pod version")
			} else {
				metrics.GCDeletionsTotal.WithLabelValues(string(KindPod)).Inc()
			}
		}
	}
	for nanos := range result.rootVersions {
		if err := c.store.Roots().DeleteRootVersion(ctx, result.versionTimes[nanos]); err != nil {
			c.logger.Warn().Err(err).Msg("failed to delete root version")
		} else {
			metrics.GCDeletionsTotal.WithLabelValues(string(KindRoot)).Inc()
		}
	}
}

func (c *Collector) deleteApp(ctx context.Context, id string) error {
	parsed, err := pathid.ParsePath(id)
	if err != nil {
		return err
	}
	return c.store.Apps().Delete(ctx, parsed)
}

func (c *Collector) deleteAppVersion(ctx context.Context, id string, version time.Time) error {
	parsed, err := pathid.ParsePath(id)
	if err != nil {
		return err
	}
	return c.store.Apps().DeleteVersion(ctx, parsed, version)
}

func (c *Collector) deletePod(ctx context.Context, id string) error {
	parsed, err := pathid.ParsePath(id)
	if err != nil {
		return err
	}
	return c.store.Pods().Delete(ctx, parsed)
}

func (c *Collector) deletePodVersion(ctx context.Context, id string, version time.Time) error {
	parsed, err := pathid.ParsePath(id)
	if err != nil {
		return err
	}
	return c.store.Pods().DeleteVersion(ctx, parsed, version)
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
