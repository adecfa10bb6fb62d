package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/stride/pkg/deployment"
	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketApps         = []byte("apps")
	bucketAppVersions  = []byte("app_versions")
	bucketPods         = []byte("pods")
	bucketPodVersions  = []byte("pod_versions")
	bucketRoots        = []byte("roots")
	bucketRootVersions = []byte("root_versions")
	bucketDeployments  = []byte("deployments")
	bucketInstances    = []byte("instances")
)

var rootCurrentKey = []byte("current")

// versionKeyFormat is fixed-width so version keys sort chronologically.
const versionKeyFormat = "2006-01-02T15:04:05.000000000Z"

func versionKey(t time.Time) []byte {
	return []byte(t.UTC().Format(versionKeyFormat))
}

func parseVersionKey(k []byte) (time.Time, error) {
	return time.Parse(versionKeyFormat, string(k))
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "stride.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketApps,
			bucketAppVersions,
			bucketPods,
			bucketPodVersions,
			bucketRoots,
			bucketRootVersions,
			bucketDeployments,
			bucketInstances,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Apps() AppRepository { return &boltApps{db: s.db} }

func (s *BoltStore) Pods() PodRepository { return &boltPods{db: s.db} }

func (s *BoltStore) Roots() RootRepository { return &boltRoots{db: s.db} }

func (s *BoltStore) Deployments() DeploymentRepository { return &boltDeployments{db: s.db} }

func (s *BoltStore) Instances() InstanceRepository { return &boltInstances{db: s.db} }

// versioned bucket helpers shared by the app and pod repositories

func storeVersioned(tx *bolt.Tx, current, versions []byte, id pathid.PathID, version time.Time, data []byte, withCurrent bool) error {
	if withCurrent {
		if err := tx.Bucket(current).Put([]byte(id.Safe()), data); err != nil {
			return err
		}
	}
	vb, err := tx.Bucket(versions).CreateBucketIfNotExists([]byte(id.Safe()))
	if err != nil {
		return err
	}
	return vb.Put(versionKey(version), data)
}

func getCurrent(tx *bolt.Tx, current []byte, id pathid.PathID) []byte {
	return tx.Bucket(current).Get([]byte(id.Safe()))
}

func getVersioned(tx *bolt.Tx, versions []byte, id pathid.PathID, version time.Time) []byte {
	vb := tx.Bucket(versions).Bucket([]byte(id.Safe()))
	if vb == nil {
		return nil
	}
	return vb.Get(versionKey(version))
}

func listIDs(tx *bolt.Tx, current []byte) ([]pathid.PathID, error) {
	var ids []pathid.PathID
	err := tx.Bucket(current).ForEach(func(k, v []byte) error {
		id, err := pathid.ParseSafe(string(k))
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

func listVersions(tx *bolt.Tx, versions []byte, id pathid.PathID) ([]time.Time, error) {
	vb := tx.Bucket(versions).Bucket([]byte(id.Safe()))
	if vb == nil {
		return nil, nil
	}
	var out []time.Time
	err := vb.ForEach(func(k, v []byte) error {
		t, err := parseVersionKey(k)
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

func deleteVersioned(tx *bolt.Tx, current, versions []byte, id pathid.PathID) error {
	if err := tx.Bucket(current).Delete([]byte(id.Safe())); err != nil {
		return err
	}
	if tx.Bucket(versions).Bucket([]byte(id.Safe())) == nil {
		return nil
	}
	return tx.Bucket(versions).DeleteBucket([]byte(id.Safe()))
}

func deleteVersion(tx *bolt.Tx, versions []byte, id pathid.PathID, version time.Time) error {
	vb := tx.Bucket(versions).Bucket([]byte(id.Safe()))
	if vb == nil {
		return nil
	}
	return vb.Delete(versionKey(version))
}

// App repository

type boltApps struct {
	db *bolt.DB
}

func (r *boltApps) Store(ctx context.Context, app *spec.AppDefinition) error {
	data, err := json.Marshal(app)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return storeVersioned(tx, bucketApps, bucketAppVersions, app.AppID, app.Version(), data, true)
	})
}

func (r *boltApps) StoreVersion(ctx context.Context, app *spec.AppDefinition) error {
	data, err := json.Marshal(app)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return storeVersioned(tx, bucketApps, bucketAppVersions, app.AppID, app.Version(), data, false)
	})
}

func (r *boltApps) Get(ctx context.Context, id pathid.PathID) (*spec.AppDefinition, error) {
	var app spec.AppDefinition
	err := r.db.View(func(tx *bolt.Tx) error {
		data := getCurrent(tx, bucketApps, id)
		if data == nil {
			return fmt.Errorf("app %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *boltApps) GetVersion(ctx context.Context, id pathid.PathID, version time.Time) (*spec.AppDefinition, error) {
	var app spec.AppDefinition
	err := r.db.View(func(tx *bolt.Tx) error {
		data := getVersioned(tx, bucketAppVersions, id, version)
		if data == nil {
			return fmt.Errorf("app %s version %s: %w", id, version, ErrNotFound)
		}
		return json.Unmarshal(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *boltApps) IDs(ctx context.Context) ([]pathid.PathID, error) {
	var ids []pathid.PathID
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		ids, err = listIDs(tx, bucketApps)
		return err
	})
	return ids, err
}

func (r *boltApps) Versions(ctx context.Context, id pathid.PathID) ([]time.Time, error) {
	var versions []time.Time
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		versions, err = listVersions(tx, bucketAppVersions, id)
		return err
	})
	return versions, err
}

func (r *boltApps) Delete(ctx context.Context, id pathid.PathID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return deleteVersioned(tx, bucketApps, bucketAppVersions, id)
	})
}

func (r *boltApps) DeleteVersion(ctx context.Context, id pathid.PathID, version time.Time) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return deleteVersion(tx, bucketAppVersions, id, version)
	})
}

// Pod repository

type boltPods struct {
	db *bolt.DB
}

func (r *boltPods) Store(ctx context.Context, pod *spec.PodDefinition) error {
	data, err := json.Marshal(pod)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return storeVersioned(tx, bucketPods, bucketPodVersions, pod.PodID, pod.Version(), data, true)
	})
}

func (r *boltPods) StoreVersion(ctx context.Context, pod *spec.PodDefinition) error {
	data, err := json.Marshal(pod)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return storeVersioned(tx, bucketPods, bucketPodVersions, pod.PodID, pod.Version(), data, false)
	})
}

func (r *boltPods) Get(ctx context.Context, id pathid.PathID) (*spec.PodDefinition, error) {
	var pod spec.PodDefinition
	err := r.db.View(func(tx *bolt.Tx) error {
		data := getCurrent(tx, bucketPods, id)
		if data == nil {
			return fmt.Errorf("pod %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &pod)
	})
	if err != nil {
		return nil, err
	}
	return &pod, nil
}

func (r *boltPods) GetVersion(ctx context.Context, id pathid.PathID, version time.Time) (*spec.PodDefinition, error) {
	var pod spec.PodDefinition
	err := r.db.View(func(tx *bolt.Tx) error {
		data := getVersioned(tx, bucketPodVersions, id, version)
		if data == nil {
			return fmt.Errorf("pod %s version %s: %w", id, version, ErrNotFound)
		}
		return json.Unmarshal(data, &pod)
	})
	if err != nil {
		return nil, err
	}
	return &pod, nil
}

func (r *boltPods) IDs(ctx context.Context) ([]pathid.PathID, error) {
	var ids []pathid.PathID
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		ids, err = listIDs(tx, bucketPods)
		return err
	})
	return ids, err
}

func (r *boltPods) Versions(ctx context.Context, id pathid.PathID) ([]time.Time, error) {
	var versions []time.Time
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		versions, err = listVersions(tx, bucketPodVersions, id)
		return err
	})
	return versions, err
}

func (r *boltPods) Delete(ctx context.Context, id pathid.PathID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return deleteVersioned(tx, bucketPods, bucketPodVersions, id)
	})
}

func (r *boltPods) DeleteVersion(ctx context.Context, id pathid.PathID, version time.Time) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return deleteVersion(tx, bucketPodVersions, id, version)
	})
}

// Root repository

type boltRoots struct {
	db *bolt.DB
}

func (r *boltRoots) Root(ctx context.Context) (*group.RootGroup, error) {
	var root group.RootGroup
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRoots).Get(rootCurrentKey)
		if data == nil {
			return fmt.Errorf("root group: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &root)
	})
	if err != nil {
		return nil, err
	}
	return &root, nil
}

func (r *boltRoots) RootVersions(ctx context.Context) ([]time.Time, error) {
	var versions []time.Time
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRootVersions).ForEach(func(k, v []byte) error {
			t, err := parseVersionKey(k)
			if err != nil {
				return err
			}
			versions = append(versions, t)
			return nil
		})
	})
	return versions, err
}

func (r *boltRoots) RootVersion(ctx context.Context, version time.Time) (*group.RootGroup, error) {
	var root group.RootGroup
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRootVersions).Get(versionKey(version))
		if data == nil {
			return fmt.Errorf("root version %s: %w", version, ErrNotFound)
		}
		return json.Unmarshal(data, &root)
	})
	if err != nil {
		return nil, err
	}
	return &root, nil
}

func (r *boltRoots) StoreRoot(ctx context.Context, root *group.RootGroup,
	updatedApps []*spec.AppDefinition, deletedAppIDs []pathid.PathID,
	updatedPods []*spec.PodDefinition, deletedPodIDs []pathid.PathID) error {

	rootData, err := json.Marshal(root)
	if err != nil {
		return err
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketRoots).Put(rootCurrentKey, rootData); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRootVersions).Put(versionKey(root.Version()), rootData); err != nil {
			return err
		}

		for _, app := range updatedApps {
			data, err := json.Marshal(app)
			if err != nil {
				return err
			}
			if err := storeVersioned(tx, bucketApps, bucketAppVersions, app.AppID, app.Version(), data, true); err != nil {
				return err
			}
		}
		for _, id := range deletedAppIDs {
			if err := tx.Bucket(bucketApps).Delete([]byte(id.Safe())); err != nil {
				return err
			}
		}
		for _, pod := range updatedPods {
			data, err := json.Marshal(pod)
			if err != nil {
				return err
			}
			if err := storeVersioned(tx, bucketPods, bucketPodVersions, pod.PodID, pod.Version(), data, true); err != nil {
				return err
			}
		}
		for _, id := range deletedPodIDs {
			if err := tx.Bucket(bucketPods).Delete([]byte(id.Safe())); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *boltRoots) DeleteRootVersion(ctx context.Context, version time.Time) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRootVersions).Delete(versionKey(version))
	})
}

// Deployment repository

type boltDeployments struct {
	db *bolt.DB
}

func (r *boltDeployments) Store(ctx context.Context, plan *deployment.Plan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).Put([]byte(plan.ID), data)
	})
}

func (r *boltDeployments) Delete(ctx context.Context, planID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).Delete([]byte(planID))
	})
}

func (r *boltDeployments) All(ctx context.Context) ([]*deployment.Plan, error) {
	var plans []*deployment.Plan
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(k, v []byte) error {
			var plan deployment.Plan
			if err := json.Unmarshal(v, &plan); err != nil {
				return err
			}
			plans = append(plans, &plan)
			return nil
		})
	})
	return plans, err
}

// Instance repository

type boltInstances struct {
	db *bolt.DB
}

func (r *boltInstances) Store(ctx context.Context, i *instance.Instance) error {
	rec, err := recordFromInstance(i)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Put([]byte(rec.ID), data)
	})
}

func (r *boltInstances) Get(ctx context.Context, id instance.ID) (*instance.Instance, error) {
	var rec instanceRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInstances).Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("instance %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return rec.toInstance()
}

func (r *boltInstances) All(ctx context.Context) ([]*instance.Instance, error) {
	var instances []*instance.Instance
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var rec instanceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			i, err := rec.toInstance()
			if err != nil {
				return err
			}
			instances = append(instances, i)
			return nil
		})
	})
	return instances, err
}

func (r *boltInstances) Delete(ctx context.Context, id instance.ID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Delete([]byte(id.String()))
	})
}
