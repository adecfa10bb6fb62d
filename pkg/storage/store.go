package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/stride/pkg/deployment"
	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
)

// ErrNotFound is returned when the requested entity or version is missing.
var ErrNotFound = errors.New("not found")

// AppRepository is the versioned store for app definitions.
type AppRepository interface {
	// Store writes the current definition and records it as a version.
	Store(ctx context.Context, app *spec.AppDefinition) error

	// StoreVersion records a version without touching the current value.
	StoreVersion(ctx context.Context, app *spec.AppDefinition) error

	Get(ctx context.Context, id pathid.PathID) (*spec.AppDefinition, error)
	GetVersion(ctx context.Context, id pathid.PathID, version time.Time) (*spec.AppDefinition, error)
	IDs(ctx context.Context) ([]pathid.PathID, error)

	// Versions returns the stored version timestamps for id, oldest first.
	Versions(ctx context.Context, id pathid.PathID) ([]time.Time, error)

	// Delete removes the current value and all versions.
	Delete(ctx context.Context, id pathid.PathID) error
	DeleteVersion(ctx context.Context, id pathid.PathID, version time.Time) error
}

// PodRepository is the versioned store for pod definitions.
type PodRepository interface {
	Store(ctx context.Context, pod *spec.PodDefinition) error
	StoreVersion(ctx context.Context, pod *spec.PodDefinition) error
	Get(ctx context.Context, id pathid.PathID) (*spec.PodDefinition, error)
	GetVersion(ctx context.Context, id pathid.PathID, version time.Time) (*spec.PodDefinition, error)
	IDs(ctx context.Context) ([]pathid.PathID, error)
	Versions(ctx context.Context, id pathid.PathID) ([]time.Time, error)
	Delete(ctx context.Context, id pathid.PathID) error
	DeleteVersion(ctx context.Context, id pathid.PathID, version time.Time) error
}

// RootRepository is the versioned store for the root group. StoreRoot writes
// the root and the referenced run-spec updates atomically.
type RootRepository interface {
	Root(ctx context.Context) (*group.RootGroup, error)
	RootVersions(ctx context.Context) ([]time.Time, error)
	RootVersion(ctx context.Context, version time.Time) (*group.RootGroup, error)
	StoreRoot(ctx context.Context, root *group.RootGroup,
		updatedApps []*spec.AppDefinition, deletedAppIDs []pathid.PathID,
		updatedPods []*spec.PodDefinition, deletedPodIDs []pathid.PathID) error
	DeleteRootVersion(ctx context.Context, version time.Time) error
}

// DeploymentRepository stores in-flight deployment plans.
type DeploymentRepository interface {
	Store(ctx context.Context, plan *deployment.Plan) error
	Delete(ctx context.Context, planID string) error
	All(ctx context.Context) ([]*deployment.Plan, error)
}

// InstanceRepository stores instances. Single-key operations are atomic.
type InstanceRepository interface {
	Store(ctx context.Context, i *instance.Instance) error
	Get(ctx context.Context, id instance.ID) (*instance.Instance, error)
	All(ctx context.Context) ([]*instance.Instance, error)
	Delete(ctx context.Context, id instance.ID) error
}

// Store bundles every repository of one persistence backend.
type Store interface {
	Apps() AppRepository
	Pods() PodRepository
	Roots() RootRepository
	Deployments() DeploymentRepository
	Instances() InstanceRepository
	Close() error
}
