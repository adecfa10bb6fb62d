package spec

import (
	"time"

	"github.com/cuemby/stride/pkg/pathid"
)

// RunSpec is the declared specification of a workload, either an app or a
// pod. Specs are immutable; the With* methods return modified copies.
type RunSpec interface {
	// ID returns the absolute path identifying the spec.
	ID() pathid.PathID

	// Version returns the spec's version timestamp.
	Version() time.Time

	// VersionInfo returns the full version origin info.
	VersionInfo() VersionInfo

	// Role returns the Mesos role resources are requested against. An empty
	// role means the role is inherited from the enclosing group or the
	// framework default.
	Role() string

	// InstanceCount returns the declared number of instances.
	InstanceCount() int

	// Resources returns the per-instance resource demand.
	Resources() Resources

	// Dependencies returns the run-spec ids this spec depends on.
	Dependencies() []pathid.PathID

	// UpgradeStrategy returns the capacity bounds honoured during restarts.
	UpgradeStrategy() UpgradeStrategy

	// UnreachableStrategy returns the unreachable handling configuration.
	UnreachableStrategy() UnreachableStrategy

	// HealthChecks returns the configured health checks, possibly empty.
	HealthChecks() []HealthCheck

	// ReadinessChecks returns the configured readiness checks, possibly empty.
	ReadinessChecks() []ReadinessCheck

	// TasksPerInstance returns how many tasks one instance launches: 1 for
	// apps, the container count for pods.
	TasksPerInstance() int

	// IsResident reports whether the spec claims persistent volumes.
	IsResident() bool

	// WithInstances returns a copy with the instance count replaced.
	WithInstances(n int) RunSpec

	// WithRole returns a copy with the role replaced.
	WithRole(role string) RunSpec

	// WithVersionInfo returns a copy with the version info replaced.
	WithVersionInfo(vi VersionInfo) RunSpec

	// ConfigEquivalent reports whether other has the same configuration,
	// ignoring instance count and version info. Comparing on this canonical
	// form keeps clock adjustments from restarting identical specs.
	ConfigEquivalent(other RunSpec) bool
}

// IsOnlyScaleChange reports whether from and to differ only in their
// instance counts.
func IsOnlyScaleChange(from, to RunSpec) bool {
	return from.ConfigEquivalent(to) && from.InstanceCount() != to.InstanceCount()
}

// NeedsRestart reports whether moving from one spec to the other requires
// replacing running instances.
func NeedsRestart(from, to RunSpec) bool {
	return !from.ConfigEquivalent(to)
}

// Resources is the per-instance resource demand.
type Resources struct {
	CPUs float64
	Mem  float64 // MiB
	Disk float64 // MiB
	GPUs float64
}

// Add returns the element-wise sum of two resource demands.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPUs: r.CPUs + other.CPUs,
		Mem:  r.Mem + other.Mem,
		Disk: r.Disk + other.Disk,
		GPUs: r.GPUs + other.GPUs,
	}
}

// UpgradeStrategy bounds capacity during a restart deployment.
type UpgradeStrategy struct {
	// MinimumHealthCapacity is the fraction of the target instance count
	// that must stay healthy during an upgrade. In [0, 1].
	MinimumHealthCapacity float64

	// MaximumOverCapacity is the fraction of the target instance count that
	// may run additionally during an upgrade. In [0, 1].
	MaximumOverCapacity float64
}

// DefaultUpgradeStrategy keeps full capacity and allows full over-capacity.
func DefaultUpgradeStrategy() UpgradeStrategy {
	return UpgradeStrategy{MinimumHealthCapacity: 1, MaximumOverCapacity: 1}
}

// UnreachableStrategy configures how unreachable tasks are handled.
type UnreachableStrategy struct {
	// Enabled turns unreachable handling on. When false, unreachable tasks
	// are left to the deployment logic indefinitely.
	Enabled bool

	// InactiveAfter is how long a task may be unreachable before its
	// instance is considered inactive for scaling purposes.
	InactiveAfter time.Duration

	// ExpungeAfter is how long a task may be unreachable before the
	// instance is expunged and replaced.
	ExpungeAfter time.Duration
}

// DefaultUnreachableStrategy marks instances inactive after 5 minutes and
// expunges them after 10.
func DefaultUnreachableStrategy() UnreachableStrategy {
	return UnreachableStrategy{
		Enabled:       true,
		InactiveAfter: 5 * time.Minute,
		ExpungeAfter:  10 * time.Minute,
	}
}

// CheckType is the probe protocol of a health or readiness check.
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// HealthCheck defines a liveness probe against a running task.
type HealthCheck struct {
	Type     CheckType
	Path     string // HTTP only
	Port     int
	Interval time.Duration
	Timeout  time.Duration
	Retries  int

	// GracePeriod delays the first probe after launch.
	GracePeriod time.Duration
}

// ReadinessCheck defines a probe that must pass before a new instance counts
// toward a deployment step's target.
type ReadinessCheck struct {
	Name     string
	Path     string
	Port     int
	Interval time.Duration
	Timeout  time.Duration
}

// PersistentVolume is a disk claim that outlives single task runs.
type PersistentVolume struct {
	ContainerPath string
	SizeMB        int64
}
