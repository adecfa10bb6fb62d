package spec

import (
	"time"

	"github.com/cuemby/stride/pkg/pathid"
)

// AppDefinition is a single-container run-spec.
type AppDefinition struct {
	AppID        pathid.PathID
	Cmd          string
	Args         []string
	Image        string
	Env          map[string]string
	Instances    int
	ResourceRole string
	CPUs         float64
	Mem          float64
	Disk         float64
	GPUs         float64
	Constraints  [][]string
	DependsOn    []pathid.PathID
	Upgrade      UpgradeStrategy
	Unreachable  UnreachableStrategy
	Health       []HealthCheck
	Readiness    []ReadinessCheck
	Volumes      []PersistentVolume
	SpecVersion  VersionInfo
}

var _ RunSpec = (*AppDefinition)(nil)

func (a *AppDefinition) ID() pathid.PathID { return a.AppID }

func (a *AppDefinition) Version() time.Time { return a.SpecVersion.Version }

func (a *AppDefinition) VersionInfo() VersionInfo { return a.SpecVersion }

func (a *AppDefinition) Role() string { return a.ResourceRole }

func (a *AppDefinition) InstanceCount() int { return a.Instances }

func (a *AppDefinition) Resources() Resources {
	return Resources{CPUs: a.CPUs, Mem: a.Mem, Disk: a.Disk, GPUs: a.GPUs}
}

func (a *AppDefinition) Dependencies() []pathid.PathID { return a.DependsOn }

func (a *AppDefinition) UpgradeStrategy() UpgradeStrategy { return a.Upgrade }

func (a *AppDefinition) UnreachableStrategy() UnreachableStrategy { return a.Unreachable }

func (a *AppDefinition) HealthChecks() []HealthCheck { return a.Health }

func (a *AppDefinition) ReadinessChecks() []ReadinessCheck { return a.Readiness }

// TasksPerInstance is always 1 for apps.
func (a *AppDefinition) TasksPerInstance() int { return 1 }

func (a *AppDefinition) IsResident() bool { return len(a.Volumes) > 0 }

func (a *AppDefinition) WithInstances(n int) RunSpec {
	c := *a
	c.Instances = n
	return &c
}

func (a *AppDefinition) WithRole(role string) RunSpec {
	c := *a
	c.ResourceRole = role
	return &c
}

func (a *AppDefinition) WithVersionInfo(vi VersionInfo) RunSpec {
	c := *a
	c.SpecVersion = vi
	return &c
}

// ConfigEquivalent compares against other on the canonical form with
// instance count and version info stripped. Pods never equal apps.
func (a *AppDefinition) ConfigEquivalent(other RunSpec) bool {
	b, ok := other.(*AppDefinition)
	if !ok {
		return false
	}
	return appConfigForm(a).equal(appConfigForm(b))
}

// appConfig is the comparable projection of an app's configuration.
type appConfig struct {
	id          string
	cmd         string
	args        []string
	image       string
	env         map[string]string
	role        string
	cpus        float64
	mem         float64
	disk        float64
	gpus        float64
	constraints [][]string
	deps        []string
	upgrade     UpgradeStrategy
	unreachable UnreachableStrategy
	health      []HealthCheck
	readiness   []ReadinessCheck
	volumes     []PersistentVolume
}

func appConfigForm(a *AppDefinition) appConfig {
	deps := make([]string, len(a.DependsOn))
	for i, d := range a.DependsOn {
		deps[i] = d.String()
	}
	return appConfig{
		id:          a.AppID.String(),
		cmd:         a.Cmd,
		args:        a.Args,
		image:       a.Image,
		env:         a.Env,
		role:        a.ResourceRole,
		cpus:        a.CPUs,
		mem:         a.Mem,
		disk:        a.Disk,
		gpus:        a.GPUs,
		constraints: a.Constraints,
		deps:        deps,
		upgrade:     a.Upgrade,
		unreachable: a.Unreachable,
		health:      a.Health,
		readiness:   a.Readiness,
		volumes:     a.Volumes,
	}
}

func (c appConfig) equal(o appConfig) bool {
	if c.id != o.id || c.cmd != o.cmd || c.image != o.image || c.role != o.role {
		return false
	}
	if c.cpus != o.cpus || c.mem != o.mem || c.disk != o.disk || c.gpus != o.gpus {
		return false
	}
	if c.upgrade != o.upgrade || c.unreachable != o.unreachable {
		return false
	}
	if !stringSlicesEqual(c.args, o.args) || !stringSlicesEqual(c.deps, o.deps) {
		return false
	}
	if !stringMapsEqual(c.env, o.env) {
		return false
	}
	if len(c.constraints) != len(o.constraints) {
		return false
	}
	for i := range c.constraints {
		if !stringSlicesEqual(c.constraints[i], o.constraints[i]) {
			return false
		}
	}
	if len(c.health) != len(o.health) || len(c.readiness) != len(o.readiness) || len(c.volumes) != len(o.volumes) {
		return false
	}
	for i := range c.health {
		if c.health[i] != o.health[i] {
			return false
		}
	}
	for i := range c.readiness {
		if c.readiness[i] != o.readiness[i] {
			return false
		}
	}
	for i := range c.volumes {
		if c.volumes[i] != o.volumes[i] {
			return false
		}
	}
	return true
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringMapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if ov, ok := b[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
