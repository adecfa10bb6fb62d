package spec

import (
	"time"

	"github.com/cuemby/stride/pkg/pathid"
)

// PodDefinition is a multi-container run-spec. Each container contributes
// one task per instance.
type PodDefinition struct {
	PodID        pathid.PathID
	Containers   []Container
	Env          map[string]string
	Instances    int
	ResourceRole string
	DependsOn    []pathid.PathID
	Upgrade      UpgradeStrategy
	Unreachable  UnreachableStrategy
	Volumes      []PersistentVolume
	SpecVersion  VersionInfo
}

// Container is one member of a pod.
type Container struct {
	Name   string
	Image  string
	Cmd    string
	CPUs   float64
	Mem    float64
	Disk   float64
	GPUs   float64
	Health *HealthCheck
}

var _ RunSpec = (*PodDefinition)(nil)

func (p *PodDefinition) ID() pathid.PathID { return p.PodID }

func (p *PodDefinition) Version() time.Time { return p.SpecVersion.Version }

func (p *PodDefinition) VersionInfo() VersionInfo { return p.SpecVersion }

func (p *PodDefinition) Role() string { return p.ResourceRole }

func (p *PodDefinition) InstanceCount() int { return p.Instances }

// Resources sums the demand of all containers.
func (p *PodDefinition) Resources() Resources {
	var total Resources
	for _, c := range p.Containers {
		total = total.Add(Resources{CPUs: c.CPUs, Mem: c.Mem, Disk: c.Disk, GPUs: c.GPUs})
	}
	return total
}

func (p *PodDefinition) Dependencies() []pathid.PathID { return p.DependsOn }

func (p *PodDefinition) UpgradeStrategy() UpgradeStrategy { return p.Upgrade }

func (p *PodDefinition) UnreachableStrategy() UnreachableStrategy { return p.Unreachable }

func (p *PodDefinition) HealthChecks() []HealthCheck {
	var checks []HealthCheck
	for _, c := range p.Containers {
		if c.Health != nil {
			checks = append(checks, *c.Health)
		}
	}
	return checks
}

// ReadinessChecks is always empty for pods; readiness gating applies to apps.
func (p *PodDefinition) ReadinessChecks() []ReadinessCheck { return nil }

func (p *PodDefinition) TasksPerInstance() int { return len(p.Containers) }

func (p *PodDefinition) IsResident() bool { return len(p.Volumes) > 0 }

func (p *PodDefinition) WithInstances(n int) RunSpec {
	c := *p
	c.Instances = n
	return &c
}

func (p *PodDefinition) WithRole(role string) RunSpec {
	c := *p
	c.ResourceRole = role
	return &c
}

func (p *PodDefinition) WithVersionInfo(vi VersionInfo) RunSpec {
	c := *p
	c.SpecVersion = vi
	return &c
}

// ConfigEquivalent compares on the canonical form with instance count and
// version info stripped.
func (p *PodDefinition) ConfigEquivalent(other RunSpec) bool {
	o, ok := other.(*PodDefinition)
	if !ok {
		return false
	}
	if !p.PodID.Equal(o.PodID) || p.ResourceRole != o.ResourceRole {
		return false
	}
	if p.Upgrade != o.Upgrade || p.Unreachable != o.Unreachable {
		return false
	}
	if !stringMapsEqual(p.Env, o.Env) {
		return false
	}
	if len(p.Containers) != len(o.Containers) {
		return false
	}
	for i := range p.Containers {
		if !containerEqual(p.Containers[i], o.Containers[i]) {
			return false
		}
	}
	if len(p.DependsOn) != len(o.DependsOn) {
		return false
	}
	for i := range p.DependsOn {
		if !p.DependsOn[i].Equal(o.DependsOn[i]) {
			return false
		}
	}
	if len(p.Volumes) != len(o.Volumes) {
		return false
	}
	for i := range p.Volumes {
		if p.Volumes[i] != o.Volumes[i] {
			return false
		}
	}
	return true
}

func containerEqual(a, b Container) bool {
	if a.Name != b.Name || a.Image != b.Image || a.Cmd != b.Cmd {
		return false
	}
	if a.CPUs != b.CPUs || a.Mem != b.Mem || a.Disk != b.Disk || a.GPUs != b.GPUs {
		return false
	}
	if (a.Health == nil) != (b.Health == nil) {
		return false
	}
	if a.Health != nil && *a.Health != *b.Health {
		return false
	}
	return true
}
