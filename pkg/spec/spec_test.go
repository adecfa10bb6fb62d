package spec

import (
	"testing"
	"time"

	"github.com/cuemby/stride/pkg/pathid"
	"github.com/stretchr/testify/assert"
)

func testApp(id string) *AppDefinition {
	return &AppDefinition{
		AppID:       pathid.MustParse(id),
		Cmd:         "sleep 1000",
		Instances:   2,
		CPUs:        0.1,
		Mem:         128,
		Upgrade:     DefaultUpgradeStrategy(),
		Unreachable: DefaultUnreachableStrategy(),
		SpecVersion: NewVersionInfo(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func TestIsOnlyScaleChange(t *testing.T) {
	a := testApp("/test/app")
	scaled := a.WithInstances(5)

	assert.True(t, IsOnlyScaleChange(a, scaled))
	assert.False(t, NeedsRestart(a, scaled))

	// Same instance count is not a scale change.
	assert.False(t, IsOnlyScaleChange(a, a))
}

func TestNeedsRestartOnConfigChange(t *testing.T) {
	a := testApp("/test/app")

	changed := *a
	changed.Cmd = "sleep 2000"

	assert.True(t, NeedsRestart(a, &changed))
	assert.False(t, IsOnlyScaleChange(a, &changed))
}

func TestConfigEquivalentIgnoresVersionInfo(t *testing.T) {
	a := testApp("/test/app")

	rebuilt := *a
	rebuilt.SpecVersion = NewVersionInfo(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	// Version timestamps alone never force a restart.
	assert.True(t, a.ConfigEquivalent(&rebuilt))
	assert.False(t, NeedsRestart(a, &rebuilt))
}

func TestConfigEquivalentAcrossKinds(t *testing.T) {
	a := testApp("/test/app")
	p := &PodDefinition{PodID: pathid.MustParse("/test/app"), Instances: 2}

	assert.False(t, a.ConfigEquivalent(p))
	assert.False(t, p.ConfigEquivalent(a))
}

func TestPodResourcesSumContainers(t *testing.T) {
	p := &PodDefinition{
		PodID: pathid.MustParse("/test/pod"),
		Containers: []Container{
			{Name: "web", CPUs: 0.5, Mem: 256},
			{Name: "sidecar", CPUs: 0.1, Mem: 64},
		},
	}

	res := p.Resources()
	assert.InDelta(t, 0.6, res.CPUs, 1e-9)
	assert.InDelta(t, 320, res.Mem, 1e-9)
	assert.Equal(t, 2, p.TasksPerInstance())
}

func TestWithRoleDoesNotMutateOriginal(t *testing.T) {
	a := testApp("/prod/sleep/goodnight")
	b := a.WithRole("prod")

	assert.Equal(t, "", a.Role())
	assert.Equal(t, "prod", b.Role())
	// Role is part of the config form, so assigning one is a config change.
	assert.True(t, NeedsRestart(a, b))
}

func TestVersionInfoTransitions(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	vi := NewVersionInfo(t0)

	scaled := vi.WithScaling(t1)
	assert.Equal(t, t1, scaled.Version)
	assert.Equal(t, t1, scaled.LastScalingAt)
	assert.Equal(t, t0, scaled.LastConfigChangeAt)

	changed := scaled.WithConfigChange(t2)
	assert.Equal(t, t2, changed.Version)
	assert.Equal(t, t2, changed.LastConfigChangeAt)
}
