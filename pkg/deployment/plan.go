package deployment

import (
	"sort"
	"time"

	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/google/uuid"
)

// ActionType names the kinds of deployment actions.
type ActionType string

const (
	// ActionStart is a backward-compat placeholder emitted for newly added
	// run-specs; it always succeeds immediately with zero instances.
	ActionStart ActionType = "StartApplication"

	// ActionStop tears a run-spec's instances down.
	ActionStop ActionType = "StopApplication"

	// ActionScale drives a run-spec's live instance count to a target.
	ActionScale ActionType = "ScaleApplication"

	// ActionRestart replaces all instances with ones of the new config,
	// honouring the upgrade strategy.
	ActionRestart ActionType = "RestartApplication"
)

// Action is one unit of work inside a step.
type Action struct {
	Type ActionType
	Spec spec.RunSpec

	// ScaleTo is the instance target for scale actions.
	ScaleTo int

	// Sentenced are instances to kill preferentially when scaling down.
	Sentenced []*instance.Instance
}

// Step is an unordered set of actions runnable in parallel. A step
// completes when every action completed.
type Step struct {
	Actions []Action
}

// Plan is an ordered sequence of steps transforming Original into Target.
type Plan struct {
	ID       string
	Original *group.RootGroup
	Target   *group.RootGroup
	Steps    []Step
	Version  time.Time
}

// AffectedRunSpecIDs returns the ids the plan touches: present in exactly
// one of original/target, or present in both with changed spec. The result
// is sorted and symmetric in original/target.
func (p *Plan) AffectedRunSpecIDs() []pathid.PathID {
	original := specsByID(p.Original)
	target := specsByID(p.Target)

	affected := map[string]pathid.PathID{}
	for id, origSpec := range original {
		tgtSpec, ok := target[id]
		if !ok || specChanged(origSpec, tgtSpec) {
			affected[id] = origSpec.ID()
		}
	}
	for id, tgtSpec := range target {
		if _, ok := original[id]; !ok {
			affected[id] = tgtSpec.ID()
		}
	}

	ids := make([]pathid.PathID, 0, len(affected))
	for _, id := range affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// IsEmpty reports whether the plan has no work.
func (p *Plan) IsEmpty() bool {
	return len(p.Steps) == 0
}

// Revert computes the root-group change that undoes (target - original)
// applied on top of current, preserving run-specs added after the plan
// started.
func (p *Plan) Revert(current *group.RootGroup, version time.Time) (*group.RootGroup, error) {
	original := specsByID(p.Original)
	target := specsByID(p.Target)

	var ops []group.Operation

	// Run-specs the plan introduced are removed again; sorted iteration
	// keeps reverts reproducible.
	for _, id := range sortedKeys(target) {
		if _, existed := original[id]; existed {
			continue
		}
		tgtSpec := target[id]
		switch tgtSpec.(type) {
		case *spec.PodDefinition:
			if current.Pod(tgtSpec.ID()) != nil {
				ops = append(ops, group.RemovePod(tgtSpec.ID()))
			}
		default:
			if current.App(tgtSpec.ID()) != nil {
				ops = append(ops, group.RemoveApp(tgtSpec.ID()))
			}
		}
	}

	// Run-specs the plan changed or removed are restored to their original
	// definition.
	for _, id := range sortedKeys(original) {
		origSpec := original[id]
		tgtSpec, stillThere := target[id]
		if stillThere && !specChanged(origSpec, tgtSpec) {
			continue
		}
		switch s := origSpec.(type) {
		case *spec.AppDefinition:
			ops = append(ops, group.PutApp(s))
		case *spec.PodDefinition:
			ops = append(ops, group.PutPod(s))
		}
	}

	return current.UpdateMany(version, ops...)
}

func sortedKeys(specs map[string]spec.RunSpec) []string {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func specsByID(root *group.RootGroup) map[string]spec.RunSpec {
	specs := map[string]spec.RunSpec{}
	if root == nil {
		return specs
	}
	for _, s := range root.RunSpecs() {
		specs[s.ID().String()] = s
	}
	return specs
}

// specChanged reports whether the two versions of a run-spec differ in
// config or scale. Version info alone never counts as a change.
func specChanged(a, b spec.RunSpec) bool {
	return !a.ConfigEquivalent(b) || a.InstanceCount() != b.InstanceCount()
}

func newPlanID() string {
	return uuid.New().String()
}
