package deployment

import (
	"sort"
	"time"

	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/spec"
)

// NewPlan computes the ordered step sequence transforming original into
// target. toKill names instances to kill preferentially when scaling down,
// keyed by run-spec id string. The planner is pure: it never touches
// repositories or trackers.
func NewPlan(original, target *group.RootGroup, toKill map[string][]*instance.Instance, version time.Time) *Plan {
	originalSpecs := specsByID(original)
	targetSpecs := specsByID(target)

	var steps []Step

	// Step 0: stop everything that disappeared from the target.
	var stops []Action
	for _, id := range sortedKeys(originalSpecs) {
		if _, kept := targetSpecs[id]; !kept {
			stops = append(stops, Action{Type: ActionStop, Spec: originalSpecs[id]})
		}
	}
	steps = append(steps, Step{Actions: stops})

	// Step 1: start placeholders for everything new, at zero instances.
	var starts []Action
	for _, id := range sortedKeys(targetSpecs) {
		if _, existed := originalSpecs[id]; !existed {
			starts = append(starts, Action{Type: ActionStart, Spec: targetSpecs[id]})
		}
	}
	steps = append(steps, Step{Actions: starts})

	// Layered dependency steps: partition affected specs by longest
	// dependency chain in the target graph; dependency-free specs go first.
	graph := target.DependencyGraph()
	layers := map[int][]Action{}
	maxLayer := -1
	for _, id := range sortedKeys(targetSpecs) {
		tgtSpec := targetSpecs[id]
		origSpec, existed := originalSpecs[id]

		action, ok := actionFor(origSpec, existed, tgtSpec, toKill[id])
		if !ok {
			continue
		}

		layer := graph.LongestPath(tgtSpec.ID())
		layers[layer] = append(layers[layer], action)
		if layer > maxLayer {
			maxLayer = layer
		}
	}
	for layer := 0; layer <= maxLayer; layer++ {
		steps = append(steps, Step{Actions: layers[layer]})
	}

	// Empty steps carry no information.
	var compact []Step
	for _, step := range steps {
		if len(step.Actions) > 0 {
			sort.Slice(step.Actions, func(i, j int) bool {
				return step.Actions[i].Spec.ID().Less(step.Actions[j].Spec.ID())
			})
			compact = append(compact, step)
		}
	}

	return &Plan{
		ID:       newPlanID(),
		Original: original,
		Target:   target,
		Steps:    compact,
		Version:  version,
	}
}

// actionFor decides the dependency-layer action for one target spec.
func actionFor(origSpec spec.RunSpec, existed bool, tgtSpec spec.RunSpec, sentenced []*instance.Instance) (Action, bool) {
	switch {
	case !existed:
		return Action{Type: ActionScale, Spec: tgtSpec, ScaleTo: tgtSpec.InstanceCount()}, true
	case spec.IsOnlyScaleChange(origSpec, tgtSpec) || (spec.NeedsRestart(origSpec, tgtSpec) && tgtSpec.InstanceCount() == 0):
		return Action{Type: ActionScale, Spec: tgtSpec, ScaleTo: tgtSpec.InstanceCount(), Sentenced: sentenced}, true
	case spec.NeedsRestart(origSpec, tgtSpec):
		return Action{Type: ActionRestart, Spec: tgtSpec}, true
	default:
		return Action{}, false
	}
}
