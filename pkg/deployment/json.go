package deployment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
)

type planJSON struct {
	ID       string           `json:"id"`
	Version  time.Time        `json:"version"`
	Original *group.RootGroup `json:"original"`
	Target   *group.RootGroup `json:"target"`
	Steps    []stepJSON       `json:"steps"`
}

type stepJSON struct {
	Actions []actionJSON `json:"actions"`
}

type actionJSON struct {
	Action ActionType `json:"action"`
	App    string     `json:"app,omitempty"`
	Pod    string     `json:"pod,omitempty"`
}

// MarshalJSON serializes the plan with its step boundaries preserved; each
// action carries the action name and the app or pod id.
func (p *Plan) MarshalJSON() ([]byte, error) {
	out := planJSON{
		ID:       p.ID,
		Version:  p.Version,
		Original: p.Original,
		Target:   p.Target,
		Steps:    make([]stepJSON, len(p.Steps)),
	}
	for i, step := range p.Steps {
		actions := make([]actionJSON, len(step.Actions))
		for j, action := range step.Actions {
			a := actionJSON{Action: action.Type}
			if _, isPod := action.Spec.(*spec.PodDefinition); isPod {
				a.Pod = action.Spec.ID().String()
			} else {
				a.App = action.Spec.ID().String()
			}
			actions[j] = a
		}
		out.Steps[i] = stepJSON{Actions: actions}
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a plan. Actions are re-bound to the specs in the
// serialized roots: stops resolve against the original, everything else
// against the target. Sentenced instances are not persisted; a resumed
// scale-down picks its own victims.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var in planJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	plan := Plan{ID: in.ID, Version: in.Version, Original: in.Original, Target: in.Target}
	for _, step := range in.Steps {
		var actions []Action
		for _, a := range step.Actions {
			raw := a.App
			if raw == "" {
				raw = a.Pod
			}
			id, err := pathid.ParsePath(raw)
			if err != nil {
				return fmt.Errorf("invalid run-spec id in plan %s: %w", in.ID, err)
			}

			root := plan.Target
			if a.Action == ActionStop {
				root = plan.Original
			}
			runSpec := root.RunSpec(id)
			if runSpec == nil {
				return fmt.Errorf("plan %s references unknown run-spec %s", in.ID, id)
			}

			action := Action{Type: a.Action, Spec: runSpec}
			if a.Action == ActionScale {
				action.ScaleTo = runSpec.InstanceCount()
			}
			actions = append(actions, action)
		}
		plan.Steps = append(plan.Steps, Step{Actions: actions})
	}

	*p = plan
	return nil
}
