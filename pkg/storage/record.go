package storage

import (
	"fmt"

	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/spec"
)

// instanceRecord is the serialized form of an instance. The run-spec
// interface is split into its concrete kinds so JSON can restore it.
type instanceRecord struct {
	ID          string                    `json:"id"`
	AgentInfo   *instance.AgentInfo       `json:"agentInfo,omitempty"`
	State       instance.State            `json:"state"`
	Tasks       map[string]*instance.Task `json:"tasks"`
	App         *spec.AppDefinition       `json:"app,omitempty"`
	Pod         *spec.PodDefinition       `json:"pod,omitempty"`
	Reservation *instance.Reservation     `json:"reservation,omitempty"`
	Role        string                    `json:"role"`
}

func recordFromInstance(i *instance.Instance) (*instanceRecord, error) {
	rec := &instanceRecord{
		ID:          i.InstanceID.String(),
		AgentInfo:   i.AgentInfo,
		State:       i.State,
		Tasks:       i.Tasks,
		Reservation: i.Reservation,
		Role:        i.Role,
	}
	switch s := i.RunSpec.(type) {
	case *spec.AppDefinition:
		rec.App = s
	case *spec.PodDefinition:
		rec.Pod = s
	default:
		return nil, fmt.Errorf("instance %s has unknown run-spec kind %T", i.InstanceID, i.RunSpec)
	}
	return rec, nil
}

func (rec *instanceRecord) toInstance() (*instance.Instance, error) {
	id, err := instance.ParseID(rec.ID)
	if err != nil {
		return nil, err
	}

	var runSpec spec.RunSpec
	switch {
	case rec.App != nil:
		runSpec = rec.App
	case rec.Pod != nil:
		runSpec = rec.Pod
	default:
		return nil, fmt.Errorf("instance record %s carries no run-spec", rec.ID)
	}

	tasks := rec.Tasks
	if tasks == nil {
		tasks = map[string]*instance.Task{}
	}

	return &instance.Instance{
		InstanceID:  id,
		AgentInfo:   rec.AgentInfo,
		State:       rec.State,
		Tasks:       tasks,
		RunSpec:     runSpec,
		Reservation: rec.Reservation,
		Role:        rec.Role,
	}, nil
}
