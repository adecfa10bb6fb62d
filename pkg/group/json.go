package group

import (
	"encoding/json"

	"github.com/cuemby/stride/pkg/spec"
)

// MarshalJSON serializes the underlying tree.
func (r *RootGroup) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.root)
}

// UnmarshalJSON restores a root from its serialized tree.
func (r *RootGroup) UnmarshalJSON(data []byte) error {
	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return err
	}
	normalize(&g)
	r.root = &g
	return nil
}

// normalize replaces nil child maps left by JSON decoding of empty groups.
func normalize(g *Group) {
	if g.Apps == nil {
		g.Apps = map[string]*spec.AppDefinition{}
	}
	if g.Pods == nil {
		g.Pods = map[string]*spec.PodDefinition{}
	}
	if g.Groups == nil {
		g.Groups = map[string]*Group{}
	}
	for _, child := range g.Groups {
		normalize(child)
	}
}
