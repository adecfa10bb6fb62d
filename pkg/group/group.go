package group

import (
	"sort"
	"time"

	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
)

// Group is one node of the group tree. Children are keyed by their canonical
// id string. Groups are treated as immutable; updates copy the nodes along
// the changed path.
type Group struct {
	GroupID     pathid.PathID
	EnforceRole bool
	Apps        map[string]*spec.AppDefinition
	Pods        map[string]*spec.PodDefinition
	Groups      map[string]*Group
	Version     time.Time
}

// NewGroup creates an empty group at id.
func NewGroup(id pathid.PathID, version time.Time) *Group {
	return &Group{
		GroupID: id,
		Apps:    map[string]*spec.AppDefinition{},
		Pods:    map[string]*spec.PodDefinition{},
		Groups:  map[string]*Group{},
		Version: version,
	}
}

// shallowCopy duplicates the node and its child maps, sharing the children
// themselves.
func (g *Group) shallowCopy() *Group {
	c := &Group{
		GroupID:     g.GroupID,
		EnforceRole: g.EnforceRole,
		Apps:        make(map[string]*spec.AppDefinition, len(g.Apps)),
		Pods:        make(map[string]*spec.PodDefinition, len(g.Pods)),
		Groups:      make(map[string]*Group, len(g.Groups)),
		Version:     g.Version,
	}
	for k, v := range g.Apps {
		c.Apps[k] = v
	}
	for k, v := range g.Pods {
		c.Pods[k] = v
	}
	for k, v := range g.Groups {
		c.Groups[k] = v
	}
	return c
}

// IsEmpty reports whether the group has no run-specs and no sub-groups.
func (g *Group) IsEmpty() bool {
	return len(g.Apps) == 0 && len(g.Pods) == 0 && len(g.Groups) == 0
}

// RootGroup is the top of the group tree and the unit of atomic update.
type RootGroup struct {
	root *Group
}

// NewRootGroup creates an empty root at version.
func NewRootGroup(version time.Time) *RootGroup {
	return &RootGroup{root: NewGroup(pathid.Root, version)}
}

// FromGroup wraps an existing tree, e.g. one loaded from a repository.
func FromGroup(g *Group) *RootGroup {
	return &RootGroup{root: g}
}

// Group returns the underlying root node, for persistence.
func (r *RootGroup) Group() *Group {
	return r.root
}

// Version returns the root's version timestamp.
func (r *RootGroup) Version() time.Time {
	return r.root.Version
}

// GroupAt returns the group at id, or nil.
func (r *RootGroup) GroupAt(id pathid.PathID) *Group {
	current := r.root
	for _, seg := range id.Segments() {
		child, ok := current.Groups[current.GroupID.Append(seg).String()]
		if !ok {
			return nil
		}
		current = child
	}
	return current
}

// App returns the app at id, or nil.
func (r *RootGroup) App(id pathid.PathID) *spec.AppDefinition {
	parent := r.GroupAt(id.Parent())
	if parent == nil {
		return nil
	}
	return parent.Apps[id.String()]
}

// Pod returns the pod at id, or nil.
func (r *RootGroup) Pod(id pathid.PathID) *spec.PodDefinition {
	parent := r.GroupAt(id.Parent())
	if parent == nil {
		return nil
	}
	return parent.Pods[id.String()]
}

// RunSpec returns the app or pod at id, or nil.
func (r *RootGroup) RunSpec(id pathid.PathID) spec.RunSpec {
	if app := r.App(id); app != nil {
		return app
	}
	if pod := r.Pod(id); pod != nil {
		return pod
	}
	return nil
}

// RunSpecs returns every run-spec in the tree, sorted by id.
func (r *RootGroup) RunSpecs() []spec.RunSpec {
	var specs []spec.RunSpec
	r.walk(func(g *Group) {
		for _, app := range g.Apps {
			specs = append(specs, app)
		}
		for _, pod := range g.Pods {
			specs = append(specs, pod)
		}
	})
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].ID().Less(specs[j].ID())
	})
	return specs
}

// Apps returns every app in the tree, sorted by id.
func (r *RootGroup) Apps() []*spec.AppDefinition {
	var apps []*spec.AppDefinition
	r.walk(func(g *Group) {
		for _, app := range g.Apps {
			apps = append(apps, app)
		}
	})
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].AppID.Less(apps[j].AppID)
	})
	return apps
}

// Pods returns every pod in the tree, sorted by id.
func (r *RootGroup) Pods() []*spec.PodDefinition {
	var pods []*spec.PodDefinition
	r.walk(func(g *Group) {
		for _, pod := range g.Pods {
			pods = append(pods, pod)
		}
	})
	sort.Slice(pods, func(i, j int) bool {
		return pods[i].PodID.Less(pods[j].PodID)
	})
	return pods
}

// RunSpecIDs returns the ids of every run-spec, sorted.
func (r *RootGroup) RunSpecIDs() []pathid.PathID {
	specs := r.RunSpecs()
	ids := make([]pathid.PathID, len(specs))
	for i, s := range specs {
		ids[i] = s.ID()
	}
	return ids
}

func (r *RootGroup) walk(fn func(*Group)) {
	var visit func(*Group)
	visit = func(g *Group) {
		fn(g)
		for _, child := range g.Groups {
			visit(child)
		}
	}
	visit(r.root)
}

// DependencyGraph builds the dependency graph over the tree's run-specs.
func (r *RootGroup) DependencyGraph() *DependencyGraph {
	return NewDependencyGraph(r.RunSpecs())
}
