package group

import (
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
)

// DependencyGraph is the directed graph over run-specs, stored by id. An
// edge from a spec points at each of its dependencies.
type DependencyGraph struct {
	edges map[string][]string
}

// NewDependencyGraph builds the graph for the given run-specs. Dependencies
// on ids outside the set are kept as dangling edges; both the layering and
// cycle detection ignore them.
func NewDependencyGraph(specs []spec.RunSpec) *DependencyGraph {
	edges := make(map[string][]string, len(specs))
	for _, s := range specs {
		deps := make([]string, 0, len(s.Dependencies()))
		for _, d := range s.Dependencies() {
			deps = append(deps, d.String())
		}
		edges[s.ID().String()] = deps
	}
	return &DependencyGraph{edges: edges}
}

// HasCycle reports whether following dependency edges can return to a
// visited vertex.
func (g *DependencyGraph) HasCycle() bool {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.edges))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case inStack:
			return true
		case done:
			return false
		}
		state[id] = inStack
		for _, dep := range g.edges[id] {
			if _, present := g.edges[dep]; !present {
				continue
			}
			if visit(dep) {
				return true
			}
		}
		state[id] = done
		return false
	}

	for id := range g.edges {
		if visit(id) {
			return true
		}
	}
	return false
}

// LongestPath returns the length of the longest dependency chain starting at
// id: 0 for specs that depend on nothing, 1+max over dependencies otherwise.
// Unknown ids have length 0; dangling dependencies are ignored. The graph
// must be acyclic.
func (g *DependencyGraph) LongestPath(id pathid.PathID) int {
	memo := make(map[string]int)
	return g.longestPath(id.String(), memo)
}

func (g *DependencyGraph) longestPath(id string, memo map[string]int) int {
	if length, ok := memo[id]; ok {
		return length
	}
	deps, present := g.edges[id]
	if !present {
		return 0
	}
	longest := 0
	for _, dep := range deps {
		if _, known := g.edges[dep]; !known {
			continue
		}
		if l := g.longestPath(dep, memo) + 1; l > longest {
			longest = l
		}
	}
	memo[id] = longest
	return longest
}
