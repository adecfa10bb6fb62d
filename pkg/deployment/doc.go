// Package deployment defines deployment plans and the planner that computes
// them: an ordered, dependency-respecting sequence of steps transforming a
// current root group into a target root group.
package deployment
