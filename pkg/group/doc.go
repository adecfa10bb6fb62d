// Package group models the group tree rooted at "/": a namespace of apps,
// pods and sub-groups that is updated atomically. Updates produce a new
// immutable root or fail validation; the package also maintains the
// dependency graph over run-specs and its layering used by the deployment
// planner.
package group
