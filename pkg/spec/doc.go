// Package spec defines the immutable workload specifications Stride drives
// toward: apps, pods, their shared attributes (resources, upgrade and
// unreachable strategies, version info) and the diffing rules that decide
// whether a change is scale-only or needs a restart.
package spec
