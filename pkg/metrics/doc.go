// Package metrics declares and registers the Prometheus metrics exposed by
// the control plane.
package metrics
