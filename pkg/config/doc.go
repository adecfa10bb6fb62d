// Package config holds the control plane's core configuration: retention
// limits, garbage collection cadence, kill service tuning and framework
// identity, loadable from a YAML file.
package config
