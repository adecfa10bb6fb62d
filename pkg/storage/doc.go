// Package storage defines the versioned repository contracts for apps,
// pods, roots, deployments and instances, with a BoltDB-backed driver and an
// in-memory driver for tests.
package storage
