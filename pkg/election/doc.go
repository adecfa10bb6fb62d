// Package election provides the Raft-backed leadership gate for the
// deployment executor. Only the leader drives deployments, reconciliation
// and garbage collection; cluster state itself lives in the repositories,
// so the Raft log carries no commands.
package election
