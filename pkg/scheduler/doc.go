// Package scheduler is the deployment executor: the single serializer of
// deployment starts and reconciliations. It gates on leadership, holds the
// per-run-spec lock table, drives deployment steps to completion against
// the instance tracker and the offer layer, reconciles task state and keeps
// run-specs at their declared instance counts.
package scheduler
