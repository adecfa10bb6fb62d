package scheduler

import (
	"context"

	"github.com/cuemby/stride/pkg/events"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/metrics"
	"github.com/cuemby/stride/pkg/offers"
	"github.com/cuemby/stride/pkg/tracker"
)

// ReconcileTasks aligns the tracker with the offer layer: instances whose
// run-spec no longer exists are decommissioned as orphans, and the statuses
// of all live tasks are submitted for explicit reconciliation followed by
// the empty-list sentinel. Concurrent requests coalesce: at most one
// reconciliation runs; requests arriving during one complete with it.
func (s *Scheduler) ReconcileTasks(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	s.mu.Lock()
	if s.reconciling {
		s.reconcileWaiters = append(s.reconcileWaiters, done)
		s.mu.Unlock()
		return done
	}
	s.reconciling = true
	s.mu.Unlock()

	go func() {
		err := s.reconcile(ctx)

		s.mu.Lock()
		waiters := s.reconcileWaiters
		s.reconcileWaiters = nil
		s.reconciling = false
		s.mu.Unlock()

		done <- err
		for _, waiter := range waiters {
			waiter <- err
		}
		s.broker.Publish(&events.Event{Type: events.EventReconciliationFinished})
	}()
	return done
}

func (s *Scheduler) reconcile(ctx context.Context) error {
	started := s.clock.Now()
	defer func() {
		metrics.ReconciliationsTotal.Inc()
		metrics.ReconciliationDuration.Observe(s.clock.Now().Sub(started).Seconds())
	}()

	root, err := s.store.Roots().Root(ctx)
	if err != nil && !isNotFound(err) {
		return err
	}

	var statuses []offers.TaskStatus
	for _, inst := range s.tracker.List() {
		if root == nil || root.RunSpec(inst.InstanceID.RunSpecID) == nil {
			if inst.State.Goal != instance.GoalDecommissioned {
				s.logger.Info().
					Str("instance_id", inst.InstanceID.String()).
					Msg("decommissioning orphaned instance")
				if err := s.tracker.SetGoal(ctx, inst.InstanceID, instance.GoalDecommissioned, tracker.ReasonOrphaned); err != nil {
					s.logger.Error().Err(err).Str("instance_id", inst.InstanceID.String()).Msg("failed to decommission orphan")
				}
			}
		}

		agentID := ""
		if inst.AgentInfo != nil {
			agentID = inst.AgentInfo.AgentID
		}
		for _, task := range inst.TaskList() {
			// Terminal tasks have nothing to reconcile; provisioned tasks
			// were never launched.
			if task.Condition.IsTerminal() || task.Condition == instance.ConditionProvisioned {
				continue
			}
			statuses = append(statuses, offers.TaskStatus{
				TaskID:     task.ID,
				InstanceID: inst.InstanceID.String(),
				Condition:  task.Condition,
				AgentID:    agentID,
			})
		}
	}

	if err := s.driver.ReconcileTasks(ctx, statuses); err != nil {
		return err
	}
	// The empty list signals the offer layer that this round is complete.
	return s.driver.ReconcileTasks(ctx, nil)
}
