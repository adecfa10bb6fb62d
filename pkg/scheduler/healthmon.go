package scheduler

import (
	"context"
	"time"

	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/health"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/cuemby/stride/pkg/tracker"
)

// reconcileHealthChecks aligns the running health monitors with the apps in
// the root: a monitor per app that declares health checks, none for the
// rest.
func (s *Scheduler) reconcileHealthChecks(root *group.RootGroup) {
	wanted := map[string]spec.RunSpec{}
	for _, runSpec := range root.RunSpecs() {
		if len(runSpec.HealthChecks()) > 0 {
			wanted[runSpec.ID().String()] = runSpec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cancel := range s.monitors {
		if _, keep := wanted[id]; !keep {
			cancel()
			delete(s.monitors, id)
		}
	}
	for id, runSpec := range wanted {
		if _, running := s.monitors[id]; running {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.monitors[id] = cancel
		go s.monitorHealth(ctx, runSpec)
		s.logger.Debug().Str("run_spec_id", id).Msg("health monitor started")
	}
}

// monitorHealth probes every running task of the spec on the check interval
// and feeds the verdicts back into the tracker.
func (s *Scheduler) monitorHealth(ctx context.Context, runSpec spec.RunSpec) {
	checks := runSpec.HealthChecks()
	interval := checks[0].Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	statuses := map[string]*health.Status{}

	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		now := s.clock.Now()
		for _, inst := range s.tracker.ListByRunSpec(runSpec.ID()) {
			if inst.AgentInfo == nil || inst.State.Goal != instance.GoalRunning {
				continue
			}
			for _, task := range inst.TaskList() {
				if task.Condition != instance.ConditionRunning {
					continue
				}

				status, ok := statuses[task.ID]
				if !ok {
					status = health.NewStatus(now)
					statuses[task.ID] = status
				}

				healthy := true
				for _, check := range checks {
					if status.InGracePeriod(check.GracePeriod, now) {
						continue
					}
					result := health.ForHealthCheck(check, inst.AgentInfo.Host).Check(ctx)
					retries := check.Retries
					if retries == 0 {
						retries = 3
					}
					status.Update(result, retries)
					if !status.Healthy {
						healthy = false
					}
				}

				verdict := healthy
				if err := s.tracker.Update(ctx, tracker.TaskUpdate{
					InstanceID: inst.InstanceID,
					TaskID:     task.ID,
					Condition:  task.Condition,
					Healthy:    &verdict,
				}); err != nil {
					s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to record health verdict")
				}
			}
		}
	}
}
