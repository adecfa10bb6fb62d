package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cuemby/stride/pkg/deployment"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/metrics"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/cuemby/stride/pkg/tracker"
	"golang.org/x/sync/errgroup"
)

// executeSteps runs each step's actions in parallel and waits for every
// action before advancing to the next step.
func (s *Scheduler) executeSteps(ctx context.Context, plan *deployment.Plan) error {
	for i, step := range plan.Steps {
		started := s.clock.Now()
		s.logger.Info().
			Str("deployment_id", plan.ID).
			Int("step", i).
			Int("actions", len(step.Actions)).
			Msg("deployment step started")

		g, stepCtx := errgroup.WithContext(ctx)
		for _, action := range step.Actions {
			action := action
			g.Go(func() error {
				return s.executeAction(stepCtx, action)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}

		metrics.DeploymentStepsTotal.Inc()
		metrics.DeploymentStepDuration.Observe(s.clock.Now().Sub(started).Seconds())
	}
	return nil
}

func (s *Scheduler) executeAction(ctx context.Context, action deployment.Action) error {
	switch action.Type {
	case deployment.ActionStart:
		// Backward-compat placeholder: succeeds immediately with zero
		// instances.
		return nil
	case deployment.ActionStop:
		return s.stopRunSpec(ctx, action.Spec)
	case deployment.ActionScale:
		return s.scaleRunSpec(ctx, action.Spec, action.ScaleTo, action.Sentenced)
	case deployment.ActionRestart:
		return s.restartRunSpec(ctx, action.Spec)
	default:
		return fmt.Errorf("unknown deployment action %q", action.Type)
	}
}

// stopRunSpec decommissions every instance of the spec and waits until the
// kill service confirms them gone.
func (s *Scheduler) stopRunSpec(ctx context.Context, runSpec spec.RunSpec) error {
	if err := s.queue.Purge(ctx, runSpec.ID()); err != nil {
		return fmt.Errorf("failed to purge launch queue for %s: %w", runSpec.ID(), err)
	}

	instances := s.tracker.ListByRunSpec(runSpec.ID())
	for _, inst := range instances {
		if err := s.tracker.SetGoal(ctx, inst.InstanceID, instance.GoalDecommissioned, tracker.ReasonUserRequest); err != nil {
			return err
		}
	}
	return s.awaitPromise(ctx, s.killer.KillInstances(ctx, instances))
}

// scaleRunSpec drives the live instance count to target. Scaling down kills
// sentenced instances first; scaling up schedules new instances and waits
// until they are live (and ready, when readiness checks are configured).
func (s *Scheduler) scaleRunSpec(ctx context.Context, runSpec spec.RunSpec, target int, sentenced []*instance.Instance) error {
	current := s.countedInstances(runSpec.ID())

	if len(current) > target {
		victims := s.pickVictims(current, sentenced, len(current)-target)
		for _, victim := range victims {
			if err := s.tracker.SetGoal(ctx, victim.InstanceID, instance.GoalDecommissioned, tracker.ReasonOverCapacity); err != nil {
				return err
			}
		}
		if err := s.awaitPromise(ctx, s.killer.KillInstances(ctx, victims)); err != nil {
			return err
		}
	}

	if missing := target - len(s.countedInstances(runSpec.ID())); missing > 0 {
		if _, err := s.tracker.Schedule(ctx, runSpec, missing); err != nil {
			return err
		}
		if err := s.queue.Add(ctx, runSpec, missing); err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", runSpec.ID(), err)
		}
		metrics.LaunchRequestsTotal.Inc()
	}

	return s.awaitCondition(ctx, func() bool {
		return s.liveCount(runSpec) >= target
	})
}

// restartRunSpec replaces all instances of the spec with instances of the
// new configuration, honouring the upgrade strategy: the total of old and
// new instances never drops below ceil(minimumHealthCapacity*target) and
// never exceeds target+floor(maximumOverCapacity*target). When that ceiling
// leaves no room above the floor, the ceiling is the floor plus one.
func (s *Scheduler) restartRunSpec(ctx context.Context, runSpec spec.RunSpec) error {
	target := runSpec.InstanceCount()
	strategy := runSpec.UpgradeStrategy()
	minHealthy := int(math.Ceil(strategy.MinimumHealthCapacity * float64(target)))
	maxTotal := target + int(math.Floor(strategy.MaximumOverCapacity*float64(target)))
	if maxTotal <= minHealthy {
		// Always leave room to make progress.
		maxTotal = minHealthy + 1
	}

	version := runSpec.Version()

	for {
		old, fresh := s.partitionByVersion(runSpec.ID(), version)
		freshLive := s.liveCountOf(runSpec, fresh)

		if len(old) == 0 && freshLive >= target {
			return nil
		}

		total := len(old) + len(fresh)

		// Kill old instances down to what the health floor allows, but
		// never below the floor and only as many as fresh capacity covers.
		killable := total - minHealthy
		if surplus := len(old); surplus < killable {
			killable = surplus
		}
		if killable > 0 {
			victims := old[:killable]
			for _, victim := range victims {
				if err := s.tracker.SetGoal(ctx, victim.InstanceID, instance.GoalDecommissioned, tracker.ReasonOverCapacity); err != nil {
					return err
				}
			}
			if err := s.awaitPromise(ctx, s.killer.KillInstances(ctx, victims)); err != nil {
				return err
			}
			continue
		}

		// Launch fresh instances into the remaining over-capacity room.
		old, fresh = s.partitionByVersion(runSpec.ID(), version)
		room := maxTotal - (len(old) + len(fresh))
		need := target - len(fresh)
		toLaunch := need
		if room < toLaunch {
			toLaunch = room
		}
		if toLaunch > 0 {
			if _, err := s.tracker.Schedule(ctx, runSpec, toLaunch); err != nil {
				return err
			}
			if err := s.queue.Add(ctx, runSpec, toLaunch); err != nil {
				return fmt.Errorf("failed to enqueue %s: %w", runSpec.ID(), err)
			}
			metrics.LaunchRequestsTotal.Inc()
		}

		if err := s.awaitChange(ctx); err != nil {
			return err
		}
	}
}

// countedInstances returns the instances that count against a run-spec's
// target: goal running and neither terminal nor unreachable-inactive.
func (s *Scheduler) countedInstances(id pathid.PathID) []*instance.Instance {
	var out []*instance.Instance
	for _, inst := range s.tracker.List() {
		if inst.InstanceID.RunSpecID.String() != id.String() {
			continue
		}
		if inst.State.Goal != instance.GoalRunning {
			continue
		}
		if inst.State.Condition.IsTerminal() || inst.State.Condition == instance.ConditionUnreachableInactive {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstanceID.String() < out[j].InstanceID.String()
	})
	return out
}

// pickVictims chooses count instances to kill: sentenced instances first,
// then unhealthy and youngest ones.
func (s *Scheduler) pickVictims(current []*instance.Instance, sentenced []*instance.Instance, count int) []*instance.Instance {
	sentencedSet := map[string]bool{}
	for _, inst := range sentenced {
		sentencedSet[inst.InstanceID.String()] = true
	}

	ranked := append([]*instance.Instance(nil), current...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := sentencedSet[ranked[i].InstanceID.String()], sentencedSet[ranked[j].InstanceID.String()]
		if si != sj {
			return si
		}
		hi := ranked[i].State.Healthy != nil && !*ranked[i].State.Healthy
		hj := ranked[j].State.Healthy != nil && !*ranked[j].State.Healthy
		if hi != hj {
			return hi
		}
		// Youngest go first so long-running instances survive scale-downs.
		return ranked[i].State.Since.After(ranked[j].State.Since)
	})

	if count > len(ranked) {
		count = len(ranked)
	}
	return ranked[:count]
}

// partitionByVersion splits a run-spec's counted instances into those
// launched from an older spec version and those from the given version.
func (s *Scheduler) partitionByVersion(id pathid.PathID, version time.Time) (old, fresh []*instance.Instance) {
	for _, inst := range s.countedInstances(id) {
		if inst.RunSpec.Version().Equal(version) {
			fresh = append(fresh, inst)
		} else {
			old = append(old, inst)
		}
	}
	return old, fresh
}

// liveCount counts the spec's instances that are active with goal running,
// applying the readiness gate when the spec declares readiness checks.
func (s *Scheduler) liveCount(runSpec spec.RunSpec) int {
	checks := runSpec.ReadinessChecks()
	return s.tracker.LiveCount(runSpec.ID(), func(inst *instance.Instance) bool {
		if len(checks) == 0 {
			return true
		}
		s.readiness.Watch(inst, checks)
		return s.readiness.IsReady(inst.InstanceID)
	})
}

// liveCountOf counts the live, ready instances among the given set.
func (s *Scheduler) liveCountOf(runSpec spec.RunSpec, instances []*instance.Instance) int {
	checks := runSpec.ReadinessChecks()
	count := 0
	for _, inst := range instances {
		if !inst.IsActive() || inst.State.Goal != instance.GoalRunning {
			continue
		}
		if len(checks) > 0 {
			s.readiness.Watch(inst, checks)
			if !s.readiness.IsReady(inst.InstanceID) {
				continue
			}
		}
		count++
	}
	return count
}

// awaitCondition waits until check holds, re-evaluating on every instance
// event and on a coarse timer.
func (s *Scheduler) awaitCondition(ctx context.Context, check func() bool) error {
	if check() {
		return nil
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	ticker := s.clock.Ticker(time.Second)
	defer ticker.Stop()

	for {
		if check() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return ErrNotLeader
		case <-sub:
		case <-ticker.C:
		}
	}
}

// awaitChange blocks until any instance event or the next coarse tick.
func (s *Scheduler) awaitChange(ctx context.Context) error {
	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	ticker := s.clock.Ticker(time.Second)
	defer ticker.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return ErrNotLeader
	case <-sub:
		return nil
	case <-ticker.C:
		return nil
	}
}

// awaitPromise waits on a kill promise.
func (s *Scheduler) awaitPromise(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return ErrNotLeader
	}
}
