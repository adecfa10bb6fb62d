package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/stride/pkg/deployment"
	"github.com/cuemby/stride/pkg/events"
	"github.com/cuemby/stride/pkg/group"
	"github.com/cuemby/stride/pkg/health"
	"github.com/cuemby/stride/pkg/kill"
	"github.com/cuemby/stride/pkg/log"
	"github.com/cuemby/stride/pkg/metrics"
	"github.com/cuemby/stride/pkg/offers"
	"github.com/cuemby/stride/pkg/pathid"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/cuemby/stride/pkg/storage"
	"github.com/cuemby/stride/pkg/tracker"
	"github.com/rs/zerolog"
)

// deploymentRun is one in-flight plan.
type deploymentRun struct {
	plan      *deployment.Plan
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan error
	cancelled bool
}

// Scheduler is the deployment executor.
type Scheduler struct {
	store     storage.Store
	tracker   *tracker.Tracker
	killer    *kill.Service
	queue     offers.LaunchQueue
	driver    offers.Driver
	broker    *events.Broker
	readiness *health.ReadinessRunner
	clock     clock.Clock
	logger    zerolog.Logger

	mu     sync.Mutex
	leader bool
	locks  *lockTable
	active map[string]*deploymentRun

	reconciling      bool
	reconcileWaiters []chan error

	monitors map[string]context.CancelFunc // health monitors by app id

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an idle scheduler; it acts only after ElectedAsLeaderAndReady.
func New(store storage.Store, tr *tracker.Tracker, killer *kill.Service,
	queue offers.LaunchQueue, driver offers.Driver, broker *events.Broker,
	readiness *health.ReadinessRunner, clk clock.Clock) *Scheduler {

	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		store:     store,
		tracker:   tr,
		killer:    killer,
		queue:     queue,
		driver:    driver,
		broker:    broker,
		readiness: readiness,
		clock:     clk,
		logger:    log.WithComponent("scheduler"),
		locks:     newLockTable(),
		active:    map[string]*deploymentRun{},
		monitors:  map[string]context.CancelFunc{},
		stopCh:    make(chan struct{}),
	}
}

// Stop suspends the scheduler and cancels every running deployment without
// reverting; a later leader resumes the persisted plans.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		s.leader = false
		for _, run := range s.active {
			run.cancel()
		}
		for _, cancel := range s.monitors {
			cancel()
		}
		s.mu.Unlock()
	})
}

// Suspend deactivates the executor on leadership loss: running plans stop
// without revert (they stay persisted for the next leader to resume), local
// promises fail with ErrNotLeader and the lock table is cleared.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = false
	for id, run := range s.active {
		run.cancelled = true
		run.cancel()
		run.done <- ErrNotLeader
		delete(s.active, id)
	}
	s.locks = newLockTable()
	for id, cancel := range s.monitors {
		cancel()
		delete(s.monitors, id)
	}
	metrics.DeploymentsActive.Set(0)
}

// ElectedAsLeaderAndReady activates the executor: it reconciles health
// checks for every app in the persisted root, resumes outstanding plans and
// starts the periodic scale loop. Persistent repository failures here are
// fatal: the error is returned for the caller to exit on.
func (s *Scheduler) ElectedAsLeaderAndReady(ctx context.Context) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)

	var root *group.RootGroup
	err := backoff.Retry(func() error {
		var err error
		root, err = s.store.Roots().Root(ctx)
		if isNotFound(err) {
			root = group.NewRootGroup(s.clock.Now())
			return nil
		}
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to load root group at election: %w", err)
	}

	var plans []*deployment.Plan
	err = backoff.Retry(func() error {
		var err error
		plans, err = s.store.Deployments().All(ctx)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx))
	if err != nil {
		return fmt.Errorf("failed to load deployments at election: %w", err)
	}

	s.mu.Lock()
	s.leader = true
	s.mu.Unlock()

	s.reconcileHealthChecks(root)

	for _, plan := range plans {
		if _, err := s.resumePlan(plan); err != nil {
			s.logger.Error().Err(err).Str("deployment_id", plan.ID).Msg("failed to resume deployment")
		}
	}

	s.broker.Publish(&events.Event{Type: events.EventLeadershipGained})
	go s.scaleLoop()
	return nil
}

// IsLeader reports whether the executor is active.
func (s *Scheduler) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader
}

// Deploy persists the plan's target root, acquires the run-spec locks and
// drives the plan in the background. The returned channel resolves when the
// plan finished, failed or was cancelled. With force, conflicting plans are
// cancelled and reverted first.
func (s *Scheduler) Deploy(ctx context.Context, plan *deployment.Plan, force bool) (<-chan error, error) {
	s.mu.Lock()
	if !s.leader {
		s.mu.Unlock()
		return nil, ErrNotLeader
	}

	affected := plan.AffectedRunSpecIDs()
	holders := s.locks.conflicts(affected)
	if len(holders) > 0 && !force {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrApplicationLocked, holders)
	}
	for _, holder := range holders {
		s.cancelLocked(ctx, holder)
	}

	run := s.startRunLocked(plan, affected)
	s.mu.Unlock()

	if err := s.persistDeployment(ctx, plan); err != nil {
		s.mu.Lock()
		s.locks.release(plan.ID)
		delete(s.active, plan.ID)
		s.mu.Unlock()
		return nil, err
	}

	go s.runPlan(run)
	return run.done, nil
}

// resumePlan restarts a persisted plan after election without re-persisting
// its target root.
func (s *Scheduler) resumePlan(plan *deployment.Plan) (<-chan error, error) {
	s.mu.Lock()
	affected := plan.AffectedRunSpecIDs()
	if holders := s.locks.conflicts(affected); len(holders) > 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrApplicationLocked, holders)
	}
	run := s.startRunLocked(plan, affected)
	s.mu.Unlock()

	go s.runPlan(run)
	return run.done, nil
}

func (s *Scheduler) startRunLocked(plan *deployment.Plan, affected []pathid.PathID) *deploymentRun {
	ctx, cancel := context.WithCancel(context.Background())
	run := &deploymentRun{
		plan:   plan,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	s.locks.acquire(plan.ID, affected)
	s.active[plan.ID] = run
	metrics.DeploymentsActive.Set(float64(len(s.active)))
	return run
}

// persistDeployment writes the target root (and its run-spec updates) and
// the plan itself before any step executes.
func (s *Scheduler) persistDeployment(ctx context.Context, plan *deployment.Plan) error {
	if err := s.storeRootDiff(ctx, plan.Original, plan.Target); err != nil {
		return fmt.Errorf("failed to store target root: %w", err)
	}
	if err := s.store.Deployments().Store(ctx, plan); err != nil {
		return fmt.Errorf("failed to store deployment plan: %w", err)
	}
	return nil
}

// storeRootDiff persists newRoot along with the run-spec updates and
// deletions relative to oldRoot.
func (s *Scheduler) storeRootDiff(ctx context.Context, oldRoot, newRoot *group.RootGroup) error {
	var updatedApps []*spec.AppDefinition
	var deletedApps []pathid.PathID
	var updatedPods []*spec.PodDefinition
	var deletedPods []pathid.PathID

	oldSpecs := map[string]spec.RunSpec{}
	if oldRoot != nil {
		for _, rs := range oldRoot.RunSpecs() {
			oldSpecs[rs.ID().String()] = rs
		}
	}
	newSpecs := map[string]spec.RunSpec{}
	for _, rs := range newRoot.RunSpecs() {
		newSpecs[rs.ID().String()] = rs
		old, existed := oldSpecs[rs.ID().String()]
		if existed && old.ConfigEquivalent(rs) && old.InstanceCount() == rs.InstanceCount() {
			continue
		}
		switch v := rs.(type) {
		case *spec.AppDefinition:
			updatedApps = append(updatedApps, v)
		case *spec.PodDefinition:
			updatedPods = append(updatedPods, v)
		}
	}
	for id, rs := range oldSpecs {
		if _, kept := newSpecs[id]; kept {
			continue
		}
		switch rs.(type) {
		case *spec.AppDefinition:
			deletedApps = append(deletedApps, rs.ID())
		case *spec.PodDefinition:
			deletedPods = append(deletedPods, rs.ID())
		}
	}

	return s.store.Roots().StoreRoot(ctx, newRoot, updatedApps, deletedApps, updatedPods, deletedPods)
}

// CancelDeployment cancels a plan: locks are revoked, the root change is
// reverted on top of the currently persisted root, and the plan's promise
// fails with ErrDeploymentCancelled.
func (s *Scheduler) CancelDeployment(ctx context.Context, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[deploymentID]; !ok {
		return fmt.Errorf("deployment %s: %w", deploymentID, storage.ErrNotFound)
	}
	s.cancelLocked(ctx, deploymentID)
	return nil
}

func (s *Scheduler) cancelLocked(ctx context.Context, deploymentID string) {
	run, ok := s.active[deploymentID]
	if !ok {
		return
	}
	run.cancelled = true
	run.cancel()
	s.locks.release(deploymentID)
	delete(s.active, deploymentID)
	metrics.DeploymentsActive.Set(float64(len(s.active)))

	if current, err := s.store.Roots().Root(ctx); err == nil {
		if reverted, err := run.plan.Revert(current, s.clock.Now()); err == nil {
			if err := s.storeRootDiff(ctx, current, reverted); err != nil {
				s.logger.Error().Err(err).Str("deployment_id", deploymentID).Msg("failed to store reverted root")
			}
		} else {
			s.logger.Error().Err(err).Str("deployment_id", deploymentID).Msg("failed to revert plan")
		}
	}
	if err := s.store.Deployments().Delete(ctx, deploymentID); err != nil {
		s.logger.Error().Err(err).Str("deployment_id", deploymentID).Msg("failed to delete cancelled plan")
	}

	run.done <- ErrDeploymentCancelled
	metrics.DeploymentsTotal.WithLabelValues("cancelled").Inc()
	s.broker.Publish(&events.Event{Type: events.EventDeploymentFailed, DeploymentID: deploymentID, Message: ErrDeploymentCancelled.Error()})
	s.logger.Info().Str("deployment_id", deploymentID).Msg("deployment cancelled")
}

// ListDeployments returns the ids of plans currently in flight.
func (s *Scheduler) ListDeployments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// runPlan drives a plan's steps and settles its promise.
func (s *Scheduler) runPlan(run *deploymentRun) {
	plan := run.plan
	s.broker.Publish(&events.Event{Type: events.EventDeploymentStarted, DeploymentID: plan.ID})
	s.logger.Info().Str("deployment_id", plan.ID).Int("steps", len(plan.Steps)).Msg("deployment started")

	err := s.executeSteps(run.ctx, plan)

	s.mu.Lock()
	if run.cancelled {
		// cancelLocked already settled the promise and released the locks.
		s.mu.Unlock()
		return
	}
	s.locks.release(plan.ID)
	delete(s.active, plan.ID)
	metrics.DeploymentsActive.Set(float64(len(s.active)))
	s.mu.Unlock()

	ctx := context.Background()
	if err != nil {
		wrapped := &DeploymentFailedError{PlanID: plan.ID, Cause: err}
		metrics.DeploymentsTotal.WithLabelValues("failed").Inc()
		s.broker.Publish(&events.Event{Type: events.EventDeploymentFailed, DeploymentID: plan.ID, Message: err.Error()})
		s.logger.Error().Err(err).Str("deployment_id", plan.ID).Msg("deployment failed")
		run.done <- wrapped
		return
	}

	if err := s.store.Deployments().Delete(ctx, plan.ID); err != nil {
		s.logger.Error().Err(err).Str("deployment_id", plan.ID).Msg("failed to delete finished plan")
	}
	metrics.DeploymentsTotal.WithLabelValues("finished").Inc()
	s.broker.Publish(&events.Event{Type: events.EventDeploymentFinished, DeploymentID: plan.ID})
	s.logger.Info().Str("deployment_id", plan.ID).Msg("deployment finished")
	run.done <- nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
