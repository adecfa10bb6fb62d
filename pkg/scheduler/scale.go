package scheduler

import (
	"context"
	"time"

	"github.com/cuemby/stride/pkg/metrics"
)

// scaleLoop periodically tops run-specs up to their declared instance
// counts while this node leads.
func (s *Scheduler) scaleLoop() {
	ticker := s.clock.Ticker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.IsLeader() {
				return
			}
			if err := s.ScaleRunSpecs(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("scale pass failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// ScaleRunSpecs walks the persisted root and enqueues launch demand for
// every run-spec whose counted instances fall short of its declared count.
// Run-specs under an active deployment are skipped; their deployment owns
// the instance count.
func (s *Scheduler) ScaleRunSpecs(ctx context.Context) error {
	root, err := s.store.Roots().Root(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	for _, runSpec := range root.RunSpecs() {
		s.mu.Lock()
		_, locked := s.locks.owners[runSpec.ID().String()]
		s.mu.Unlock()
		if locked {
			continue
		}

		current := len(s.countedInstances(runSpec.ID()))
		delta := runSpec.InstanceCount() - current
		if delta <= 0 {
			continue
		}

		s.logger.Info().
			Str("run_spec_id", runSpec.ID().String()).
			Int("current", current).
			Int("target", runSpec.InstanceCount()).
			Msg("scaling run-spec up")

		if _, err := s.tracker.Schedule(ctx, runSpec, delta); err != nil {
			s.logger.Error().Err(err).Str("run_spec_id", runSpec.ID().String()).Msg("failed to schedule instances")
			continue
		}
		if err := s.queue.Add(ctx, runSpec, delta); err != nil {
			s.logger.Error().Err(err).Str("run_spec_id", runSpec.ID().String()).Msg("failed to enqueue launch demand")
			continue
		}
		metrics.LaunchRequestsTotal.Inc()
	}
	return nil
}
