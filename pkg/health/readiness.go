package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/log"
	"github.com/cuemby/stride/pkg/spec"
	"github.com/rs/zerolog"
)

// ReadinessRunner probes new instances during deployments and records which
// ones have answered positively. A deployment step only counts an instance
// as live once every configured readiness check passed.
type ReadinessRunner struct {
	mu      sync.RWMutex
	ready   map[string]bool
	cancels map[string]context.CancelFunc
	logger  zerolog.Logger

	// newChecker is swappable for tests.
	newChecker func(rc spec.ReadinessCheck, host string) Checker
}

// NewReadinessRunner creates an idle runner.
func NewReadinessRunner() *ReadinessRunner {
	return &ReadinessRunner{
		ready:      map[string]bool{},
		cancels:    map[string]context.CancelFunc{},
		logger:     log.WithComponent("readiness"),
		newChecker: ForReadinessCheck,
	}
}

// Watch starts probing inst until every check passes or Forget is called.
// Instances without an agent are ignored; they cannot be probed yet.
func (r *ReadinessRunner) Watch(inst *instance.Instance, checks []spec.ReadinessCheck) {
	if len(checks) == 0 || inst.AgentInfo == nil {
		return
	}
	key := inst.InstanceID.String()

	r.mu.Lock()
	if _, watching := r.cancels[key]; watching {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancels[key] = cancel
	r.ready[key] = false
	r.mu.Unlock()

	go r.probe(ctx, key, inst.AgentInfo.Host, checks)
}

func (r *ReadinessRunner) probe(ctx context.Context, key, host string, checks []spec.ReadinessCheck) {
	interval := checks[0].Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			allReady := true
			for _, rc := range checks {
				result := r.newChecker(rc, host).Check(ctx)
				if !result.Healthy {
					allReady = false
					break
				}
			}
			if allReady {
				r.mu.Lock()
				r.ready[key] = true
				r.mu.Unlock()
				r.logger.Debug().Str("instance_id", key).Msg("instance became ready")
				return
			}
		}
	}
}

// IsReady reports whether every readiness check of the instance passed.
// Instances never watched count as not ready.
func (r *ReadinessRunner) IsReady(id instance.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready[id.String()]
}

// MarkReady records a positive verdict directly; used when a check passed
// out of band and by tests.
func (r *ReadinessRunner) MarkReady(id instance.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready[id.String()] = true
}

// Forget stops probing and drops the verdict for id.
func (r *ReadinessRunner) Forget(id instance.ID) {
	key := id.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[key]; ok {
		cancel()
		delete(r.cancels, key)
	}
	delete(r.ready, key)
}
