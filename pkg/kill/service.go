package kill

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/stride/pkg/events"
	"github.com/cuemby/stride/pkg/instance"
	"github.com/cuemby/stride/pkg/log"
	"github.com/cuemby/stride/pkg/metrics"
	"github.com/cuemby/stride/pkg/offers"
	"github.com/cuemby/stride/pkg/tracker"
	"github.com/rs/zerolog"
)

// Config tunes the kill service.
type Config struct {
	// ChunkSize caps concurrent in-flight kill requests.
	ChunkSize int

	// RetryTimeout is how long to wait for a killed task to turn terminal
	// before re-issuing the kill.
	RetryTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    5,
		RetryTimeout: 10 * time.Minute,
	}
}

// inFlightKill tracks one issued kill request.
type inFlightKill struct {
	taskID         string
	agentID        string
	firstRequested time.Time
	lastIssued     time.Time
	attempts       int
}

// pendingKill is a queued kill waiting for an in-flight slot.
type pendingKill struct {
	taskID  string
	agentID string
}

// watch tracks the settlement of one KillInstances entry.
type watch struct {
	// waiting holds task ids that must settle before the promise resolves.
	waiting map[string]bool

	// owner maps each waiting task to its instance id, so an event for one
	// instance never settles another instance's tasks.
	owner map[string]string

	// killed marks tasks a kill request was issued (or queued) for; such a
	// task also settles by going unreachable.
	killed map[string]bool

	resolved bool
	done     chan error
}

// Service is the kill actor.
type Service struct {
	driver  offers.Driver
	tracker *tracker.Tracker
	broker  *events.Broker
	clock   clock.Clock
	cfg     Config
	logger  zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]*inFlightKill
	pending  []pendingKill
	watches  map[string][]*watch // instance id -> watches
	unknown  map[string][]chan error

	sub      events.Subscriber
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewService creates a kill service.
func NewService(driver offers.Driver, tr *tracker.Tracker, broker *events.Broker, clk clock.Clock, cfg Config) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultConfig().RetryTimeout
	}
	return &Service{
		driver:   driver,
		tracker:  tr,
		broker:   broker,
		clock:    clk,
		cfg:      cfg,
		logger:   log.WithComponent("kill"),
		inFlight: map[string]*inFlightKill{},
		watches:  map[string][]*watch{},
		unknown:  map[string][]chan error{},
		stopCh:   make(chan struct{}),
	}
}

// Start subscribes to the event stream and begins the retry loop, then
// enqueues kills for every tracked instance that should not be running.
func (s *Service) Start(ctx context.Context) {
	s.sub = s.broker.Subscribe()
	go s.run()
	s.warmStart(ctx)
}

// Stop stops the actor.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.broker.Unsubscribe(s.sub)
	})
}

func (s *Service) run() {
	retry := s.clock.Ticker(30 * time.Second)
	defer retry.Stop()

	for {
		select {
		case ev, ok := <-s.sub:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case <-retry.C:
			s.retryOverdue(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// warmStart enqueues kills for instances whose goal forbids running tasks.
func (s *Service) warmStart(ctx context.Context) {
	var doomed []*instance.Instance
	for _, inst := range s.tracker.List() {
		if inst.State.Goal == instance.GoalRunning {
			continue
		}
		if inst.HasLiveTasks() {
			doomed = append(doomed, inst)
		}
	}
	if len(doomed) == 0 {
		return
	}
	s.logger.Info().Int("instances", len(doomed)).Msg("enqueueing kills for stopped or decommissioned instances")
	s.KillInstances(ctx, doomed)
}

// KillInstances drives the given instances' tasks to a killed state. The
// returned channel resolves once every selected task is confirmed settled.
// Scheduled instances resolve immediately and are not enqueued.
func (s *Service) KillInstances(ctx context.Context, instances []*instance.Instance) <-chan error {
	done := make(chan error, 1)

	s.mu.Lock()
	w := &watch{waiting: map[string]bool{}, owner: map[string]string{}, killed: map[string]bool{}, done: done}
	watchedInstances := 0

	for _, inst := range instances {
		if inst.State.Condition == instance.ConditionScheduled {
			continue
		}

		selected := false
		for _, task := range inst.Tasks {
			if task.Condition.IsTerminal() {
				continue
			}
			selected = true
			w.waiting[task.ID] = true
			w.owner[task.ID] = inst.InstanceID.String()
			if task.Condition == instance.ConditionUnreachable {
				// No kill request: the agent is gone. Await a status update.
				continue
			}
			w.killed[task.ID] = true
			agentID := ""
			if inst.AgentInfo != nil {
				agentID = inst.AgentInfo.AgentID
			}
			s.enqueueLocked(ctx, task.ID, agentID)
		}
		if selected {
			key := inst.InstanceID.String()
			s.watches[key] = append(s.watches[key], w)
			watchedInstances++
		}
	}
	s.mu.Unlock()

	if watchedInstances == 0 || len(w.waiting) == 0 {
		done <- nil
		return done
	}
	return done
}

// KillUnknownTaskByID issues one kill for a task the tracker does not know
// and resolves when the corresponding UnknownInstanceTerminated event is
// observed.
func (s *Service) KillUnknownTaskByID(ctx context.Context, taskID string) (<-chan error, error) {
	id, err := instanceIDOfTask(taskID)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	s.mu.Lock()
	s.unknown[id.String()] = append(s.unknown[id.String()], done)
	s.enqueueLocked(ctx, taskID, "")
	s.mu.Unlock()
	return done, nil
}

// InFlightCount returns the number of kill requests currently in flight.
func (s *Service) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// enqueueLocked issues the kill if a slot is free, else queues it.
func (s *Service) enqueueLocked(ctx context.Context, taskID, agentID string) {
	if _, dup := s.inFlight[taskID]; dup {
		return
	}
	for _, p := range s.pending {
		if p.taskID == taskID {
			return
		}
	}

	if len(s.inFlight) >= s.cfg.ChunkSize {
		s.pending = append(s.pending, pendingKill{taskID: taskID, agentID: agentID})
		return
	}
	s.issueLocked(ctx, taskID, agentID)
}

func (s *Service) issueLocked(ctx context.Context, taskID, agentID string) {
	now := s.clock.Now()
	s.inFlight[taskID] = &inFlightKill{
		taskID:         taskID,
		agentID:        agentID,
		firstRequested: now,
		lastIssued:     now,
		attempts:       1,
	}
	metrics.KillsInFlight.Set(float64(len(s.inFlight)))
	metrics.KillsIssuedTotal.Inc()

	if err := s.driver.KillTask(ctx, taskID, agentID); err != nil {
		// The retry loop re-issues; kills are idempotent.
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("kill request failed, will retry")
	}
}

// retryOverdue re-issues kills whose task did not settle in time.
func (s *Service) retryOverdue(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.inFlight {
		if now.Sub(entry.lastIssued) < s.cfg.RetryTimeout {
			continue
		}
		entry.lastIssued = now
		entry.attempts++
		metrics.KillRetriesTotal.Inc()
		s.logger.Info().
			Str("task_id", entry.taskID).
			Int("attempts", entry.attempts).
			Msg("re-issuing kill request")
		if err := s.driver.KillTask(ctx, entry.taskID, entry.agentID); err != nil {
			s.logger.Warn().Err(err).Str("task_id", entry.taskID).Msg("kill retry failed")
		}
	}
}

// handleEvent settles watches against the tracker's view of the instance.
func (s *Service) handleEvent(ev *events.Event) {
	switch ev.Type {
	case events.EventInstanceChanged, events.EventUnknownInstanceTerminated:
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Type == events.EventUnknownInstanceTerminated {
		for _, done := range s.unknown[ev.InstanceID] {
			done <- nil
		}
		delete(s.unknown, ev.InstanceID)

		for taskID := range s.inFlight {
			if id, err := instanceIDOfTask(taskID); err == nil && id.String() == ev.InstanceID {
				delete(s.inFlight, taskID)
			}
		}
		metrics.KillsInFlight.Set(float64(len(s.inFlight)))
	}

	watches, ok := s.watches[ev.InstanceID]
	if !ok {
		s.drainQueueLocked()
		return
	}

	inst := s.tracker.Get(mustParseID(ev.InstanceID))

	var remaining []*watch
	for _, w := range watches {
		if !w.resolved {
			s.settleLocked(w, ev.InstanceID, inst)
			if len(w.waiting) == 0 {
				w.resolved = true
				w.done <- nil
			}
		}
		if !w.resolved {
			remaining = append(remaining, w)
		}
	}
	if len(remaining) == 0 {
		delete(s.watches, ev.InstanceID)
	} else {
		s.watches[ev.InstanceID] = remaining
	}

	s.drainQueueLocked()
}

// settleLocked removes tasks of the given instance that reached a settled
// state from the watch and from the in-flight set. A task settles when it
// is terminal, when it vanished with its instance, or when a killed task
// went unreachable.
func (s *Service) settleLocked(w *watch, instKey string, inst *instance.Instance) {
	for taskID := range w.waiting {
		if w.owner[taskID] != instKey {
			continue
		}
		var task *instance.Task
		if inst != nil {
			task = inst.Tasks[taskID]
		}

		settled := false
		switch {
		case task == nil:
			settled = true
		case task.Condition.IsTerminal():
			settled = true
		case task.Condition == instance.ConditionUnreachable && w.killed[taskID]:
			settled = true
		}

		if settled {
			delete(w.waiting, taskID)
			delete(s.inFlight, taskID)
		}
	}
	metrics.KillsInFlight.Set(float64(len(s.inFlight)))
}

// drainQueueLocked issues pending kills into freed slots.
func (s *Service) drainQueueLocked() {
	for len(s.pending) > 0 && len(s.inFlight) < s.cfg.ChunkSize {
		next := s.pending[0]
		s.pending = s.pending[1:]
		if _, dup := s.inFlight[next.taskID]; dup {
			continue
		}
		s.issueLocked(context.Background(), next.taskID, next.agentID)
	}
}

// instanceIDOfTask derives the instance id embedded in a task id. Pod task
// ids carry a trailing container segment.
func instanceIDOfTask(taskID string) (instance.ID, error) {
	if id, err := instance.ParseID(taskID); err == nil {
		return id, nil
	}
	if idx := strings.LastIndex(taskID, "."); idx > 0 {
		if id, err := instance.ParseID(taskID[:idx]); err == nil {
			return id, nil
		}
	}
	return instance.ID{}, fmt.Errorf("cannot derive instance id from task %q: %w", taskID, instance.ErrMalformedInstanceID)
}

func mustParseID(raw string) instance.ID {
	id, err := instance.ParseID(raw)
	if err != nil {
		return instance.ID{}
	}
	return id
}
