package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/stride/pkg/log"
	"github.com/cuemby/stride/pkg/metrics"
	"github.com/cuemby/stride/pkg/storage"
	"github.com/rs/zerolog"
)

// State is the collector's FSM state.
type State string

const (
	// StateResting waits for the scan interval timer; only entered when a
	// scan interval is configured.
	StateResting State = "resting"

	// StateReadyForGC waits for the next RunGC request.
	StateReadyForGC State = "ready"

	// StateScanning computes the deletion sets.
	StateScanning State = "scanning"

	// StateCompacting deletes what the scan found.
	StateCompacting State = "compacting"
)

// EntityKind discriminates stored entity references.
type EntityKind string

const (
	KindApp  EntityKind = "app"
	KindPod  EntityKind = "pod"
	KindRoot EntityKind = "root"
)

// EntityRef names one stored entity: a current value (zero Version) or one
// version of it.
type EntityRef struct {
	Kind    EntityKind
	ID      string
	Version time.Time
}

func (r EntityRef) key() string {
	return fmt.Sprintf("%s|%s|%d", r.Kind, r.ID, r.Version.UTC().UnixNano())
}

// Config tunes the collector.
type Config struct {
	// ScanInterval drives Resting -> ReadyForGC; zero disables the timer
	// and the Resting state entirely.
	ScanInterval time.Duration

	// MaxVersions is how many versions to retain per run-spec.
	MaxVersions int

	// MaxRootVersions is how many root versions to retain.
	MaxRootVersions int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval:    30 * time.Minute,
		MaxVersions:     50,
		MaxRootVersions: 25,
	}
}

// Collector is the garbage collection actor.
type Collector struct {
	store  storage.Store
	clock  clock.Clock
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	gcRequested bool
	updated     map[string]bool // entities stored while scanning
	deletion    *deletionSet    // snapshot while compacting
	blocked     []chan struct{} // store gates waiting for CompactDone
	restTimer   *clock.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a collector over the given store.
func New(store storage.Store, clk clock.Clock, cfg Config) *Collector {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxVersions <= 0 {
		cfg.MaxVersions = DefaultConfig().MaxVersions
	}
	if cfg.MaxRootVersions <= 0 {
		cfg.MaxRootVersions = DefaultConfig().MaxRootVersions
	}
	return &Collector{
		store:  store,
		clock:  clk,
		cfg:    cfg,
		logger: log.WithComponent("gc"),
		stopCh: make(chan struct{}),
	}
}

// Start moves the collector out of its initial state: Resting when a scan
// interval is configured, ReadyForGC otherwise.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.ScanInterval > 0 {
		c.enterRestingLocked()
	} else {
		c.state = StateReadyForGC
	}
}

// Stop halts the collector. Blocked stores are released.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.restTimer != nil {
			c.restTimer.Stop()
		}
		c.releaseBlockedLocked()
	})
}

// State returns the current FSM state.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RunGC requests a collection. In ReadyForGC (or Resting) the scan starts
// immediately; while scanning or compacting the request is remembered and a
// fresh scan follows the current cycle.
func (c *Collector) RunGC() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateReadyForGC, StateResting:
		c.beginScanLocked()
	case StateScanning, StateCompacting:
		c.gcRequested = true
	}
}

func (c *Collector) enterRestingLocked() {
	c.state = StateResting
	if c.restTimer != nil {
		c.restTimer.Stop()
	}
	c.restTimer = c.clock.AfterFunc(c.cfg.ScanInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == StateResting {
			c.state = StateReadyForGC
		}
	})
}

func (c *Collector) beginScanLocked() {
	if c.restTimer != nil {
		c.restTimer.Stop()
	}
	c.state = StateScanning
	c.gcRequested = false
	c.updated = map[string]bool{}
	metrics.GCRunsTotal.Inc()
	go c.scanAndReport()
}

func (c *Collector) scanAndReport() {
	result := c.scan(context.Background())
	c.scanDone(result)
}

// scanDone applies the ScanDone transition: subtract stored-during-scan
// entities, then either finish or move to compacting.
func (c *Collector) scanDone(result *deletionSet) {
	c.mu.Lock()

	result.subtract(c.updated)
	c.updated = nil

	if result.empty() {
		if c.gcRequested {
			c.beginScanLocked()
		} else {
			c.state = StateReadyForGC
		}
		c.mu.Unlock()
		return
	}

	c.state = StateCompacting
	c.deletion = result
	c.mu.Unlock()

	go func() {
		c.compact(context.Background(), result)
		c.compactDone()
	}()
}

// compactDone applies the CompactDone transition: release blocked stores,
// then pick the next state.
func (c *Collector) compactDone() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deletion = nil
	c.releaseBlockedLocked()

	switch {
	case c.gcRequested:
		c.beginScanLocked()
	case c.cfg.ScanInterval > 0:
		c.enterRestingLocked()
	default:
		c.state = StateReadyForGC
	}
}

func (c *Collector) releaseBlockedLocked() {
	for _, gate := range c.blocked {
		close(gate)
	}
	c.blocked = nil
	metrics.GCBlockedStores.Set(0)
}

// BeforeStore must be called before persisting any of refs. While scanning,
// the refs are recorded so the scan's deletion set excludes them and the
// store proceeds immediately. While compacting, a store whose target is in
// the deletion set returns a gate that closes at CompactDone. A nil return
// means the store may proceed now.
func (c *Collector) BeforeStore(refs ...EntityRef) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateScanning:
		for _, ref := range refs {
			c.updated[ref.key()] = true
		}
		return nil
	case StateCompacting:
		for _, ref := range refs {
			if c.deletion != nil && c.deletion.contains(ref) {
				gate := make(chan struct{})
				c.blocked = append(c.blocked, gate)
				metrics.GCBlockedStores.Set(float64(len(c.blocked)))
				return gate
			}
		}
		return nil
	default:
		return nil
	}
}
