package events

import (
	"sync"
	"time"

	"github.com/cuemby/stride/pkg/instance"
)

// EventType represents the type of event
type EventType string

const (
	EventInstanceChanged           EventType = "instance.changed"
	EventUnknownInstanceTerminated EventType = "instance.unknown_terminated"
	EventInstanceHealthChanged     EventType = "instance.health_changed"
	EventDeploymentStarted         EventType = "deployment.started"
	EventDeploymentFinished        EventType = "deployment.finished"
	EventDeploymentFailed          EventType = "deployment.failed"
	EventDeploymentStepStarted     EventType = "deployment.step_started"
	EventDeploymentStepFinished    EventType = "deployment.step_finished"
	EventLeadershipGained          EventType = "leadership.gained"
	EventLeadershipLost            EventType = "leadership.lost"
	EventReconciliationFinished    EventType = "reconciliation.finished"
)

// Event is one control-plane event.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// InstanceID and RunSpecID are set for instance events.
	InstanceID string
	RunSpecID  string
	Condition  instance.Condition
	Goal       instance.Goal

	// DeploymentID is set for deployment events.
	DeploymentID string

	Message string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256), // Buffer events across bursts
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
