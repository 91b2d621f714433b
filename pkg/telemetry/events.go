package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a diagnostic emitted while planning a build.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	// Source is the component that emitted the event.
	Source string `json:"source"`
	RunID  string `json:"run_id,omitempty"`
	// Package is the package the event is about, if any.
	Package string                 `json:"package,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeWarning         = "warning"
	EventTypeConflict        = "resolve.conflict"
	EventTypeResolved        = "resolve.completed"
	EventTypeUnitsBuilt      = "units.built"
	EventTypePolicyViolation = "policy.violation"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles one event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event is wanted.
type EventFilter func(event Event) bool

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// EventPublisher fans events out to subscribers. Events are delivered in
// publish order by a single goroutine; Shutdown delivers whatever is still
// queued.
type EventPublisher struct {
	config      EventsConfig
	queue       chan Event
	done        chan struct{}
	closeOnce   sync.Once
	mu          sync.RWMutex
	subscribers []subscriberEntry
}

// NewEventPublisher starts a publisher. A disabled publisher drops every
// event.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled {
		return ep
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	ep.queue = make(chan Event, size)
	ep.done = make(chan struct{})
	go ep.run()
	return ep
}

func (ep *EventPublisher) run() {
	defer close(ep.done)
	for event := range ep.queue {
		ep.deliver(event)
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Subscribe registers a subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// Publish queues event, filling in its ID and timestamp. It blocks while
// the queue is full.
func (ep *EventPublisher) Publish(event Event) (err error) {
	if ep == nil || ep.queue == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("event publisher stopped")
		}
	}()
	ep.queue <- event
	return nil
}

// PublishWarning publishes a non-fatal diagnostic.
func (ep *EventPublisher) PublishWarning(runID, source, code, pkg, message string) error {
	return ep.Publish(Event{
		Type:    EventTypeWarning,
		Source:  source,
		RunID:   runID,
		Package: pkg,
		Code:    code,
		Message: message,
		Level:   EventLevelWarning,
	})
}

// PublishConflict publishes a fatal resolution error.
func (ep *EventPublisher) PublishConflict(runID, code, message string) error {
	return ep.Publish(Event{
		Type:    EventTypeConflict,
		Source:  "resolver",
		RunID:   runID,
		Code:    code,
		Message: message,
		Level:   EventLevelError,
	})
}

// PublishResolved reports a successful resolution.
func (ep *EventPublisher) PublishResolved(runID string, packages int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeResolved,
		Source:  "resolver",
		RunID:   runID,
		Message: fmt.Sprintf("resolved %d packages in %s", packages, duration.Round(time.Millisecond)),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"packages": packages, "duration": duration.Seconds()},
	})
}

// PublishUnitsBuilt reports a finished unit graph.
func (ep *EventPublisher) PublishUnitsBuilt(runID string, units int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeUnitsBuilt,
		Source:  "compiler",
		RunID:   runID,
		Message: fmt.Sprintf("planned %d units in %s", units, duration.Round(time.Millisecond)),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"units": units, "duration": duration.Seconds()},
	})
}

// PublishPolicyViolation reports a package rejected by a policy.
func (ep *EventPublisher) PublishPolicyViolation(runID, policy, pkg, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		RunID:   runID,
		Package: pkg,
		Message: fmt.Sprintf("%s: %s", policy, reason),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"policy": policy},
	})
}

// PublishRunCompleted reports the end of a command, failed or not.
func (ep *EventPublisher) PublishRunCompleted(runID string, duration time.Duration, err error) error {
	event := Event{
		Type:    EventTypeRunCompleted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("run %s completed", runID),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"duration": duration.Seconds()},
	}
	if err != nil {
		event.Type = EventTypeRunFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("run %s failed: %v", runID, err)
	}
	return ep.Publish(event)
}

// Shutdown stops accepting events and waits until queued events are
// delivered or ctx is done.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.queue == nil {
		return nil
	}
	ep.closeOnce.Do(func() { close(ep.queue) })
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel keeps events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	floor := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= floor
	}
}

// FilterByType keeps events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByRunID keeps events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
