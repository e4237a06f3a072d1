package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a progress or lifecycle event in the pakmux system.
// The engine publishes events instead of printing; user interfaces
// subscribe and render them however they like.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// TransactionID is the associated transaction ID, if applicable.
	TransactionID string `json:"txn_id,omitempty"`

	// Backend is the associated backend name, if applicable.
	Backend string `json:"backend,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Done and Total report step progress for progress events.
	Done  int `json:"done,omitempty"`
	Total int `json:"total,omitempty"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeOperationStarted   = "operation.started"
	EventTypeOperationProgress  = "operation.progress"
	EventTypeOperationCompleted = "operation.completed"
	EventTypeOperationFailed    = "operation.failed"
	EventTypeBackendInvoked     = "backend.invoked"
	EventTypeRollbackStarted    = "rollback.started"
	EventTypeRollbackCompleted  = "rollback.completed"
	EventTypeRecoveryAttempted  = "recovery.attempted"
	EventTypeLockWaiting        = "lock.waiting"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishOperationStarted publishes an operation started event.
func (ep *EventPublisher) PublishOperationStarted(txnID, operation string, targets []string) error {
	return ep.Publish(Event{
		Type:          EventTypeOperationStarted,
		Source:        "engine",
		TransactionID: txnID,
		Message:       fmt.Sprintf("%s %s", operation, strings.Join(targets, " ")),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"operation": operation,
			"targets":   targets,
		},
	})
}

// PublishProgress publishes a step progress event.
func (ep *EventPublisher) PublishProgress(txnID string, done, total int, detail string) error {
	return ep.Publish(Event{
		Type:          EventTypeOperationProgress,
		Source:        "engine",
		TransactionID: txnID,
		Message:       detail,
		Level:         EventLevelInfo,
		Done:          done,
		Total:         total,
	})
}

// PublishOperationCompleted publishes an operation completed event.
func (ep *EventPublisher) PublishOperationCompleted(txnID string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:          EventTypeOperationCompleted,
		Source:        "engine",
		TransactionID: txnID,
		Message:       "operation completed",
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishOperationFailed publishes an operation failed event.
func (ep *EventPublisher) PublishOperationFailed(txnID, reason string) error {
	return ep.Publish(Event{
		Type:          EventTypeOperationFailed,
		Source:        "engine",
		TransactionID: txnID,
		Message:       reason,
		Level:         EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishBackendInvoked publishes a backend invocation event.
func (ep *EventPublisher) PublishBackendInvoked(txnID, backend, command string) error {
	return ep.Publish(Event{
		Type:          EventTypeBackendInvoked,
		Source:        "backend",
		TransactionID: txnID,
		Backend:       backend,
		Message:       command,
		Level:         EventLevelInfo,
	})
}

// PublishRollbackStarted publishes a rollback started event.
func (ep *EventPublisher) PublishRollbackStarted(txnID string, effectCount int) error {
	return ep.Publish(Event{
		Type:          EventTypeRollbackStarted,
		Source:        "journal",
		TransactionID: txnID,
		Message:       fmt.Sprintf("rolling back %d effects", effectCount),
		Level:         EventLevelWarning,
		Data: map[string]interface{}{
			"effect_count": effectCount,
		},
	})
}

// PublishRollbackCompleted publishes a rollback completed event.
func (ep *EventPublisher) PublishRollbackCompleted(txnID string, failed int) error {
	level := EventLevelInfo
	msg := "rollback completed"
	if failed > 0 {
		level = EventLevelError
		msg = fmt.Sprintf("rollback completed with %d effects not inverted", failed)
	}
	return ep.Publish(Event{
		Type:          EventTypeRollbackCompleted,
		Source:        "journal",
		TransactionID: txnID,
		Message:       msg,
		Level:         level,
		Data: map[string]interface{}{
			"failed_inversions": failed,
		},
	})
}

// PublishRecoveryAttempted publishes an error recovery attempt event.
func (ep *EventPublisher) PublishRecoveryAttempted(txnID, backend, description string) error {
	return ep.Publish(Event{
		Type:          EventTypeRecoveryAttempted,
		Source:        "recovery",
		TransactionID: txnID,
		Backend:       backend,
		Message:       description,
		Level:         EventLevelWarning,
	})
}

// PublishLockWaiting publishes a lock contention event.
func (ep *EventPublisher) PublishLockWaiting(holderPID int) error {
	return ep.Publish(Event{
		Type:    EventTypeLockWaiting,
		Source:  "lock",
		Message: fmt.Sprintf("waiting for lock held by pid %d", holderPID),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"holder_pid": holderPID,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain whatever is left before shutting down
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers synchronously.
// Subscribers are expected to be fast; rendering happens on the
// caller's goroutine so progress lines appear in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled || ep.cancel == nil {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByTransactionID creates a filter that only allows events for a specific transaction.
func FilterByTransactionID(txnID string) EventFilter {
	return func(event Event) bool {
		return event.TransactionID == txnID
	}
}
