// Package shared contains common domain types, errors, and events
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Achievement events
	EventAchievementAwarded  EventType = "achievement.awarded"
	EventAchievementChecked  EventType = "achievement.checked"
	EventProgressUpdated     EventType = "achievement.progress_updated"
	EventCheckFailed         EventType = "achievement.check_failed"
	EventDuplicateNormalized EventType = "achievement.duplicate_normalized"

	// Cache events
	EventCacheInvalidated EventType = "cache.invalidated"
	EventCacheDegraded    EventType = "cache.degraded"

	// Monitor events
	EventAlertRaised    EventType = "monitor.alert_raised"
	EventAlertEscalated EventType = "monitor.alert_escalated"
	EventAlertResolved  EventType = "monitor.alert_resolved"
	EventHealthChanged  EventType = "monitor.health_changed"

	// Batch events
	EventBatchCompleted EventType = "batch.completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced the event.
	AggregateID() string

	// Payload returns the event data for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event. A non-nil error marks the
// handler execution as failed; it does not stop other handlers.
type EventHandler func(Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers for domain events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

// GenericEvent is a simple Event implementation for components that do
// not need a dedicated event struct.
type GenericEvent struct {
	Type        EventType
	Aggregate   string
	Occurred    time.Time
	PayloadData map[string]interface{}
}

// NewGenericEvent creates a GenericEvent timestamped now (UTC).
func NewGenericEvent(t EventType, aggregate string, payload map[string]interface{}) *GenericEvent {
	return &GenericEvent{
		Type:        t,
		Aggregate:   aggregate,
		Occurred:    time.Now().UTC(),
		PayloadData: payload,
	}
}

// EventType implements Event.
func (e *GenericEvent) EventType() EventType { return e.Type }

// OccurredAt implements Event.
func (e *GenericEvent) OccurredAt() time.Time { return e.Occurred }

// AggregateID implements Event.
func (e *GenericEvent) AggregateID() string { return e.Aggregate }

// Payload implements Event.
func (e *GenericEvent) Payload() map[string]interface{} { return e.PayloadData }
