package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Plan generation events
	EventPlanGenerationStarted EventType = "plan_generation_started"
	EventPlanGenerationSuccess EventType = "plan_generation_success"
	EventPlanGenerationFailure EventType = "plan_generation_failure"
	EventPlanCacheHit          EventType = "plan_cache_hit"

	// Run events, one run per ExecutePlan call
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"

	// Step events
	EventStepStarted   EventType = "step_started"
	EventStepSucceeded EventType = "step_succeeded"
	EventStepFailed    EventType = "step_failed"

	// EventArgumentParseWarning reports a list expression that could not be
	// parsed and fell through to the remaining resolution rules.
	EventArgumentParseWarning EventType = "argument_parse_warning"

	// Async execution events
	EventAsyncStarted   EventType = "async_started"
	EventAsyncSucceeded EventType = "async_succeeded"
	EventAsyncFailed    EventType = "async_failed"
	EventAsyncCancelled EventType = "async_cancelled"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	Type() EventType
	Payload() interface{}
	Metadata() map[string]interface{}
	// Timestamp is in Unix nanoseconds.
	Timestamp() int64
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish queues an event for every matching subscriber.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types and returns a
	// subscription ID for Unsubscribe.
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for every event type.
	SubscribeAll(handler EventHandler) (string, error)

	Unsubscribe(subscriptionID string) error

	// Close stops the workers. Queued events may be dropped.
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(
	eventType EventType,
	payload interface{},
	source string,
	metadata map[string]interface{},
) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

// NewEmptyEvent creates an event with no payload, source or metadata.
func NewEmptyEvent(eventType EventType) *BaseEvent {
	return NewEvent(eventType, nil, "", nil)
}

func (e *BaseEvent) Type() EventType                  { return e.eventType }
func (e *BaseEvent) Payload() interface{}             { return e.payload }
func (e *BaseEvent) Metadata() map[string]interface{} { return e.metadata }
func (e *BaseEvent) Timestamp() int64                 { return e.timestamp }
func (e *BaseEvent) Source() string                   { return e.sourceInfo }

// WithMetadata sets one metadata entry and returns the same event.
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}

// Emit publishes on bus when bus is non-nil. Publishing errors are returned
// for callers that care; most ignore them.
func Emit(ctx context.Context, bus EventBus, event Event) error {
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, event)
}
