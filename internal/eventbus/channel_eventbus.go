// Package eventbus delivers run and step lifecycle events to subscribers.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by every operation on a closed bus.
var ErrClosed = errors.New("event bus is closed")

// ChannelEventBus dispatches events to subscribers from a fixed worker pool
// reading a buffered channel.
type ChannelEventBus struct {
	subscribers    map[EventType]map[string]EventHandler
	allSubscribers map[string]EventHandler

	eventChan chan queuedEvent
	done      chan struct{}
	closed    bool

	wg    sync.WaitGroup
	mutex sync.RWMutex // protects subscribers, allSubscribers and closed

	bufferSize    int
	workerCount   int
	maxRetries    int
	retryInterval time.Duration
	log           *zap.Logger
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// ChannelEventBusOption configures the channel-based event bus
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.bufferSize = size
	}
}

// WithWorkerCount sets the number of event processing workers
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.workerCount = count
	}
}

// WithRetries configures how often a failing handler is retried.
func WithRetries(maxRetries int, retryInterval time.Duration) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.maxRetries = maxRetries
		eb.retryInterval = retryInterval
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(l *zap.Logger) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		if l != nil {
			eb.log = l
		}
	}
}

// NewChannelEventBus creates a bus and starts its workers.
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		subscribers:    make(map[EventType]map[string]EventHandler),
		allSubscribers: make(map[string]EventHandler),
		done:           make(chan struct{}),

		bufferSize:    100,
		workerCount:   5,
		maxRetries:    3,
		retryInterval: time.Millisecond * 100,
		log:           zap.NewNop(),
	}

	for _, option := range options {
		option(eb)
	}
	if eb.workerCount < 1 {
		eb.workerCount = 1
	}
	if eb.bufferSize < 0 {
		eb.bufferSize = 0
	}

	eb.eventChan = make(chan queuedEvent, eb.bufferSize)
	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

func (eb *ChannelEventBus) worker() {
	defer eb.wg.Done()

	for {
		select {
		case <-eb.done:
			return
		case evt := <-eb.eventChan:
			eb.dispatch(evt)
		}
	}
}

// dispatch copies the matching handlers under the read lock so handlers may
// subscribe or unsubscribe without deadlocking.
func (eb *ChannelEventBus) dispatch(evt queuedEvent) {
	if evt.ctx.Err() != nil {
		return
	}

	eb.mutex.RLock()
	handlers := make([]EventHandler, 0, len(eb.subscribers[evt.event.Type()])+len(eb.allSubscribers))
	for _, handler := range eb.subscribers[evt.event.Type()] {
		handlers = append(handlers, handler)
	}
	for _, handler := range eb.allSubscribers {
		handlers = append(handlers, handler)
	}
	eb.mutex.RUnlock()

	for _, handler := range handlers {
		eb.runHandler(evt.ctx, evt.event, handler)
	}
}

func (eb *ChannelEventBus) runHandler(ctx context.Context, event Event, handler EventHandler) {
	var err error
	for attempt := 0; attempt <= eb.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if err = handler(ctx, event); err == nil {
			return
		}
		if attempt == eb.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-eb.done:
			return
		case <-time.After(eb.retryInterval):
		}
	}

	eb.log.Warn("event handler failed",
		zap.String("event_type", string(event.Type())),
		zap.Int("retries", eb.maxRetries),
		zap.Error(err))
}

// Publish queues event. It blocks while the buffer is full, until ctx is done
// or the bus closes.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	eb.mutex.RLock()
	closed := eb.closed
	eb.mutex.RUnlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-eb.done:
		return ErrClosed
	case eb.eventChan <- queuedEvent{ctx: ctx, event: event}:
		return nil
	}
}

// Subscribe registers a handler for specific event types
func (eb *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if handler == nil {
		return "", errors.New("handler cannot be nil")
	}
	if len(eventTypes) == 0 {
		return "", errors.New("at least one event type is required")
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return "", ErrClosed
	}

	subscriptionID := uuid.New().String()
	for _, eventType := range eventTypes {
		if _, exists := eb.subscribers[eventType]; !exists {
			eb.subscribers[eventType] = make(map[string]EventHandler)
		}
		eb.subscribers[eventType][subscriptionID] = handler
	}
	return subscriptionID, nil
}

// SubscribeAll registers a handler for all event types
func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	if handler == nil {
		return "", errors.New("handler cannot be nil")
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return "", ErrClosed
	}

	subscriptionID := uuid.New().String()
	eb.allSubscribers[subscriptionID] = handler
	return subscriptionID, nil
}

// Unsubscribe removes a subscription by ID
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return ErrClosed
	}

	delete(eb.allSubscribers, subscriptionID)
	for _, subscribers := range eb.subscribers {
		delete(subscribers, subscriptionID)
	}
	return nil
}

// Close stops the workers and waits for them. Safe to call twice.
func (eb *ChannelEventBus) Close() error {
	eb.mutex.Lock()
	if eb.closed {
		eb.mutex.Unlock()
		return nil
	}
	eb.closed = true
	eb.mutex.Unlock()

	close(eb.done)
	eb.wg.Wait()
	return nil
}
