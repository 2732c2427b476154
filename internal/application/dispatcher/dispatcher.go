package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
	"github.com/google/uuid"
)

// Dispatcher is the in-process event bus: pure fan-out, no persistence.
// Exact-type subscribers plus wildcard (event.TypeAny) subscribers are
// notified on every emission; a failure in one handler never blocks or
// fails the others.
type Dispatcher interface {
	// On registers a handler for an event type and returns its subscription id
	On(eventType event.Type, handler Handler) SubscriptionID

	// OnNamed registers a handler with a name for debugging
	OnNamed(eventType event.Type, name string, handler Handler) SubscriptionID

	// Once registers a handler removed after its first invocation
	Once(eventType event.Type, handler Handler) SubscriptionID

	// Off removes a handler by subscription id
	Off(id SubscriptionID)

	// Dispatch sends the event to all matching handlers synchronously,
	// in registration order. Handler errors are isolated and logged; the
	// first is returned for the caller's information.
	Dispatch(ctx context.Context, evt *event.Event) error

	// Emit sends the event to matching handlers asynchronously and does
	// not wait for them to complete
	Emit(ctx context.Context, evt *event.Event)

	// ListSubscriptions returns registered handlers for an event type
	ListSubscriptions(eventType event.Type) []SubscriptionInfo

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

// Logger is the minimal logging dependency of the bus
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu            sync.RWMutex
	subscriptions map[event.Type][]*subscription
	index         map[SubscriptionID]event.Type
	logger        Logger

	wg     sync.WaitGroup
	closed bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// New creates a new event dispatcher. The dispatcher is constructed
// explicitly and injected into each component that emits or consumes
// events; there is no ambient global instance.
func New(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		subscriptions: make(map[event.Type][]*subscription),
		index:         make(map[SubscriptionID]event.Type),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// On registers a handler for an event type
func (d *eventDispatcher) On(eventType event.Type, handler Handler) SubscriptionID {
	return d.register(eventType, "", handler, false)
}

// OnNamed registers a handler with a specific name for debugging
func (d *eventDispatcher) OnNamed(eventType event.Type, name string, handler Handler) SubscriptionID {
	return d.register(eventType, name, handler, false)
}

// Once registers a handler removed after its first invocation
func (d *eventDispatcher) Once(eventType event.Type, handler Handler) SubscriptionID {
	return d.register(eventType, "", handler, true)
}

func (d *eventDispatcher) register(eventType event.Type, name string, handler Handler, once bool) SubscriptionID {
	id := SubscriptionID(uuid.NewString())
	if name == "" {
		name = fmt.Sprintf("handler-%s", id[:8])
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.subscriptions[eventType] = append(d.subscriptions[eventType], &subscription{
		id:        id,
		name:      name,
		eventType: eventType,
		handler:   handler,
		once:      once,
	})
	d.index[id] = eventType

	if d.logger != nil {
		d.logger.Info("Handler registered",
			"event_type", eventType,
			"handler_name", name,
			"once", once,
		)
	}

	return id
}

// Off removes a handler by subscription id
func (d *eventDispatcher) Off(id SubscriptionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(id)
}

func (d *eventDispatcher) removeLocked(id SubscriptionID) {
	eventType, ok := d.index[id]
	if !ok {
		return
	}
	delete(d.index, id)

	subs := d.subscriptions[eventType]
	filtered := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			filtered = append(filtered, s)
		}
	}
	d.subscriptions[eventType] = filtered
}

// matching returns exact-type subscribers followed by wildcard
// subscribers, removing any once-subscriptions from the table, and
// reports whether the dispatcher is still open. When reserve is set it
// also registers the handlers on the WaitGroup before releasing the
// lock, so a concurrent Close cannot start waiting between the closed
// check and the add.
func (d *eventDispatcher) matching(eventType event.Type, reserve bool) ([]*subscription, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false
	}

	subs := make([]*subscription, 0, len(d.subscriptions[eventType])+len(d.subscriptions[event.TypeAny]))
	subs = append(subs, d.subscriptions[eventType]...)
	if eventType != event.TypeAny {
		subs = append(subs, d.subscriptions[event.TypeAny]...)
	}

	for _, s := range subs {
		if s.once {
			d.removeLocked(s.id)
		}
	}
	if reserve {
		d.wg.Add(len(subs))
	}
	return subs, true
}

// Dispatch sends the event to all matching handlers synchronously
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	subs, open := d.matching(evt.Type, false)
	if !open {
		return fmt.Errorf("dispatcher is closed")
	}

	var firstErr error
	for _, s := range subs {
		if err := d.safeExecute(ctx, evt, s); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", s.name,
					"error", err,
				)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("handler %s failed: %w", s.name, err)
			}
		}
	}

	return firstErr
}

// Emit sends the event to matching handlers asynchronously
func (d *eventDispatcher) Emit(ctx context.Context, evt *event.Event) {
	subs, open := d.matching(evt.Type, true)
	if !open {
		if d.logger != nil {
			d.logger.Error("Cannot emit event, dispatcher is closed",
				"event_type", evt.Type,
				"event_id", evt.ID,
			)
		}
		return
	}

	for _, s := range subs {
		go func(s *subscription) {
			defer d.wg.Done()

			if err := d.safeExecute(ctx, evt, s); err != nil {
				if d.logger != nil {
					d.logger.Error("Async handler error",
						"event_type", evt.Type,
						"event_id", evt.ID,
						"handler_name", s.name,
						"error", err,
					)
				}
			}
		}(s)
	}
}

// ListSubscriptions returns registered handlers for an event type
func (d *eventDispatcher) ListSubscriptions(eventType event.Type) []SubscriptionInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	subs := d.subscriptions[eventType]
	result := make([]SubscriptionInfo, len(subs))
	for i, s := range subs {
		result[i] = SubscriptionInfo{
			ID:        s.id,
			Name:      s.name,
			EventType: s.eventType,
		}
	}
	return result
}

// Close shuts down the dispatcher and waits for async handlers to
// complete. Flipping closed under the mutex linearizes Close against
// Emit's check-and-reserve, so every handler Close waits on was
// reserved first.
func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()

	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}
	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, s *subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Handler panic recovered",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", s.name,
					"panic", r,
				)
			}
		}
	}()

	return s.handler(ctx, evt)
}
