// Package eventbus is an in-process, synchronous publish/subscribe bus
// over a fixed, typed event catalog. Handlers run on the publisher's
// goroutine; a panicking handler is recovered and logged, never
// propagated to the publisher.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Event names the fixed catalog of events the engine emits.
type Event string

const (
	EventCandleClose              Event = "candle.close"
	EventStrategyExecutionStart   Event = "strategy.execution.start"
	EventStrategyExecutionComplete Event = "strategy.execution.complete"
	EventStrategyExecutionError   Event = "strategy.execution.error"
	EventSubscriptionCreated      Event = "subscription.created"
	EventSubscriptionCancelled    Event = "subscription.cancelled"
	EventTradeCreated             Event = "trade.created"
	EventTradeFilled              Event = "trade.filled"
	EventTradeClosed              Event = "trade.closed"
)

// maxListenersPerEvent guards against runaway subscription growth; a
// caller hitting this is almost always leaking subscriptions rather than
// legitimately needing that many handlers.
const maxListenersPerEvent = 100

// Handler processes a single published payload. It must not block for
// long: it runs synchronously on the publisher's goroutine.
type Handler func(payload any)

type listener struct {
	id      uint64
	handler Handler
}

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

// Bus is the fixed-catalog synchronous event bus.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Event][]listener
	nextID    atomic.Uint64
	log       *slog.Logger
}

// New creates an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		listeners: make(map[Event][]listener),
		log:       log.With(slog.String("component", "eventbus")),
	}
}

// Subscribe registers handler for event. It returns an error if the event
// already has maxListenersPerEvent handlers registered.
func (b *Bus) Subscribe(event Event, handler Handler) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.listeners[event]) >= maxListenersPerEvent {
		return nil, fmt.Errorf("eventbus: event %q already has %d listeners", event, maxListenersPerEvent)
	}

	id := b.nextID.Add(1)
	b.listeners[event] = append(b.listeners[event], listener{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.listeners[event]
		for i, l := range subs {
			if l.id == id {
				b.listeners[event] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}, nil
}

// Publish invokes every handler registered for event, synchronously, in
// registration order. A panicking handler is recovered and logged; it does
// not prevent remaining handlers from running and never propagates to the
// caller.
func (b *Bus) Publish(event Event, payload any) {
	b.mu.RLock()
	subs := make([]listener, len(b.listeners[event]))
	copy(subs, b.listeners[event])
	b.mu.RUnlock()

	for _, l := range subs {
		b.invoke(event, l, payload)
	}
}

func (b *Bus) invoke(event Event, l listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				slog.String("event", string(event)),
				slog.Uint64("listener_id", l.id),
				slog.Any("recovered", r),
			)
		}
	}()
	l.handler(payload)
}
