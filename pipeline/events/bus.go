// Package events provides the in-process event bus used for pipeline
// notifications: escalations, review outcomes, and audit run completion.
package events

import (
	"context"
	"sync"

	"github.com/apexmarketing/contentpipeline/pipeline/logging"
)

// Event is anything publishable on the bus.
type Event interface {
	EventType() string
}

// Handler processes one event. Handler errors are logged, never propagated;
// a failing subscriber must not affect the pipeline or other subscribers.
type Handler func(ctx context.Context, event Event)

// Bus is a thread-safe in-memory event bus with concurrent fan-out. It is the
// single-process stand-in for an external broker; the pipeline only ever
// publishes, so swapping the transport touches nothing else.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	nextID      int
	inflight    sync.WaitGroup
	logger      logging.Logger
}

type subscription struct {
	id      int
	handler Handler
}

// NewBus creates an empty bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]subscription),
		logger:      logger.Bind("component", "events"),
	}
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish fans the event out to all subscribers concurrently and returns
// without waiting for them. A slow subscriber (a notifier stuck on a network
// call, say) must never hold up the publishing stage handler. Handlers get a
// context detached from the publisher's cancellation so they survive the
// stage deadline. Panicking subscribers are recovered and logged.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.EventType()]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debug("no subscribers", "event", event.EventType())
		return
	}

	hctx := context.WithoutCancel(ctx)
	for _, s := range subs {
		b.inflight.Add(1)
		go func(h Handler) {
			defer b.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("subscriber panicked", "event", event.EventType(), "panic", r)
				}
			}()
			h(hctx, event)
		}(s.handler)
	}
}

// Flush blocks until every handler dispatched so far has returned. Call it
// on shutdown so in-flight notifications drain before the process exits.
func (b *Bus) Flush() {
	b.inflight.Wait()
}
