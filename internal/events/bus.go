package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// Sink consumes decoded events one at a time.
type Sink interface {
	Consume(ctx context.Context, event Event)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, event Event)

// Consume calls f(ctx, event).
func (f SinkFunc) Consume(ctx context.Context, event Event) { f(ctx, event) }

// Bus fans decoded events out to subscribed handlers. Handlers run
// synchronously on the caller's goroutine in subscription order, so wire
// order is preserved for every subscriber. Handlers must not block for long;
// sinks that talk to the network queue internally.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	all      []handlerEntry
	stopped  bool
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates a new Bus instance.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]handlerEntry),
	}
}

// Subscribe registers a handler for a specific event type. Handlers
// registered with SubscribeAll run before per-type handlers.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeAll registers a handler that receives every event type.
func (b *Bus) SubscribeAll(name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handlerEntry{name: name, handler: handler})

	log.Debug().Str("handler", name).Msg("subscribed to all events")
}

// Consume implements Sink. A handler error or panic is logged and never
// reaches the caller.
func (b *Bus) Consume(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return
	}
	typed := b.handlers[event.Type]
	handlers := make([]handlerEntry, 0, len(b.all)+len(typed))
	handlers = append(handlers, b.all...)
	handlers = append(handlers, typed...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		b.dispatch(ctx, h, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, h handlerEntry, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err := h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
}

// Stop makes the bus drop every later event.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	log.Info().Msg("event bus stopped")
}
