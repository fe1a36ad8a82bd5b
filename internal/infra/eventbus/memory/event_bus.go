// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for testing and
// single-process deployments where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/scanwarden/scanwarden/internal/domain/events"
)

var _ events.EventBus = (*EventBus)(nil)

// EventBus dispatches envelopes to in-process subscribers. Handlers run
// synchronously on the publisher's goroutine, so tests observe every event
// deterministically.
type EventBus struct {
	mu       sync.RWMutex
	closed   bool
	handlers map[events.EventType][]func(context.Context, events.EventEnvelope) error
}

// NewEventBus creates an empty in-memory event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[events.EventType][]func(context.Context, events.EventEnvelope) error),
	}
}

// Subscribe registers a handler for the given event types. The handler is
// invoked for every matching envelope published afterwards.
func (b *EventBus) Subscribe(
	ctx context.Context,
	eventTypes []events.EventType,
	handler func(context.Context, events.EventEnvelope) error,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("event bus is closed")
	}
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], handler)
	}
	return nil
}

// Publish synchronously delivers the envelope to every subscriber of its
// type. The first handler error aborts delivery and is returned.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var pParams events.PublishParams
	for _, opt := range opts {
		opt(&pParams)
	}
	if pParams.Key != "" {
		event.Key = pParams.Key
	}
	if len(pParams.Headers) > 0 {
		event.Headers = pParams.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("event bus is closed")
	}
	// Copy handlers so they run without the lock held.
	handlers := make([]func(context.Context, events.EventEnvelope) error, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the bus; further publishes and subscriptions fail.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType][]func(context.Context, events.EventEnvelope) error)
	return nil
}
