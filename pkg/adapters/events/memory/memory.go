package memory

import (
	"context"
	"sync"

	"github.com/forksnd/convey/internal/domain"
	"github.com/forksnd/convey/internal/ports"
)

// InMemoryEventBus implements ports.EventBus using in-process handlers.
// This is for testing and single-node use.
type InMemoryEventBus struct {
	subscribers map[string]map[int]ports.EventHandler
	nextID      int
	mu          sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string]map[int]ports.EventHandler),
	}
}

// Publish delivers an event to all subscribers of a topic. Handlers run
// asynchronously; a slow handler never blocks the publisher.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	handlers := make([]ports.EventHandler, 0, len(e.subscribers[topic]))
	for _, handler := range e.subscribers[topic] {
		handlers = append(handlers, handler)
	}
	e.mu.RUnlock()

	for _, handler := range handlers {
		go func(h ports.EventHandler) {
			_ = h(ctx, event)
		}(handler)
	}

	return nil
}

// Subscribe registers a handler for a topic. The handler is removed when ctx
// is done.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	return e.add(ctx, topic, handler)
}

// SubscribeBroadcast registers a handler for a topic. In-process delivery
// already fans every event out to all handlers, so this matches Subscribe;
// the distinction matters for distributed buses.
func (e *InMemoryEventBus) SubscribeBroadcast(ctx context.Context, topic string, handler ports.EventHandler) error {
	return e.add(ctx, topic, handler)
}

func (e *InMemoryEventBus) add(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[int]ports.EventHandler)
	}
	id := e.nextID
	e.nextID++
	e.subscribers[topic][id] = handler
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(topic, id)
	}()

	return nil
}

// remove drops a single subscription. Short-lived subscribers such as
// streaming connections must not accumulate dead handlers.
func (e *InMemoryEventBus) remove(topic string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers[topic], id)
	if len(e.subscribers[topic]) == 0 {
		delete(e.subscribers, topic)
	}
}

// Unsubscribe removes all subscriptions from a topic.
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers, topic)
	return nil
}

// Close closes the event bus and cleans up resources.
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string]map[int]ports.EventHandler)
	return nil
}
