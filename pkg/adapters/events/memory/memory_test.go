package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forksnd/convey/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(n *atomic.Int64) func(context.Context, domain.Event) error {
	return func(context.Context, domain.Event) error {
		n.Add(1)
		return nil
	}
}

func (e *InMemoryEventBus) handlerCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

func TestEveryObserverSeesEveryEvent(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx := context.Background()

	var a, b atomic.Int64
	require.NoError(t, bus.SubscribeBroadcast(ctx, "run.events", countingHandler(&a)))
	require.NoError(t, bus.SubscribeBroadcast(ctx, "run.events", countingHandler(&b)))

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, "run.events", domain.Event{ID: "ev"}))
	}

	// Broadcast semantics: two observers never split the stream between them.
	require.Eventually(t, func() bool {
		return a.Load() == 3 && b.Load() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx := context.Background()

	var kept, gone atomic.Int64
	require.NoError(t, bus.Subscribe(ctx, "run.events", countingHandler(&kept)))

	connCtx, disconnect := context.WithCancel(ctx)
	require.NoError(t, bus.SubscribeBroadcast(connCtx, "run.events", countingHandler(&gone)))
	require.Equal(t, 2, bus.handlerCount("run.events"))

	disconnect()

	// The disconnected handler is dropped, not left to pile up.
	require.Eventually(t, func() bool {
		return bus.handlerCount("run.events") == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "run.events", domain.Event{ID: "ev"}))
	require.Eventually(t, func() bool { return kept.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, gone.Load())
}

func TestUnsubscribeClearsTopic(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx := context.Background()

	var n atomic.Int64
	require.NoError(t, bus.Subscribe(ctx, "stage.results", countingHandler(&n)))
	require.NoError(t, bus.Unsubscribe(ctx, "stage.results"))
	require.Zero(t, bus.handlerCount("stage.results"))

	require.NoError(t, bus.Publish(ctx, "stage.results", domain.Event{ID: "ev"}))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, n.Load())
}
