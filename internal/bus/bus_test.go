package bus

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// newTestBus dials a local Redis and skips the test if one isn't reachable —
// there is no in-pack fake pub/sub implementation to substitute, and the
// drop-oldest logic under test lives inside RedisBus.Subscribe's goroutine.
func newTestBus(t *testing.T) *RedisBus {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	return NewRedisBus(rdb)
}

func TestPublishSubscribe_DeliversEvent(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "task-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, Event{TaskID: "task-1", Status: taskstore.StatusProcessing, Progress: 42}))

	select {
	case ev := <-sub.Events:
		require.Equal(t, "task-1", ev.TaskID)
		require.Equal(t, 42, ev.Progress)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribe_IsolatedByTaskID(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	subA, err := b.Subscribe(ctx, "task-a")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := b.Subscribe(ctx, "task-b")
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, b.Publish(ctx, Event{TaskID: "task-a", Progress: 1}))

	select {
	case ev := <-subA.Events:
		require.Equal(t, "task-a", ev.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task-a event")
	}

	select {
	case ev := <-subB.Events:
		t.Fatalf("task-b subscriber should not receive task-a's event, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClose_StopsDelivery(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "task-close")
	require.NoError(t, err)
	sub.Close()

	_, ok := <-sub.Events
	require.False(t, ok, "Events channel should be closed after Close")
}
