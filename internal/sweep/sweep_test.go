package sweep

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/funmagic-ai/magiworld-sub000/internal/queue"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepOnce_ReenqueuesOrphanedPendingTasks(t *testing.T) {
	store := taskstore.NewMemoryStore()
	old := &taskstore.Task{ID: "orphan-1", ToolSlug: "background-remove"}
	require.NoError(t, store.Create(context.Background(), old))
	// Create stamps CreatedAt=now, so let the task age past the orphan age used below.
	time.Sleep(20 * time.Millisecond)

	broker := queue.NewMemoryBroker()
	s := &Sweeper{Store: store, Broker: broker, QueuePrefix: "", QueueName: "default"}
	s.sweepOnce(context.Background(), 10*time.Millisecond, discardLogger())

	queueName := queue.Name("", "default")
	jobs, err := broker.Reserve(context.Background(), queueName, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "orphan-1", jobs[0].TaskID)
}

func TestSweepOnce_LeavesRecentPendingTasksAlone(t *testing.T) {
	store := taskstore.NewMemoryStore()
	fresh := &taskstore.Task{ID: "fresh-1", ToolSlug: "background-remove", Status: taskstore.StatusPending, CreatedAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), fresh))

	broker := queue.NewMemoryBroker()
	s := &Sweeper{Store: store, Broker: broker, QueuePrefix: "", QueueName: "default"}
	s.sweepOnce(context.Background(), 30*time.Second, discardLogger())

	queueName := queue.Name("", "default")
	jobs, err := broker.Reserve(context.Background(), queueName, 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestSweepOnce_IgnoresProcessingAndTerminalTasks(t *testing.T) {
	store := taskstore.NewMemoryStore()
	ctx := context.Background()
	// Create always stores a pending task, so move p1 to processing and s1 to success.
	require.NoError(t, store.Create(ctx, &taskstore.Task{ID: "p1"}))
	_, err := store.TransitionToProcessing(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, &taskstore.Task{ID: "s1"}))
	_, err = store.TransitionToProcessing(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.CompleteSuccess(ctx, "s1", []byte(`{}`)))
	// Let both tasks age past the orphan age used below.
	time.Sleep(20 * time.Millisecond)

	broker := queue.NewMemoryBroker()
	s := &Sweeper{Store: store, Broker: broker, QueuePrefix: "", QueueName: "default"}
	s.sweepOnce(ctx, 10*time.Millisecond, discardLogger())

	jobs, err := broker.Reserve(context.Background(), queue.Name("", "default"), 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, jobs)
}
