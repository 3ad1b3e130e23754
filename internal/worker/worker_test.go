package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/require"

	"github.com/funmagic-ai/magiworld-sub000/internal/bus"
	"github.com/funmagic-ai/magiworld-sub000/internal/handlers"
	"github.com/funmagic-ai/magiworld-sub000/internal/ledger"
	"github.com/funmagic-ai/magiworld-sub000/internal/queue"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// memBus is a synchronous, non-blocking stand-in for bus.Bus that just
// records every published event; worker tests care about Store/Broker/Ledger
// side effects, not delivery semantics (those are covered in internal/bus).
type memBus struct {
	events []bus.Event
}

func newMemBus() *memBus { return &memBus{} }

func (b *memBus) Publish(_ context.Context, ev bus.Event) error {
	b.events = append(b.events, ev)
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (*bus.Subscription, error) {
	ch := make(chan bus.Event)
	return bus.NewSubscription(ch, func() { close(ch) }), nil
}

func newPendingTask(t *testing.T, store taskstore.Store, toolSlug string) *taskstore.Task {
	t.Helper()
	task := &taskstore.Task{ID: "task-1", ToolSlug: toolSlug, Status: taskstore.StatusPending, InputParams: []byte(`{}`)}
	require.NoError(t, store.Create(context.Background(), task))
	return task
}

func newTestPool(handlerRegistry *handlers.Registry) (*Pool, taskstore.Store, queue.Broker, *memBus, *ledger.MemoryLedger) {
	store := taskstore.NewMemoryStore()
	broker := queue.NewMemoryBroker()
	mb := newMemBus()
	ml := ledger.NewMemoryLedger()
	pool := &Pool{
		Store: store, Broker: broker, Bus: mb,
		Handlers: handlerRegistry, Ledger: ml,
		QueueNames: []string{"default"}, Concurrency: 1,
	}
	return pool, store, broker, mb, ml
}

func TestProcess_SuccessPath(t *testing.T) {
	reg := handlers.NewRegistry(map[string]handlers.Handler{
		"echo": {Single: func(ctx *handlers.Context) (handlers.Result, error) {
			ctx.ProgressSink(50, "half")
			return handlers.Result{OutputData: json.RawMessage(`{"ok":true}`), UsageData: json.RawMessage(`{}`)}, nil
		}},
	})
	pool, store, broker, mb, ml := newTestPool(reg)
	newPendingTask(t, store, "echo")

	queueName := queue.Name("", "default")
	_, err := broker.Enqueue(context.Background(), queueName, queue.Job{TaskID: "task-1", ToolSlug: "echo", MaxAttempts: 3}, queue.EnqueueOptions{MaxAttempts: 3})
	require.NoError(t, err)

	jobs, err := broker.Reserve(context.Background(), queueName, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	pool.process(context.Background(), queueName, jobs[0], slog.Default())

	task, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, taskstore.StatusSuccess, task.Status)
	require.Equal(t, 100, task.Progress)
	require.JSONEq(t, `{"ok":true}`, string(task.OutputData))

	require.Len(t, ml.UsageLogs, 1)
	require.Equal(t, "success", ml.UsageLogs[0].Status)

	// last published event must be the terminal one.
	require.NotEmpty(t, mb.events)
	require.Equal(t, taskstore.StatusSuccess, mb.events[len(mb.events)-1].Status)
}

func TestProcess_HandlerErrorAtMaxAttemptsFailsAndDeadLetters(t *testing.T) {
	reg := handlers.NewRegistry(map[string]handlers.Handler{
		"fails": {Single: func(ctx *handlers.Context) (handlers.Result, error) {
			return handlers.Result{}, errFailingHandler
		}},
	})
	pool, store, broker, _, ml := newTestPool(reg)
	newPendingTask(t, store, "fails")

	queueName := queue.Name("", "default")
	_, err := broker.Enqueue(context.Background(), queueName, queue.Job{TaskID: "task-1", ToolSlug: "fails", MaxAttempts: 1}, queue.EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)

	jobs, err := broker.Reserve(context.Background(), queueName, 1, time.Minute)
	require.NoError(t, err)
	pool.process(context.Background(), queueName, jobs[0], slog.Default())

	task, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, taskstore.StatusFailed, task.Status)
	require.Len(t, ml.UsageLogs, 1)
	require.Equal(t, "failed", ml.UsageLogs[0].Status)

	dead, err := broker.ListDeadLetters(context.Background(), queueName)
	require.NoError(t, err)
	require.Len(t, dead, 1)
}

func TestProcess_UnsupportedToolFailsImmediately(t *testing.T) {
	reg := handlers.NewRegistry(map[string]handlers.Handler{})
	pool, store, broker, _, _ := newTestPool(reg)
	newPendingTask(t, store, "mystery-tool")

	queueName := queue.Name("", "default")
	job := queue.Job{TaskID: "task-1", ToolSlug: "mystery-tool", MaxAttempts: 3}
	pool.process(context.Background(), queueName, job, slog.Default())

	task, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, taskstore.StatusFailed, task.Status)
}

var errFailingHandler = &testHandlerError{"handler failed"}

type testHandlerError struct{ msg string }

func (e *testHandlerError) Error() string { return e.msg }
