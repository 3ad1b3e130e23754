package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/funmagic-ai/magiworld-sub000/internal/bus"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// fakeBus is an in-process Bus that lets a test push events to whatever
// subscriber is currently attached for a task id.
type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan bus.Event
}

func newFakeBus() *fakeBus { return &fakeBus{subs: map[string]chan bus.Event{}} }

func (b *fakeBus) Publish(_ context.Context, ev bus.Event) error {
	b.mu.Lock()
	ch, ok := b.subs[ev.TaskID]
	b.mu.Unlock()
	if ok {
		ch <- ev
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, taskID string) (*bus.Subscription, error) {
	ch := make(chan bus.Event, 8)
	b.mu.Lock()
	b.subs[taskID] = ch
	b.mu.Unlock()
	return bus.NewSubscription(ch, func() {
		b.mu.Lock()
		delete(b.subs, taskID)
		b.mu.Unlock()
		close(ch)
	}), nil
}

func TestStream_TerminalTaskEmitsOneEventAndCloses(t *testing.T) {
	store := taskstore.NewMemoryStore()
	// Create always stores a pending task; drive it to success through the store.
	require.NoError(t, store.Create(context.Background(), &taskstore.Task{ID: "t1"}))
	_, err := store.TransitionToProcessing(context.Background(), "t1")
	require.NoError(t, err)
	require.NoError(t, store.CompleteSuccess(context.Background(), "t1", []byte(`{"ok":true}`)))

	gw := &Gateway{Store: store, Bus: newFakeBus()}
	rec := httptest.NewRecorder()

	err = gw.Stream(context.Background(), rec, nil, "t1")
	require.NoError(t, err)

	body := rec.Body.String()
	require.Equal(t, 1, strings.Count(body, "event: message"), "a terminal task must produce exactly one event")
	require.Contains(t, body, `"status":"success"`)
}

func TestStream_UnknownTaskEmitsErrorEvent(t *testing.T) {
	store := taskstore.NewMemoryStore()
	gw := &Gateway{Store: store, Bus: newFakeBus()}
	rec := httptest.NewRecorder()

	err := gw.Stream(context.Background(), rec, nil, "does-not-exist")
	require.NoError(t, err)
	require.Contains(t, rec.Body.String(), "event: error")
}

func TestStream_LiveTaskSubscribesAndStopsAtTerminal(t *testing.T) {
	store := taskstore.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &taskstore.Task{
		ID: "t2", Status: taskstore.StatusProcessing, Progress: 10,
	}))
	fb := newFakeBus()
	gw := &Gateway{Store: store, Bus: fb}
	rec := httptest.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- gw.Stream(ctx, rec, nil, "t2") }()

	require.Eventually(t, func() bool {
		fb.mu.Lock()
		_, ok := fb.subs["t2"]
		fb.mu.Unlock()
		return ok
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, fb.Publish(context.Background(), bus.Event{TaskID: "t2", Status: taskstore.StatusSuccess, Progress: 100}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after terminal event")
	}

	var msgCount int
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "event: message") {
			msgCount++
		}
	}
	require.Equal(t, 2, msgCount, "expected one synthetic initial event and one terminal bus event")
}
