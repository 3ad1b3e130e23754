package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBroker_EnqueueReserveAck(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	id, err := b.Enqueue(ctx, "default", Job{TaskID: "t1"}, EnqueueOptions{MaxAttempts: 3, Backoff: Backoff{Kind: BackoffExponential, BaseMs: 100}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	jobs, err := b.Reserve(ctx, "default", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "t1", jobs[0].TaskID)

	// Reserved job is invisible to a concurrent reservation attempt.
	jobs2, err := b.Reserve(ctx, "default", 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, jobs2)

	require.NoError(t, b.Ack(ctx, "default", jobs[0]))
}

func TestMemoryBroker_NackRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	_, err := b.Enqueue(ctx, "default", Job{TaskID: "t1"}, EnqueueOptions{MaxAttempts: 2, Backoff: Backoff{Kind: BackoffFixed, BaseMs: 0}})
	require.NoError(t, err)

	jobs, err := b.Reserve(ctx, "default", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 1, jobs[0].Attempt)

	require.NoError(t, b.Nack(ctx, "default", jobs[0], errors.New("transient")))

	jobs, err = b.Reserve(ctx, "default", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 2, jobs[0].Attempt)

	require.NoError(t, b.Nack(ctx, "default", jobs[0], errors.New("transient again")))

	dl, err := b.ListDeadLetters(ctx, "default")
	require.NoError(t, err)
	require.Len(t, dl, 1)
	require.Equal(t, "transient again", dl[0].LastError)

	jobs, err = b.Reserve(ctx, "default", 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestName(t *testing.T) {
	require.Equal(t, "default", Name("", "default"))
	require.Equal(t, "admin_default", Name("admin", "default"))
}
