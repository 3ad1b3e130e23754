package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestCall_PassesThroughSuccess(t *testing.T) {
	r := NewRegistry()
	out, err := r.Call(context.Background(), "openai", func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestCall_PassesThroughFailure(t *testing.T) {
	r := NewRegistry()
	wantErr := errors.New("boom")
	_, err := r.Call(context.Background(), "openai", func() (any, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestCall_SeparateBreakerPerProvider(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		_, _ = r.Call(context.Background(), "openai", func() (any, error) {
			return nil, errors.New("fail")
		})
	}
	// openai's breaker may now be open, but anthropic's is untouched.
	out, err := r.Call(context.Background(), "anthropic", func() (any, error) {
		return "still works", nil
	})
	require.NoError(t, err)
	require.Equal(t, "still works", out)
}

func TestCall_TripsOpenAfterRepeatedFailures(t *testing.T) {
	r := NewRegistry()
	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = r.Call(context.Background(), "bedrock", func() (any, error) {
			return nil, errors.New("fail")
		})
	}
	require.Error(t, lastErr)
	// Once tripped, Execute returns ErrOpenState without invoking fn.
	called := false
	_, err := r.Call(context.Background(), "bedrock", func() (any, error) {
		called = true
		return "unreached", nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		require.False(t, called)
	}
}
