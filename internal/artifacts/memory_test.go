package artifacts

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

func TestPut_KeySchemeIsDeterministic(t *testing.T) {
	s := NewMemoryStore("prod")
	url, err := s.Put(context.Background(), taskstore.OwnerWeb, "owner-1", "task-1", "background-remove", "png", []byte("data"), "")
	require.NoError(t, err)
	require.Equal(t, "memstore://prod/users/owner-1/results/background-remove/task-1.png", url)
}

func TestPut_AdminOwnerUsesAdminsContainer(t *testing.T) {
	s := NewMemoryStore("prod")
	url, err := s.Put(context.Background(), taskstore.OwnerAdmin, "owner-1", "task-1", "photo-stylize-3d", "glb", []byte("data"), "model3d")
	require.NoError(t, err)
	require.Equal(t, "memstore://prod/admins/owner-1/results/photo-stylize-3d/task-1-model3d.glb", url)
}

func TestSign_IsIdempotent(t *testing.T) {
	s := NewMemoryStore("prod")
	unsigned, err := s.Put(context.Background(), taskstore.OwnerWeb, "o", "t", "tool", "png", []byte("x"), "")
	require.NoError(t, err)

	signedOnce, err := s.Sign(context.Background(), unsigned, time.Hour)
	require.NoError(t, err)
	require.True(t, strings.Contains(signedOnce, "?signed="))

	signedTwice, err := s.Sign(context.Background(), signedOnce, time.Hour)
	require.NoError(t, err)
	require.Equal(t, signedOnce, signedTwice, "signing an already-signed URL must be a no-op")
}
