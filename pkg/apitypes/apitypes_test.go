package apitypes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

func TestFromTask_DereferencesOptionalPointers(t *testing.T) {
	parentID := "parent-1"
	idemKey := "key-1"
	out := FromTask(&taskstore.Task{
		ID: "t1", ToolSlug: "background-remove", Status: taskstore.StatusSuccess,
		Progress: 100, ParentTaskID: &parentID, IdempotencyKey: &idemKey,
	})
	require.Equal(t, "parent-1", out.ParentTaskID)
	require.Equal(t, "key-1", out.IdempotencyKey)
	require.Equal(t, "success", out.Status)
}

func TestFromTask_NilPointersLeaveFieldsBlank(t *testing.T) {
	out := FromTask(&taskstore.Task{ID: "t1", Status: taskstore.StatusPending})
	require.Empty(t, out.ParentTaskID)
	require.Empty(t, out.IdempotencyKey)
}
