package intake

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/funmagic-ai/magiworld-sub000/internal/catalog"
	"github.com/funmagic-ai/magiworld-sub000/internal/queue"
	"github.com/funmagic-ai/magiworld-sub000/internal/svcerr"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"slug": "background-remove", "toolType": "single-step", "active": true}
	]`), 0o644))
	cat, err := catalog.Load(path, nil)
	require.NoError(t, err)
	return cat
}

func testService(t *testing.T) *Service {
	return &Service{
		Store:       taskstore.NewMemoryStore(),
		Broker:      queue.NewMemoryBroker(),
		Catalog:     testCatalog(t),
		OwnerKind:   taskstore.OwnerWeb,
		QueuePrefix: "",
	}
}

func TestCreate_Success(t *testing.T) {
	svc := testService(t)
	task, se := svc.Create(context.Background(), "owner-1", "background-remove", json.RawMessage(`{"imageUrl":"https://x"}`), "", "")
	require.Nil(t, se)
	require.Equal(t, taskstore.StatusPending, task.Status)
	require.Equal(t, "owner-1", task.OwnerID)

	job, err := svc.Broker.Reserve(context.Background(), queue.Name("", "default"), 1, 0)
	require.NoError(t, err)
	require.Len(t, job, 1)
	require.Equal(t, task.ID, job[0].TaskID)
}

func TestCreate_UnknownTool(t *testing.T) {
	svc := testService(t)
	_, se := svc.Create(context.Background(), "owner-1", "not-a-tool", json.RawMessage(`{}`), "", "")
	require.NotNil(t, se)
	require.Equal(t, svcerr.CodeUnknownTool, se.ErrorCode)
}

func TestCreate_MissingOwnerID(t *testing.T) {
	svc := testService(t)
	_, se := svc.Create(context.Background(), "", "background-remove", json.RawMessage(`{}`), "", "")
	require.NotNil(t, se)
	require.Equal(t, svcerr.CodeValidation, se.ErrorCode)
}

func TestCreate_MissingInputParams(t *testing.T) {
	svc := testService(t)
	_, se := svc.Create(context.Background(), "owner-1", "background-remove", nil, "", "")
	require.NotNil(t, se)
	require.Equal(t, svcerr.CodeValidation, se.ErrorCode)
}

func TestCreate_IdempotentReplayReturnsSameTask(t *testing.T) {
	svc := testService(t)
	first, se := svc.Create(context.Background(), "owner-1", "background-remove", json.RawMessage(`{}`), "key-1", "")
	require.Nil(t, se)

	second, se := svc.Create(context.Background(), "owner-1", "background-remove", json.RawMessage(`{"different":true}`), "key-1", "")
	require.Nil(t, se)
	require.Equal(t, first.ID, second.ID)

	// Only one job should have been enqueued.
	jobs, err := svc.Broker.Reserve(context.Background(), queue.Name("", "default"), 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestCreate_InvalidParentRejected(t *testing.T) {
	svc := testService(t)
	_, se := svc.Create(context.Background(), "owner-1", "background-remove", json.RawMessage(`{}`), "", "does-not-exist")
	require.NotNil(t, se)
	require.Equal(t, svcerr.CodeInvalidParent, se.ErrorCode)
}

func TestCreate_ParentMustBeOwnedByCallerAndSuccessful(t *testing.T) {
	svc := testService(t)
	parent, se := svc.Create(context.Background(), "owner-1", "background-remove", json.RawMessage(`{}`), "", "")
	require.Nil(t, se)
	// parent is still pending, not success, so a child referencing it must fail.
	_, se = svc.Create(context.Background(), "owner-1", "background-remove", json.RawMessage(`{}`), "", parent.ID)
	require.NotNil(t, se)
	require.Equal(t, svcerr.CodeInvalidParent, se.ErrorCode)
}

func TestCreate_ParentOwnedByDifferentCallerRejected(t *testing.T) {
	svc := testService(t)
	parent, se := svc.Create(context.Background(), "owner-1", "background-remove", json.RawMessage(`{}`), "", "")
	require.Nil(t, se)
	_, err := svc.Store.TransitionToProcessing(context.Background(), parent.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Store.CompleteSuccess(context.Background(), parent.ID, json.RawMessage(`{}`)))

	_, se = svc.Create(context.Background(), "owner-2", "background-remove", json.RawMessage(`{}`), "", parent.ID)
	require.NotNil(t, se)
	require.Equal(t, svcerr.CodeInvalidParent, se.ErrorCode)
}
