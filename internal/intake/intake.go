// Package intake is the Intake Service (C5): validates a task-create
// request, resolves and snapshots tool config, persists the Task row, and
// enqueues the first job — create the resource, then start processing.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/funmagic-ai/magiworld-sub000/internal/catalog"
	"github.com/funmagic-ai/magiworld-sub000/internal/queue"
	"github.com/funmagic-ai/magiworld-sub000/internal/svcerr"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
	"github.com/funmagic-ai/magiworld-sub000/internal/telemetry"
)

// createRequest is the subset of apitypes.TaskCreateRequest intake validates
// with go-playground/validator before touching the Store.
type createRequest struct {
	ToolSlug       string          `validate:"required"`
	InputParams    json.RawMessage `validate:"required"`
	IdempotencyKey string
	ParentTaskID   string
}

var validate = validator.New()

// Service implements the full create-task flow. One Service is constructed
// per intake process, pinned to a single OwnerKind/queue-name-prefix pair
// ("pinned at construction, never at request time" rule applies
// here just as it does to the Provider Registry).
type Service struct {
	Store       taskstore.Store
	Broker      queue.Broker
	Catalog     *catalog.Catalog
	OwnerKind   taskstore.OwnerKind
	QueuePrefix string
}

// defaultMaxAttempts and defaultBackoff match documented intake
// enqueue defaults.
const defaultMaxAttempts = 3

var defaultBackoff = queue.Backoff{Kind: queue.BackoffExponential, BaseMs: 2000, MaxMs: 60_000}

// Create runs the full intake sequence described above, returning the
// created (or idempotently reused) Task.
func (s *Service) Create(ctx context.Context, ownerID, toolSlug string, inputParams json.RawMessage, idempotencyKey, parentTaskID string) (*taskstore.Task, *svcerr.ServiceError) {
	req := createRequest{ToolSlug: toolSlug, InputParams: inputParams, IdempotencyKey: idempotencyKey, ParentTaskID: parentTaskID}
	if err := validate.Struct(req); err != nil {
		return nil, svcerr.New(400, svcerr.CodeValidation, "%s", err.Error())
	}
	if ownerID == "" {
		return nil, svcerr.New(400, svcerr.CodeValidation, "owner id required")
	}

	tool, ok := s.Catalog.Resolve(toolSlug)
	if !ok {
		return nil, svcerr.New(400, svcerr.CodeUnknownTool, "unknown or inactive tool %q", toolSlug)
	}

	if idempotencyKey != "" {
		if existing, err := s.Store.FindByIdempotencyKey(ctx, ownerID, toolSlug, idempotencyKey); err == nil {
			return existing, nil
		} else if err != taskstore.ErrNotFound {
			return nil, svcerr.New(500, svcerr.CodeInternal, "idempotency lookup failed: %v", err)
		}
	}

	var parentPtr *string
	if parentTaskID != "" {
		parent, err := s.Store.Get(ctx, parentTaskID)
		if err != nil {
			return nil, svcerr.New(400, svcerr.CodeInvalidParent, "parent task %q not found", parentTaskID)
		}
		if parent.OwnerID != ownerID || parent.Status != taskstore.StatusSuccess {
			return nil, svcerr.New(400, svcerr.CodeInvalidParent, "parent task %q is not a completed task owned by this caller", parentTaskID)
		}
		parentPtr = &parentTaskID
	}

	var idemPtr *string
	if idempotencyKey != "" {
		idemPtr = &idempotencyKey
	}

	now := time.Now().UTC()
	task := &taskstore.Task{
		ID:             newTaskID(now),
		OwnerKind:      s.OwnerKind,
		OwnerID:        ownerID,
		ToolSlug:       toolSlug,
		InputParams:    inputParams,
		Status:         taskstore.StatusPending,
		ParentTaskID:   parentPtr,
		IdempotencyKey: idemPtr,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.Create(ctx, task); err != nil {
		if se, ok := err.(*svcerr.ServiceError); ok {
			return nil, se
		}
		return nil, svcerr.New(500, svcerr.CodeInternal, "create task: %v", err)
	}

	priceConfig, err := json.Marshal(tool.PriceConfig)
	if err != nil {
		return nil, svcerr.New(500, svcerr.CodeInternal, "marshal price config: %v", err)
	}

	job := queue.Job{
		ID:                  uuid.NewString(),
		TaskID:              task.ID,
		OwnerID:             ownerID,
		ToolID:              toolSlug,
		ToolSlug:            toolSlug,
		InputParams:         inputParams,
		PriceConfigSnapshot: priceConfig,
		ParentTaskID:        parentPtr,
		MaxAttempts:         defaultMaxAttempts,
		Backoff:             defaultBackoff,
	}
	queueName := queue.Name(s.QueuePrefix, "default")
	if _, err := s.Broker.Enqueue(ctx, queueName, job, queue.EnqueueOptions{MaxAttempts: defaultMaxAttempts, Backoff: defaultBackoff}); err != nil {
		return nil, svcerr.New(503, svcerr.CodeEnqueueUnavailable, "enqueue failed: %v", err)
	}

	telemetry.TasksEnqueuedTotal.WithLabelValues(toolSlug).Inc()
	return task, nil
}

func newTaskID(t time.Time) string {
	return fmt.Sprintf("%d-%s", t.UnixMilli(), uuid.NewString())
}
