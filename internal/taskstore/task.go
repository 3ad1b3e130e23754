// Package taskstore is the durable record of every task: its lineage,
// inputs, outputs, status, and timestamps (component C1). Built on
// version-guarded Postgres rows rather than ETag-guarded blob documents,
// because the read-side query shape needed here — "recent tasks for owner X,
// filtered by tool, root-only, with children" — is naturally relational.
package taskstore

import (
	"context"
	"errors"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/svcerr"
)

// Status is one state in the task lifecycle. success and failed are
// absorbing: no Store implementation may accept a write that moves a task
// out of either.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// OwnerKind selects which credential pool and object-storage bucket pair a
// task's owner draws from.
type OwnerKind string

const (
	OwnerWeb   OwnerKind = "web"
	OwnerAdmin OwnerKind = "admin"
)

// Task is the durable row for one unit of work. InputParams and OutputData
// are opaque JSON payloads; handlers interpret them per tool.
type Task struct {
	ID        string
	OwnerKind OwnerKind
	OwnerID   string
	ToolSlug  string

	InputParams []byte // JSON
	OutputData  []byte // JSON, nil until success

	Status         Status
	Progress       int // [0,100]
	ErrorMessage   string
	AttemptsMade   int
	ParentTaskID   *string
	IdempotencyKey *string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time

	Version int // optimistic-concurrency column, playing the role a blob ETag would
}

// ResourceValues reports rv for svcerr.CheckVersion preconditions.
func (t *Task) ResourceValues() svcerr.ResourceValues {
	if t == nil {
		return svcerr.ResourceValues{}
	}
	v := t.Version
	return svcerr.ResourceValues{Version: &v, LastModified: &t.UpdatedAt}
}

// ListFilter narrows Store.ListRecent.
type ListFilter struct {
	OwnerKind       OwnerKind
	OwnerID         string
	ToolSlug        string // "" = any
	RootOnly        bool   // exclude tasks with a non-nil ParentTaskID
	IncludeChildren bool
	Limit           int
}

var (
	// ErrNotFound is returned by Get and FindByIdempotencyKey when no row matches.
	ErrNotFound = errors.New("taskstore: not found")
	// ErrVersionConflict is returned by TransitionToProcessing, CompleteSuccess
	// and CompleteFailed when the task is not in a status the transition
	// allows (e.g. another worker already claimed or finished it).
	ErrVersionConflict = errors.New("taskstore: version conflict")
)

// Store is the Task Store contract (C1). Implementations: postgres (primary)
// and memory (for LOCAL=1 / tests).
type Store interface {
	// Create inserts a new task with status=pending, progress=0. Fails with
	// svcerr (IdempotencyConflict) if (OwnerID, ToolSlug, IdempotencyKey) already exists.
	Create(ctx context.Context, t *Task) error

	// Get reads a task by id.
	Get(ctx context.Context, id string) (*Task, error)

	// FindByIdempotencyKey looks up a live or terminal task by (ownerID, toolSlug, key).
	FindByIdempotencyKey(ctx context.Context, ownerID, toolSlug, key string) (*Task, error)

	// TransitionToProcessing moves a pending task to processing, setting
	// startedAt=now and progress=0. Returns ErrVersionConflict if the task
	// was already picked up by another worker (a sweeper re-enqueue race).
	TransitionToProcessing(ctx context.Context, id string) (*Task, error)

	// UpdateProgress applies a monotonic progress update to a processing
	// task. Regressions are clamped by the caller (see progress.Clamp)
	// before reaching the store; the store itself still refuses to persist
	// a lower value than is already recorded, as a last line of defense.
	UpdateProgress(ctx context.Context, id string, progress int) error

	// CompleteSuccess sets status=success, progress=100, outputData, and
	// completedAt=now. Must only be called once per task.
	CompleteSuccess(ctx context.Context, id string, outputData []byte) error

	// CompleteFailed sets status=failed, errorMessage, attemptsMade, and completedAt=now.
	CompleteFailed(ctx context.Context, id string, errorMessage string, attemptsMade int) error

	// ListRecent returns tasks for an owner matching filter, newest first.
	ListRecent(ctx context.Context, filter ListFilter) ([]*Task, error)

	// ListChildren returns tasks with ParentTaskID = parentID, oldest first (creation order).
	ListChildren(ctx context.Context, parentID string) ([]*Task, error)

	// ListOrphanedPending returns tasks still pending whose CreatedAt is more
	// than olderThan ago, for the sweeper's failure-mode recovery. Whether a
	// queue job for the task still exists is not checked.
	ListOrphanedPending(ctx context.Context, olderThan time.Duration) ([]*Task, error)
}
