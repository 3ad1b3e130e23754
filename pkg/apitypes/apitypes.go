// Package apitypes defines the wire-level JSON shapes of the HTTP surface,
// kept separate from internal/taskstore so the durable row shape can evolve
// without changing the public contract.
package apitypes

import (
	"encoding/json"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// TaskCreateRequest is the POST /tasks request body.
type TaskCreateRequest struct {
	ToolSlug       string          `json:"toolSlug"`
	InputParams    json.RawMessage `json:"inputParams"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	ParentTaskID   string          `json:"parentTaskId,omitempty"`
}

// TaskCreateResponse is the POST /tasks response body.
type TaskCreateResponse struct {
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Task is the public JSON shape of a taskstore.Task, optionally carrying its
// children when the caller asked for includeChildren=true.
type Task struct {
	ID             string          `json:"id"`
	ToolSlug       string          `json:"toolSlug"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	OutputData     json.RawMessage `json:"outputData,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	AttemptsMade   int             `json:"attemptsMade"`
	ParentTaskID   string          `json:"parentTaskId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ChildTasks     []Task          `json:"childTasks,omitempty"`
}

// FromTask converts a taskstore.Task into its public shape.
func FromTask(t *taskstore.Task) Task {
	out := Task{
		ID:           t.ID,
		ToolSlug:     t.ToolSlug,
		Status:       string(t.Status),
		Progress:     t.Progress,
		OutputData:   t.OutputData,
		ErrorMessage: t.ErrorMessage,
		AttemptsMade: t.AttemptsMade,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if t.ParentTaskID != nil {
		out.ParentTaskID = *t.ParentTaskID
	}
	if t.IdempotencyKey != nil {
		out.IdempotencyKey = *t.IdempotencyKey
	}
	return out
}

// TaskListResponse is the GET /tasks response body.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}
