package taskstore

import "time"

// taskRow is the sqlx scan target for the tasks table; Task itself stays
// free of db tags so callers outside this package aren't tied to the schema.
type taskRow struct {
	ID             string     `db:"id"`
	OwnerKind      string     `db:"owner_kind"`
	OwnerID        string     `db:"owner_id"`
	ToolSlug       string     `db:"tool_slug"`
	InputParams    []byte     `db:"input_params"`
	OutputData     []byte     `db:"output_data"`
	Status         string     `db:"status"`
	Progress       int        `db:"progress"`
	ErrorMessage   string     `db:"error_message"`
	AttemptsMade   int        `db:"attempts_made"`
	ParentTaskID   *string    `db:"parent_task_id"`
	IdempotencyKey *string    `db:"idempotency_key"`
	CreatedAt      time.Time  `db:"created_at"`
	StartedAt      *time.Time `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	Version        int        `db:"version"`
}

func (r *taskRow) toTask() *Task {
	return &Task{
		ID:             r.ID,
		OwnerKind:      OwnerKind(r.OwnerKind),
		OwnerID:        r.OwnerID,
		ToolSlug:       r.ToolSlug,
		InputParams:    r.InputParams,
		OutputData:     r.OutputData,
		Status:         Status(r.Status),
		Progress:       r.Progress,
		ErrorMessage:   r.ErrorMessage,
		AttemptsMade:   r.AttemptsMade,
		ParentTaskID:   r.ParentTaskID,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		UpdatedAt:      r.UpdatedAt,
		Version:        r.Version,
	}
}
