// Package ledger is the Usage & Response Ledger (C11): append-only records
// of every provider call. Writes are best-effort — a ledger-write failure
// must not fail the task — which is why every method here only logs on
// error rather than returning one to callers that are mid-handler.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// TaskResponse is one append-only provider-call record.
type TaskResponse struct {
	TaskID       string
	StepName     string
	Provider     string
	Model        string
	RawRequest   json.RawMessage
	RawResponse  json.RawMessage
	LatencyMs    int64
	StatusCode   int
	ErrorMessage string
}

// UsageLog is one append-only billing/audit record.
type UsageLog struct {
	TaskID       string
	OwnerID      string
	ProviderID   string
	ToolID       string
	ModelName    string
	ModelVersion string
	PriceConfig  json.RawMessage
	UsageData    json.RawMessage
	LatencyMs    int64
	Status       string // success | failed
}

// Ledger is the C11 contract.
type Ledger interface {
	WriteTaskResponse(ctx context.Context, r TaskResponse)
	WriteUsageLog(ctx context.Context, u UsageLog)
}

// sanitizeThreshold is the byte length above which a base64-looking field is elided.
const sanitizeThreshold = 1024

var base64ish = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// Sanitize elides any string value in raw that is longer than
// sanitizeThreshold bytes and looks like base64, capping row size.
func Sanitize(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	sanitizeValue(v)
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

func sanitizeValue(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if s, ok := val.(string); ok && len(s) > sanitizeThreshold && base64ish.MatchString(s) {
				t[k] = "<elided base64, len=" + strconv.Itoa(len(s)) + ">"
				continue
			}
			sanitizeValue(val)
		}
	case []any:
		for _, val := range t {
			sanitizeValue(val)
		}
	}
}

// PostgresLedger persists both tables via sqlx with plain parameterized
// INSERTs; rows are never mutated, so no concurrency guard is needed.
type PostgresLedger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresLedger wraps an already-opened *sqlx.DB.
func NewPostgresLedger(db *sqlx.DB, logger *slog.Logger) *PostgresLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLedger{db: db, logger: logger}
}

func (l *PostgresLedger) WriteTaskResponse(ctx context.Context, r TaskResponse) {
	const q = `
INSERT INTO task_responses (task_id, step_name, provider, model, raw_request, raw_response, latency_ms, status_code, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := l.db.ExecContext(ctx, q, r.TaskID, r.StepName, r.Provider, r.Model,
		Sanitize(r.RawRequest), Sanitize(r.RawResponse), r.LatencyMs, r.StatusCode, r.ErrorMessage, time.Now().UTC())
	if err != nil {
		l.logger.ErrorContext(ctx, "ledger: write task response failed", slog.String("taskId", r.TaskID), slog.Any("err", err))
	}
}

func (l *PostgresLedger) WriteUsageLog(ctx context.Context, u UsageLog) {
	const q = `
INSERT INTO usage_logs (task_id, owner_id, provider_id, tool_id, model_name, model_version, price_config, usage_data, latency_ms, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := l.db.ExecContext(ctx, q, u.TaskID, u.OwnerID, u.ProviderID, u.ToolID, u.ModelName, u.ModelVersion,
		u.PriceConfig, u.UsageData, u.LatencyMs, u.Status, time.Now().UTC())
	if err != nil {
		l.logger.ErrorContext(ctx, "ledger: write usage log failed", slog.String("taskId", u.TaskID), slog.Any("err", err))
	}
}
