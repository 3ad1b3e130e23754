// Package queue is the Queue Broker (C4): prefix-scoped, named
// queues with retries, delayed retries, and a dead-letter queue, generalized
// to named job queues with backoff and DLQ routing rather than a single
// fixed phase queue.
package queue

import (
	"context"
	"time"
)

// Job is one unit of dispatchable work.
type Job struct {
	ID                  string
	TaskID              string
	OwnerID             string
	ToolID              string
	ToolSlug            string
	InputParams         []byte // JSON, snapshotted at intake time
	PriceConfigSnapshot []byte // JSON, snapshotted at intake time
	ParentTaskID        *string

	Attempt     int // 1-indexed; incremented by the broker on each redelivery
	MaxAttempts int
	Backoff     Backoff

	popReceipt string // opaque lease token, broker-specific
}

// Backoff configures retry delay growth for a job.
type Backoff struct {
	Kind   BackoffKind
	BaseMs int
	MaxMs  int
}

type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// Delay returns the backoff delay applied after attempt number attempt
// (1-indexed) fails: BaseMs after the first attempt, doubling with each
// further attempt for BackoffExponential, capped at MaxMs.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ms := b.BaseMs
	if b.Kind == BackoffExponential {
		for i := 1; i < attempt; i++ {
			ms *= 2
			if b.MaxMs > 0 && ms >= b.MaxMs {
				ms = b.MaxMs
				break
			}
		}
	}
	if b.MaxMs > 0 && ms > b.MaxMs {
		ms = b.MaxMs
	}
	return time.Duration(ms) * time.Millisecond
}

// EnqueueOptions configures Broker.Enqueue.
type EnqueueOptions struct {
	Priority    int // accepted but not applied: both brokers order jobs by visibility time only
	DelayMs     int
	MaxAttempts int
	Backoff     Backoff
}

// DeadLetter is a job that exhausted its attempts, retained for operator inspection.
type DeadLetter struct {
	Job       Job
	LastError string
	QueuedAt  time.Time
}

// Broker is the Queue Broker contract (C4). queueName is the wire name that
// Name (below) builds from a prefix and a bare name ("default", "3d_tripo",
// …); prefix scoping is the caller's responsibility so a single Broker
// instance can serve both user-facing and admin-facing workers safely.
type Broker interface {
	// Enqueue adds job to queueName and returns the job id.
	Enqueue(ctx context.Context, queueName string, job Job, opts EnqueueOptions) (string, error)

	// Reserve leases up to max jobs from queueName for the visibility
	// window, invisible to other Reserve callers until ack/nack or lease expiry.
	Reserve(ctx context.Context, queueName string, max int, visibility time.Duration) ([]Job, error)

	// Renew extends a reserved job's lease, for long-running handlers.
	Renew(ctx context.Context, queueName string, job Job, visibility time.Duration) (Job, error)

	// Ack removes a job after successful processing.
	Ack(ctx context.Context, queueName string, job Job) error

	// Nack returns a job for retry with backoff, or routes it to the
	// queue's DLQ if job.Attempt >= job.MaxAttempts.
	Nack(ctx context.Context, queueName string, job Job, cause error) error

	// ListDeadLetters returns the DLQ contents for queueName, for an
	// operator view; retained indefinitely until explicitly cleared.
	ListDeadLetters(ctx context.Context, queueName string) ([]DeadLetter, error)
}

// Name computes the wire queue name from a prefix ("" or "admin") and a bare
// name: "<prefix>_<name>" with the empty prefix serialized as just "<name>".
func Name(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
