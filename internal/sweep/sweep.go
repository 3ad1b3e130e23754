// Package sweep is the Sweeper: periodic recovery of orphaned pending tasks,
// promoted to a first-class component per the Open Question decision in
// DESIGN.md. It runs a ticker-driven scan plus a bounded requeue, the same
// shape as a reaper goroutine for expired leases.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/queue"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// DefaultOrphanAge is how long a task may stay pending before the sweeper
// considers it orphaned and re-enqueues it.
const DefaultOrphanAge = 30 * time.Second

// Sweeper periodically re-enqueues pending tasks that fell out of the
// queue (e.g. the intake process crashed after Store.Create but before
// Broker.Enqueue, or a worker died holding a lease that already expired on
// the broker side but never transitioned the Store).
type Sweeper struct {
	Store       taskstore.Store
	Broker      queue.Broker
	QueuePrefix string
	QueueName   string // bare name to re-enqueue onto, e.g. "default"
	OrphanAge   time.Duration
	Interval    time.Duration
	Logger      *slog.Logger
}

// Run scans on Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	orphanAge := s.OrphanAge
	if orphanAge <= 0 {
		orphanAge = DefaultOrphanAge
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx, orphanAge, logger)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context, orphanAge time.Duration, logger *slog.Logger) {
	orphaned, err := s.Store.ListOrphanedPending(ctx, orphanAge)
	if err != nil {
		logger.Error("sweep: list orphaned pending failed", slog.Any("err", err))
		return
	}
	if len(orphaned) == 0 {
		return
	}
	logger.Warn("sweep: re-enqueueing orphaned tasks", slog.Int("count", len(orphaned)))

	queueName := queue.Name(s.QueuePrefix, s.QueueName)
	for _, task := range orphaned {
		job := queue.Job{
			TaskID:      task.ID,
			OwnerID:     task.OwnerID,
			ToolID:      task.ToolSlug,
			ToolSlug:    task.ToolSlug,
			InputParams: task.InputParams,
			MaxAttempts: 3,
			Backoff:     queue.Backoff{Kind: queue.BackoffExponential, BaseMs: 2000, MaxMs: 60_000},
		}
		if _, err := s.Broker.Enqueue(ctx, queueName, job, queue.EnqueueOptions{MaxAttempts: job.MaxAttempts, Backoff: job.Backoff}); err != nil {
			logger.Error("sweep: re-enqueue failed", slog.String("taskId", task.ID), slog.Any("err", err))
		}
	}
}
