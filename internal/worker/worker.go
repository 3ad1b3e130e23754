// Package worker is the Worker Pool (C6): per-queue reserve loops that
// dispatch jobs to Tool Handlers inside a progress/failure envelope, using a
// lease/renew/ack/nack cycle generalized to a handlers.Registry lookup per
// job's toolSlug.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funmagic-ai/magiworld-sub000/internal/bus"
	"github.com/funmagic-ai/magiworld-sub000/internal/handlers"
	"github.com/funmagic-ai/magiworld-sub000/internal/httpkit"
	"github.com/funmagic-ai/magiworld-sub000/internal/ledger"
	"github.com/funmagic-ai/magiworld-sub000/internal/notify"
	"github.com/funmagic-ai/magiworld-sub000/internal/progress"
	"github.com/funmagic-ai/magiworld-sub000/internal/providers"
	"github.com/funmagic-ai/magiworld-sub000/internal/queue"
	"github.com/funmagic-ai/magiworld-sub000/internal/svcerr"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
	"github.com/funmagic-ai/magiworld-sub000/internal/telemetry"

	"github.com/funmagic-ai/magiworld-sub000/internal/artifacts"
)

const (
	reserveBatch      = 1
	reserveVisibility = 2 * time.Minute
	reservePollIdle   = 500 * time.Millisecond
	leaseRenewEvery   = 90 * time.Second
)

// Pool runs Concurrency reserve-dispatch goroutines per queue name, bounded
// by an errgroup (grounded on the pack's golang.org/x/sync dependency
// signal — see DESIGN.md).
type Pool struct {
	Store       taskstore.Store
	Broker      queue.Broker
	Bus         bus.Bus
	Handlers    *handlers.Registry
	Providers   *providers.Registry
	Artifacts   artifacts.Store
	Ledger      ledger.Ledger
	Notifier    notify.Notifier // optional; DeadLettered is best-effort
	QueueNames  []string
	Prefix      string
	Concurrency int
	Shutdown    *httpkit.ShutdownCtx
	Logger      *slog.Logger
}

// Run blocks until ctx is cancelled or Shutdown begins draining, running
// Concurrency goroutines per queue name.
func (p *Pool) Run(ctx context.Context) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range p.QueueNames {
		queueName := queue.Name(p.Prefix, name)
		for i := 0; i < p.Concurrency; i++ {
			g.Go(func() error {
				p.reserveLoop(gctx, queueName, logger)
				return nil
			})
		}
	}
	return g.Wait()
}

func (p *Pool) reserveLoop(ctx context.Context, queueName string, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		if p.Shutdown != nil && p.Shutdown.ShuttingDown() {
			return
		}

		jobs, err := p.Broker.Reserve(ctx, queueName, reserveBatch, reserveVisibility)
		if err != nil {
			logger.Error("worker: reserve failed", slog.String("queue", queueName), slog.Any("err", err))
			time.Sleep(reservePollIdle)
			continue
		}
		if len(jobs) == 0 {
			time.Sleep(reservePollIdle)
			continue
		}

		for _, job := range jobs {
			if p.Shutdown != nil {
				p.Shutdown.IncrementInflight()
			}
			telemetry.WorkerInFlight.Inc()
			p.process(ctx, queueName, job, logger)
			telemetry.WorkerInFlight.Dec()
			if p.Shutdown != nil {
				p.Shutdown.DecrementInflight()
			}
		}
	}
}

// process runs the full per-job envelope: resolve handler, transition the
// task to processing, run it with a background lease renewal, then ack/nack
// the queue message and publish the terminal progress update.
func (p *Pool) process(ctx context.Context, queueName string, job queue.Job, logger *slog.Logger) {
	h, ok := p.Handlers.Resolve(job.ToolSlug)
	if !ok {
		p.fail(ctx, queueName, job, "unsupported-tool: no handler registered for tool", logger)
		return
	}

	task, err := p.Store.TransitionToProcessing(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, taskstore.ErrVersionConflict) {
			// Another worker (or the sweeper) already claimed this task; ack
			// and drop this delivery rather than double-processing.
			_ = p.Broker.Ack(ctx, queueName, job)
			return
		}
		logger.Error("worker: transition to processing failed", slog.String("taskId", job.TaskID), slog.Any("err", err))
		_ = p.Broker.Nack(ctx, queueName, job, err)
		return
	}
	p.publish(ctx, task)

	renewCtx, cancelRenew := context.WithCancel(ctx)
	go p.renewLease(renewCtx, queueName, job, logger)

	lastProgress := 0
	hctx := &handlers.Context{
		Context:      ctx,
		TaskID:       task.ID,
		OwnerKind:    task.OwnerKind,
		OwnerID:      task.OwnerID,
		ToolSlug:     task.ToolSlug,
		InputParams:  job.InputParams,
		ParentTaskID: task.ParentTaskID,
		Providers:    p.Providers,
		Artifacts:    p.Artifacts,
		Ledger:       p.Ledger,
		ProgressSink: func(pct int, _ string) {
			lastProgress = progress.Clamp(lastProgress, pct)
			if err := p.Store.UpdateProgress(ctx, task.ID, lastProgress); err != nil {
				logger.Warn("worker: update progress failed", slog.String("taskId", task.ID), slog.Any("err", err))
			}
			p.publishProgress(ctx, task, lastProgress)
		},
	}

	start := time.Now()
	result, err := h.Invoke(hctx)
	cancelRenew()
	latency := time.Since(start)

	if err != nil {
		var se *svcerr.ServiceError
		if errors.As(err, &se) && (se.ErrorCode == "ProviderNotFound" || se.ErrorCode == "ProviderNoApiKey") {
			// Provider configuration errors cannot be fixed by retrying:
			// make this the final attempt so the task fails now.
			job.MaxAttempts = job.Attempt
		}
		p.completeFailed(ctx, queueName, job, task, err.Error(), latency, logger)
		return
	}
	p.completeSuccess(ctx, queueName, job, task, result, latency, logger)
}

func (p *Pool) renewLease(ctx context.Context, queueName string, job queue.Job, logger *slog.Logger) {
	ticker := time.NewTicker(leaseRenewEvery)
	defer ticker.Stop()
	current := job
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := p.Broker.Renew(ctx, queueName, current, reserveVisibility)
			if err != nil {
				logger.Warn("worker: lease renew failed", slog.String("taskId", job.TaskID), slog.Any("err", err))
				return
			}
			current = renewed
		}
	}
}

func (p *Pool) completeSuccess(ctx context.Context, queueName string, job queue.Job, task *taskstore.Task, result handlers.Result, latency time.Duration, logger *slog.Logger) {
	if err := p.Store.CompleteSuccess(ctx, task.ID, result.OutputData); err != nil {
		logger.Error("worker: completeSuccess failed", slog.String("taskId", task.ID), slog.Any("err", err))
	}
	if err := p.Broker.Ack(ctx, queueName, job); err != nil {
		logger.Error("worker: ack failed", slog.String("taskId", task.ID), slog.Any("err", err))
	}
	task.Status, task.Progress, task.OutputData = taskstore.StatusSuccess, 100, result.OutputData
	p.publish(ctx, task)

	p.Ledger.WriteUsageLog(ctx, ledger.UsageLog{
		TaskID: task.ID, OwnerID: task.OwnerID, ToolID: task.ToolSlug,
		UsageData: result.UsageData, LatencyMs: latency.Milliseconds(), Status: "success",
	})
	telemetry.ObserveTaskTerminal(task.ToolSlug, "success", latency)
}

func (p *Pool) completeFailed(ctx context.Context, queueName string, job queue.Job, task *taskstore.Task, errMsg string, latency time.Duration, logger *slog.Logger) {
	attempts := job.Attempt
	if attempts >= job.MaxAttempts {
		if err := p.Store.CompleteFailed(ctx, task.ID, errMsg, attempts); err != nil {
			logger.Error("worker: completeFailed failed", slog.String("taskId", task.ID), slog.Any("err", err))
		}
		task.Status, task.ErrorMessage, task.AttemptsMade = taskstore.StatusFailed, errMsg, attempts
		p.publish(ctx, task)

		p.Ledger.WriteUsageLog(ctx, ledger.UsageLog{
			TaskID: task.ID, OwnerID: task.OwnerID, ToolID: task.ToolSlug,
			LatencyMs: latency.Milliseconds(), Status: "failed",
		})
		telemetry.ObserveTaskTerminal(task.ToolSlug, "failed", latency)
		telemetry.DeadLettersTotal.WithLabelValues(task.ToolSlug).Inc()
		if p.Notifier != nil {
			if notifyErr := p.Notifier.DeadLettered(ctx, task.ID, task.ToolSlug, errMsg); notifyErr != nil {
				logger.Warn("worker: dead-letter notification failed", slog.String("taskId", task.ID), slog.Any("err", notifyErr))
			}
		}
	} else {
		telemetry.QueueRetriesTotal.WithLabelValues(task.ToolSlug).Inc()
	}
	if err := p.Broker.Nack(ctx, queueName, job, errors.New(errMsg)); err != nil {
		logger.Error("worker: nack failed", slog.String("taskId", task.ID), slog.Any("err", err))
	}
}

func (p *Pool) fail(ctx context.Context, queueName string, job queue.Job, reason string, logger *slog.Logger) {
	if err := p.Store.CompleteFailed(ctx, job.TaskID, reason, job.Attempt); err != nil {
		logger.Error("worker: completeFailed (unsupported-tool) failed", slog.String("taskId", job.TaskID), slog.Any("err", err))
	}
	if err := p.Broker.Ack(ctx, queueName, job); err != nil {
		logger.Error("worker: ack (unsupported-tool) failed", slog.String("taskId", job.TaskID), slog.Any("err", err))
	}
	if task, err := p.Store.Get(ctx, job.TaskID); err == nil {
		p.publish(ctx, task)
	}
}

func (p *Pool) publish(ctx context.Context, task *taskstore.Task) {
	p.publishProgress(ctx, task, task.Progress)
}

func (p *Pool) publishProgress(ctx context.Context, task *taskstore.Task, progressPct int) {
	if err := p.Bus.Publish(ctx, bus.Event{
		TaskID: task.ID, OwnerID: task.OwnerID, Status: task.Status, Progress: progressPct,
		OutputData: task.OutputData, Error: task.ErrorMessage, Timestamp: time.Now().UnixMilli(),
	}); err != nil && p.Logger != nil {
		p.Logger.Warn("worker: publish progress failed", slog.String("taskId", task.ID), slog.Any("err", err))
	}
}
