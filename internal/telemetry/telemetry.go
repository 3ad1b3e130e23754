// Package telemetry wires the service's Prometheus metrics and OpenTelemetry
// tracer: real exported instruments covering the four golden signals --
// traffic, saturation, latency, errors -- instead of logging them inline on
// every request.
package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the process-wide tracer used for task lifecycle spans (enqueue,
// dispatch, provider call, persist).
var Tracer trace.Tracer = otel.Tracer("magiworld")

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magiworld_http_requests_total",
		Help: "Total HTTP requests processed, by route and status class.",
	}, []string{"route", "status_class"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "magiworld_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	TasksEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magiworld_tasks_enqueued_total",
		Help: "Tasks accepted into the queue, by tool id.",
	}, []string{"tool_id"})

	TasksCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magiworld_tasks_completed_total",
		Help: "Tasks that reached a terminal state, by tool id and outcome (success|failed).",
	}, []string{"tool_id", "outcome"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "magiworld_task_duration_seconds",
		Help:    "Wall-clock time from dequeue to terminal state.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"tool_id"})

	WorkerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "magiworld_worker_inflight_tasks",
		Help: "Tasks currently being processed by this worker instance.",
	})

	QueueRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magiworld_queue_retries_total",
		Help: "Job redeliveries, by tool id.",
	}, []string{"tool_id"})

	DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magiworld_dead_letters_total",
		Help: "Jobs moved to the dead-letter queue, by tool id.",
	}, []string{"tool_id"})

	BreakerStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magiworld_breaker_state_changes_total",
		Help: "Circuit breaker state transitions, by provider and new state.",
	}, []string{"provider", "state"})

	GoroutineCount = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "magiworld_goroutines",
		Help: "Current number of goroutines, sampled on each scrape.",
	}, func() float64 { return float64(runtime.NumGoroutine()) })
)

// StatusClass buckets an HTTP status code into the Prometheus label used by
// HTTPRequestsTotal, e.g. 201 -> "2xx".
func StatusClass(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "5xx"
	case statusCode >= 400:
		return "4xx"
	case statusCode >= 300:
		return "3xx"
	case statusCode >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// ObserveTaskTerminal records the outcome and duration of a finished task.
func ObserveTaskTerminal(toolID, outcome string, dur time.Duration) {
	TasksCompletedTotal.WithLabelValues(toolID, outcome).Inc()
	TaskDuration.WithLabelValues(toolID).Observe(dur.Seconds())
}

// StartSpan is a thin convenience wrapper kept so call sites don't need to
// import go.opentelemetry.io/otel/trace directly just to start a span.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name)
}
