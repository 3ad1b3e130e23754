package httpkit

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/telemetry"
)

// ShutdownCtx tracks whether the process has been asked to shut down and
// lets the caller drain in-flight requests before exiting. Shared between
// HTTP policies and non-HTTP callers (the worker pool) via the same signal.
type ShutdownCtx struct {
	context.Context
	shuttingDown     atomic.Bool
	inflight         sync.WaitGroup
	cancel           context.CancelCauseFunc
	healthProbeDelay time.Duration
}

// NewShutdownCtx returns a ShutdownCtx whose embedded Context is canceled
// once BeginShutdown runs. It installs no signal handlers; each entrypoint
// wires SIGINT/SIGTERM to BeginShutdown itself, so tests can construct a
// ShutdownCtx without global signal handling.
func NewShutdownCtx(healthProbeDelay time.Duration) *ShutdownCtx {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &ShutdownCtx{Context: ctx, cancel: cancel, healthProbeDelay: healthProbeDelay}
}

// ShuttingDown reports whether shutdown has been requested.
func (s *ShutdownCtx) ShuttingDown() bool { return s.shuttingDown.Load() }

// BeginShutdown flips the shutting-down flag, waits healthProbeDelay (giving
// a load balancer time to stop routing new traffic), then cancels the
// embedded context so in-flight work can observe cancellation.
func (s *ShutdownCtx) BeginShutdown(reason error) {
	s.shuttingDown.Store(true)
	time.Sleep(s.healthProbeDelay)
	s.cancel(reason)
}

// Wait blocks until every in-flight unit of work tracked via
// IncrementInflight/DecrementInflight has completed.
func (s *ShutdownCtx) Wait() { s.inflight.Wait() }

func (s *ShutdownCtx) IncrementInflight() { s.inflight.Add(1) }
func (s *ShutdownCtx) DecrementInflight() { s.inflight.Done() }

// NewGracefulShutdownPolicy rejects new requests with 503 once shutdown has
// begun, and otherwise tracks the request as in-flight for the duration of
// the chain.
func NewGracefulShutdownPolicy(s *ShutdownCtx) Policy {
	return func(ctx context.Context, rr *ReqRes) bool {
		if s.ShuttingDown() {
			return rr.WriteError(http.StatusServiceUnavailable, "ServiceUnavailable", "this service instance is shutting down")
		}
		s.IncrementInflight()
		defer s.DecrementInflight()
		return rr.Next(ctx)
	}
}

// rateCounter is a sliding-window request-rate counter used by the throttling
// policy (a Prometheus counter is used instead for /metrics reporting; see
// internal/telemetry — this one only needs to answer "how many in the last
// window", which doesn't need to be exported).
type rateCounter struct {
	mu     sync.Mutex
	window time.Duration
	events []time.Time
}

func newRateCounter(window time.Duration) *rateCounter { return &rateCounter{window: window} }

func (c *rateCounter) Add(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for range n {
		c.events = append(c.events, now)
	}
	c.prune(now)
}

func (c *rateCounter) Rate() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(time.Now())
	return int64(len(c.events))
}

func (c *rateCounter) prune(now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for ; i < len(c.events); i++ {
		if c.events[i].After(cutoff) {
			break
		}
	}
	c.events = c.events[i:]
}

// NewThrottlingPolicy rejects requests with 429 once the rolling
// requests-per-second rate exceeds maxRequestsPerSecond.
func NewThrottlingPolicy(maxRequestsPerSecond int64) Policy {
	rc := newRateCounter(time.Second)
	return func(ctx context.Context, rr *ReqRes) bool {
		if rc.Rate() >= maxRequestsPerSecond {
			return rr.WriteError(http.StatusTooManyRequests, "TooManyRequests", "too many requests")
		}
		rc.Add(1)
		return rr.Next(ctx)
	}
}

// NewMetricsPolicy records the four golden signals (traffic, saturation,
// latency, errors) to Prometheus for every request, keyed by URL path.
// Goroutine count is exposed via an exported GaugeFunc (see
// internal/telemetry.GoroutineCount) so it's scraped rather than logged on
// every request.
func NewMetricsPolicy() Policy {
	return func(ctx context.Context, rr *ReqRes) bool {
		start := time.Now()
		path := rr.R.URL.Path
		stop := rr.Next(ctx)
		telemetry.HTTPRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		telemetry.HTTPRequestsTotal.WithLabelValues(path, telemetry.StatusClass(rr.RW.statusCode)).Inc()
		return stop
	}
}
