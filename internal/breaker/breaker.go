// Package breaker wraps provider SDK calls with a per-provider circuit
// breaker (sony/gobreaker): trip on repeated 5xx/network failures so a
// flaky provider doesn't exhaust every worker goroutine retrying it.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/funmagic-ai/magiworld-sub000/internal/telemetry"
)

// Registry holds one breaker per provider slug, created lazily.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{breakers: map[string]*gobreaker.CircuitBreaker{}}
}

func (r *Registry) breaker(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.BreakerStateChanges.WithLabelValues(name, to.String()).Inc()
		},
	})
	r.breakers[provider] = b
	return b
}

// Call runs fn through provider's breaker. A tripped breaker returns
// gobreaker.ErrOpenState without invoking fn — callers treat this as a
// transient external error and let the queue's retry/backoff handle it
// rather than hammering a known-down provider.
func (r *Registry) Call(_ context.Context, provider string, fn func() (any, error)) (any, error) {
	return r.breaker(provider).Execute(fn)
}
