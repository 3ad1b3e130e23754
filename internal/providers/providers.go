// Package providers is the Provider Registry (C2): credential and config
// lookup for external AI providers, partitioned into disjoint user-facing
// and admin-facing pools. Catalog selection is pinned to the worker's
// configured prefix at construction time, never to the job payload.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/svcerr"
)

// Credentials holds whatever a provider adapter needs to call out.
type Credentials struct {
	APIKey          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BaseURL         string
}

// Entry is one catalog row.
type Entry struct {
	Slug        string
	Credentials Credentials
	ConfigJSON  []byte
	IsActive    bool
	Status      string
}

// Registry looks up provider credentials by slug from exactly one of two
// disjoint catalogs. Which catalog is active is fixed at construction time
// from the worker's QUEUE_PREFIX, never from the job payload.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	cachedAt time.Time
	ttl      time.Duration
	reload   func(ctx context.Context) (map[string]Entry, error)
}

// NewRegistry constructs a Registry that lazily reloads from reload at most
// once per ttl, protected by a read-mostly RWMutex rather than
// copy-on-rotate, since rotation only happens on worker restart.
func NewRegistry(ttl time.Duration, reload func(ctx context.Context) (map[string]Entry, error)) *Registry {
	return &Registry{ttl: ttl, reload: reload}
}

func (r *Registry) ensureFresh(ctx context.Context) error {
	r.mu.RLock()
	fresh := time.Since(r.cachedAt) < r.ttl && r.entries != nil
	r.mu.RUnlock()
	if fresh {
		return nil
	}

	entries, err := r.reload(ctx)
	if err != nil {
		return fmt.Errorf("providers: reload: %w", err)
	}
	r.mu.Lock()
	r.entries, r.cachedAt = entries, time.Now()
	r.mu.Unlock()
	return nil
}

// GetCredentials resolves slug's credentials.
func (r *Registry) GetCredentials(ctx context.Context, slug string) (Credentials, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return Credentials{}, err
	}
	r.mu.RLock()
	e, ok := r.entries[slug]
	r.mu.RUnlock()
	if !ok {
		return Credentials{}, svcerr.New(422, "ProviderNotFound", "no provider registered for slug %q", slug)
	}
	if !e.IsActive {
		return Credentials{}, svcerr.New(422, "ProviderNotFound", "provider %q is not active", slug)
	}
	if e.Credentials.APIKey == "" && e.Credentials.AccessKeyID == "" && e.Credentials.Region == "" {
		return Credentials{}, svcerr.New(422, "ProviderNoApiKey", "provider %q has no credentials configured", slug)
	}
	return e.Credentials, nil
}
