package taskstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/svcerr"
)

// MemoryStore is an in-memory Store with the same semantics as
// PostgresStore, for LOCAL=1 development and tests. Tasks never expire here;
// they only ever reach a terminal state and stay there.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Task
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]*Task{}}
}

func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.IdempotencyKey != nil {
		for _, existing := range s.data {
			if existing.OwnerID == t.OwnerID && existing.ToolSlug == t.ToolSlug &&
				existing.IdempotencyKey != nil && *existing.IdempotencyKey == *t.IdempotencyKey {
				return svcerr.New(409, svcerr.CodeIdempotencyConflict, "a task with this idempotency key already exists")
			}
		}
	}
	now := time.Now().UTC()
	t.Status, t.Progress = StatusPending, 0
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 1
	cp := *t
	s.data[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, ownerID, toolSlug, key string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.data {
		if t.OwnerID == ownerID && t.ToolSlug == toolSlug && t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) TransitionToProcessing(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[id]
	if !ok || t.Status != StatusPending {
		return nil, ErrVersionConflict
	}
	now := time.Now().UTC()
	t.Status, t.Progress, t.StartedAt, t.UpdatedAt = StatusProcessing, 0, &now, now
	t.Version++
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[id]
	if !ok || t.Status != StatusProcessing || progress < t.Progress {
		return nil
	}
	t.Progress, t.UpdatedAt = progress, time.Now().UTC()
	t.Version++
	return nil
}

func (s *MemoryStore) CompleteSuccess(_ context.Context, id string, outputData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[id]
	if !ok || t.Status != StatusProcessing {
		return ErrVersionConflict
	}
	now := time.Now().UTC()
	t.Status, t.Progress, t.OutputData, t.CompletedAt, t.UpdatedAt = StatusSuccess, 100, outputData, &now, now
	t.Version++
	return nil
}

func (s *MemoryStore) CompleteFailed(_ context.Context, id string, errorMessage string, attemptsMade int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[id]
	if !ok || t.Status.Terminal() {
		return ErrVersionConflict
	}
	now := time.Now().UTC()
	t.Status, t.ErrorMessage, t.AttemptsMade, t.CompletedAt, t.UpdatedAt = StatusFailed, errorMessage, attemptsMade, &now, now
	t.Version++
	return nil
}

func (s *MemoryStore) ListRecent(_ context.Context, filter ListFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, t := range s.data {
		if t.OwnerKind != filter.OwnerKind || t.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ToolSlug != "" && t.ToolSlug != filter.ToolSlug {
			continue
		}
		if filter.RootOnly && t.ParentTaskID != nil {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListChildren(_ context.Context, parentID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, t := range s.data {
		if t.ParentTaskID != nil && *t.ParentTaskID == parentID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListOrphanedPending(_ context.Context, olderThan time.Duration) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var out []*Task
	for _, t := range s.data {
		if t.Status == StatusPending && t.CreatedAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
