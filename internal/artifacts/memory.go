package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// MemoryStore is an in-process Store for LOCAL=1 and tests, with the same
// deterministic key scheme and idempotent-signing behavior as BlobStore.
type MemoryStore struct {
	env string

	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(env string) *MemoryStore {
	return &MemoryStore{env: env, data: map[string][]byte{}}
}

func (s *MemoryStore) key(ownerKind taskstore.OwnerKind, ownerID, taskID, toolSlug, ext, suffix string) string {
	container := "users"
	if ownerKind == taskstore.OwnerAdmin {
		container = "admins"
	}
	name := taskID
	if suffix != "" {
		name += "-" + suffix
	}
	return fmt.Sprintf("%s/%s/%s/results/%s/%s.%s", s.env, container, ownerID, toolSlug, name, ext)
}

func (s *MemoryStore) Put(_ context.Context, ownerKind taskstore.OwnerKind, ownerID, taskID, toolSlug, ext string, body []byte, suffix string) (string, error) {
	k := s.key(ownerKind, ownerID, taskID, toolSlug, ext, suffix)
	s.mu.Lock()
	s.data[k] = body
	s.mu.Unlock()
	return "memstore://" + k, nil
}

func (s *MemoryStore) FetchAndPut(ctx context.Context, ownerKind taskstore.OwnerKind, ownerID, taskID, toolSlug, ext, sourceURL, suffix string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, ownerKind, ownerID, taskID, toolSlug, ext, body, suffix)
}

func (s *MemoryStore) Sign(_ context.Context, unsignedURL string, ttl time.Duration) (string, error) {
	const signedMarker = "?signed="
	if indexOf(unsignedURL, "memstore://") != 0 {
		return unsignedURL, nil // not one of this store's URLs
	}
	if idx := indexOf(unsignedURL, "?"); idx >= 0 {
		return unsignedURL, nil // already signed
	}
	return fmt.Sprintf("%s%s%d", unsignedURL, signedMarker, time.Now().Add(ttl).Unix()), nil
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
