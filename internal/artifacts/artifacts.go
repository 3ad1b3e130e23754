// Package artifacts is the Artifact Store Adapter (C10): places task outputs
// in private object storage under a user-partitioned key scheme and signs
// URLs for external or browser consumption, using azblob.Client's
// upload/container-create-on-miss shape plus blob-level SAS signing so a
// result can be handed directly to a browser.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// Store is the Artifact Store Adapter contract.
type Store interface {
	// Put uploads body under the task's deterministic key and returns the
	// unsigned URL. ext excludes the leading dot.
	Put(ctx context.Context, ownerKind taskstore.OwnerKind, ownerID, taskID, toolSlug, ext string, body []byte, suffix string) (unsignedURL string, err error)

	// FetchAndPut downloads sourceURL (an expiring provider URL) and persists it, returning the unsigned URL.
	FetchAndPut(ctx context.Context, ownerKind taskstore.OwnerKind, ownerID, taskID, toolSlug, ext, sourceURL, suffix string) (unsignedURL string, err error)

	// Sign returns a time-limited signed URL for unsignedURL. A no-op
	// (returns unsignedURL unchanged) for URLs it does not recognize as its
	// own, and idempotent: an already-signed URL is returned unchanged.
	Sign(ctx context.Context, unsignedURL string, ttl time.Duration) (string, error)
}

// BlobStore implements Store atop Azure Blob Storage. The key's env segment
// names the container; the users/admins segment, chosen per call from the
// OwnerKind, starts the blob name.
type BlobStore struct {
	client    *azblob.Client
	env       string
	container func(taskstore.OwnerKind) string
}

// NewBlobStore wraps an already-configured azblob.Client. env names the
// deployment (dev/staging/prod) embedded in every key.
func NewBlobStore(client *azblob.Client, env string) *BlobStore {
	return &BlobStore{
		client: client,
		env:    env,
		container: func(k taskstore.OwnerKind) string {
			if k == taskstore.OwnerAdmin {
				return "admins"
			}
			return "users"
		},
	}
}

// key builds the stable artifact key:
// {env}/{users|admins}/{ownerId}/results/{toolSlug}/{taskId}[-{suffix}].{ext}
func (s *BlobStore) key(ownerKind taskstore.OwnerKind, ownerID, taskID, toolSlug, ext, suffix string) string {
	name := taskID
	if suffix != "" {
		name += "-" + suffix
	}
	return fmt.Sprintf("%s/%s/%s/results/%s/%s.%s", s.env, s.container(ownerKind), ownerID, toolSlug, name, ext)
}

var extContentType = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
	"glb":  "model/gltf-binary",
	"gltf": "model/gltf+json",
	"mp4":  "video/mp4",
	"json": "application/json",
}

func contentType(ext string) string {
	if ct, ok := extContentType[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *BlobStore) Put(ctx context.Context, ownerKind taskstore.OwnerKind, ownerID, taskID, toolSlug, ext string, body []byte, suffix string) (string, error) {
	container, blobName := s.containerAndBlob(ownerKind, ownerID, taskID, toolSlug, ext, suffix)
	opts := &azblob.UploadBufferOptions{HTTPHeaders: &blob.HTTPHeaders{BlobContentType: strPtr(contentType(ext))}}
	for {
		_, err := s.client.UploadBuffer(ctx, container, blobName, body, opts)
		if err == nil {
			return s.unsignedURL(container, blobName), nil
		}
		if !bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return "", fmt.Errorf("artifacts: upload: %w", err)
		}
		if _, err := s.client.CreateContainer(ctx, container, nil); err != nil {
			return "", fmt.Errorf("artifacts: create container: %w", err)
		}
	}
}

func (s *BlobStore) FetchAndPut(ctx context.Context, ownerKind taskstore.OwnerKind, ownerID, taskID, toolSlug, ext, sourceURL, suffix string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("artifacts: build fetch request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("artifacts: fetch source: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("artifacts: read source body: %w", err)
	}
	return s.Put(ctx, ownerKind, ownerID, taskID, toolSlug, ext, body, suffix)
}

func (s *BlobStore) containerAndBlob(ownerKind taskstore.OwnerKind, ownerID, taskID, toolSlug, ext, suffix string) (container, blobName string) {
	k := s.key(ownerKind, ownerID, taskID, toolSlug, ext, suffix)
	// First path segment (env) names the container; remainder is the blob name.
	parts := strings.SplitN(k, "/", 2)
	return parts[0], parts[1]
}

func (s *BlobStore) unsignedURL(container, blobName string) string {
	return s.client.ServiceClient().NewContainerClient(container).NewBlobClient(blobName).URL()
}

func (s *BlobStore) Sign(_ context.Context, unsignedURL string, ttl time.Duration) (string, error) {
	u, err := url.Parse(unsignedURL)
	if err != nil {
		return unsignedURL, nil // not a URL we understand; pass through
	}
	if u.Query().Has("sig") {
		return unsignedURL, nil // already signed; sign(sign(u)) is a no-op
	}
	if svc, err := url.Parse(s.client.URL()); err != nil || u.Host != svc.Host {
		return unsignedURL, nil // not this storage account's URL; no-op
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return unsignedURL, nil // doesn't look like container/blob; no-op
	}
	container, blobName := parts[0], parts[1]
	blobClient := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(blobName)

	permissions := sas.BlobPermissions{Read: true}
	signedURL, err := blobClient.GetSASURL(permissions, time.Now().Add(ttl), nil)
	if err != nil {
		return "", fmt.Errorf("artifacts: sign: %w", err)
	}
	return signedURL, nil
}

// ExtFromPath returns the file extension (without the dot) from a URL path, used by handlers picking ext before Put.
func ExtFromPath(p string) string {
	return strings.TrimPrefix(path.Ext(p), ".")
}

func strPtr(s string) *string { return &s }
