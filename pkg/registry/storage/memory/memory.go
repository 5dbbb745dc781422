package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/skillhub/registry/pkg/registry"
)

// Backend is an in-memory implementation of the registry.BlobStore
// interface. Presigned URLs are fake but stable, which is enough for
// tests and local development.
type Backend struct {
	mu           sync.RWMutex
	objects      map[string][]byte
	contentTypes map[string]string
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// PresignUpload returns a fake upload URL for the key
func (b *Backend) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if contentType != "" {
		b.contentTypes[key] = contentType
	}
	return "memory://upload/" + key, nil
}

// PresignDownload returns a fake download URL for the key
func (b *Backend) PresignDownload(ctx context.Context, key string) (string, error) {
	return "memory://download/" + key, nil
}

// GetObject reads the object directly
func (b *Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[key]
	if !exists {
		return nil, &registry.StorageError{Key: key, Op: "get_object", Err: errors.New("object not found")}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Upload writes the object directly
func (b *Backend) Upload(ctx context.Context, key, contentType string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &registry.StorageError{Key: key, Op: "upload", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = data
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b.contentTypes[key] = contentType
	return nil
}

// Delete removes the object
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; !exists {
		return &registry.StorageError{Key: key, Op: "delete", Err: errors.New("object not found")}
	}
	delete(b.objects, key)
	delete(b.contentTypes, key)
	return nil
}
