// Package memory stores artifacts and job state in-memory for development.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu           sync.RWMutex
	data         map[string][]byte
	contentTypes map[string]string
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:         make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	s.store(path, contentType, byteData)
	return uriFor(path), nil
}

// Create returns a writer whose content is stored when it is closed.
func (s *BlobStore) Create(_ context.Context, path string, contentType string) (capture.ObjectWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return &ObjectWriter{store: s, path: path, contentType: contentType}, nil
}

// Object returns a copy of the stored bytes for path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// ContentType returns the content type recorded for path.
func (s *BlobStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentTypes[path]
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *BlobStore) store(path, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	s.contentTypes[path] = contentType
}

func uriFor(path string) string {
	return fmt.Sprintf("memory://%s", path)
}

// ObjectWriter buffers an object until Close.
type ObjectWriter struct {
	store       *BlobStore
	path        string
	contentType string
	buf         bytes.Buffer
	closed      bool
}

// Write buffers p.
func (w *ObjectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed object %s", w.path)
	}
	n, err := w.buf.Write(p)
	if err != nil {
		return n, fmt.Errorf("buffer object: %w", err)
	}
	return n, nil
}

// Close commits the buffered bytes to the store.
func (w *ObjectWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.store(w.path, w.contentType, w.buf.Bytes())
	return nil
}

// URI returns the memory:// URI of the object.
func (w *ObjectWriter) URI() string {
	return uriFor(w.path)
}
