package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process memory. It backs tests and local
// development runs without an S3 endpoint; objects do not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put writes data under key.
func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[key] = memoryObject{data: buf, contentType: contentType}
	s.mu.Unlock()
	return nil
}

// Get reads the object stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return obj.data, nil
}

// PresignGet returns a synthetic URL; memory objects are not reachable
// over HTTP, so the URL only encodes the key and expiry for callers that
// need a stable shape.
func (s *MemoryStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("memory://%s?expires_in=%d", key, int64(expiry.Seconds())), nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
