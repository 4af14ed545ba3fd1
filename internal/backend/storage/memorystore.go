package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Object is a blob held by the MemoryStore.
type Object struct {
	ContentType string
	Data        []byte
}

// MemoryStore keeps objects in process memory. Its URLs have the form
// memory://bucket/key and are only meaningful to tests and local development.
type MemoryStore struct {
	bucket  string
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = "local"
	}
	return &MemoryStore{bucket: bucket, objects: make(map[string]Object)}
}

func (m *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	return nil
}

func (m *MemoryStore) PresignPut(_ context.Context, key, _ string, ttl time.Duration) (string, error) {
	return m.url(key, ttl), nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return m.url(key, ttl), nil
}

// Get returns a stored object.
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemoryStore) url(key string, ttl time.Duration) string {
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.bucket, key, time.Now().Add(presignTTL(ttl)).Unix())
}
