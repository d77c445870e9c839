package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory only.
type MemoryStore struct {
	values map[string]string
	closed bool
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get retrieves a value by key
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores a value by key
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.values[key] = value
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
