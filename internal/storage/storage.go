// Package storage defines the durable key-value store every offline component
// builds on, plus an in-memory implementation.
package storage

import (
	"context"
	"sort"
	"sync"
)

// Keys owned by the offline core. Each key has exactly one owning component.
const (
	KeyCachedBookings    = "offline_cached_bookings"
	KeyPendingOperations = "offline_pending_operations"
	KeyLastSync          = "offline_last_sync"
	KeyCachedUser        = "offline_cached_user"
)

// Store is a string-keyed persistent store. Get reports ok=false for a
// missing key; that is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// MemoryStore is a process-local Store, used by tests and as a fallback when
// no data directory is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores a copy of value under key.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	m.mu.Lock()
	m.items[key] = buf
	m.mu.Unlock()
	return nil
}

// Remove deletes key. Removing a missing key is a no-op.
func (m *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Compile-time check that *MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
