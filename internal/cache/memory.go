package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryProvider is a process-local Provider with per-key TTLs. Expired
// entries are reaped lazily on access, which is plenty for the short-lived
// query results this service caches.
type MemoryProvider struct {
	mu   sync.RWMutex
	data map[string]entry
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]entry)}
}

// Get returns the cached value or ErrCacheMiss.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a value. A non-positive ttl stores it without expiry.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = entry{value: stored, expiresAt: expires}
	m.mu.Unlock()
	return nil
}

// SetNX stores the value only when the key is absent or expired, reporting
// whether the write happened.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.data[key]; ok {
		if e.expiresAt.IsZero() || time.Now().Before(e.expiresAt) {
			return false, nil
		}
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.data[key] = entry{value: stored, expiresAt: expires}
	return true, nil
}

// Del removes a key if present.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Close releases the map.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	m.data = make(map[string]entry)
	m.mu.Unlock()
	return nil
}
