package semcache

import (
	"context"
	"sync"
	"time"
)

// KV is the minimal key-value surface the cache needs. Redis backs it
// in deployment; an in-memory implementation exists for tests and for
// single-process setups without Redis. Entries are independent by key,
// so implementations only need per-key atomicity, not transactions.
type KV interface {
	// Get returns the value for key, or nil with no error on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetEx stores value under key with a time-to-live.
	SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error

	// Scan returns all keys matching a glob-style pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
}

// MemoryKV is a concurrency-safe in-memory KV with lazy TTL expiry.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryKV creates an empty in-memory KV store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memoryEntry)}
}

// Get returns the value for key, expiring it lazily if past TTL.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, nil
	}
	return entry.value, nil
}

// SetEx stores value with a TTL. A non-positive TTL stores an entry
// that is already expired, which Get never returns.
func (m *MemoryKV) SetEx(_ context.Context, key string, ttl time.Duration, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Scan returns live keys matching a "prefix*" pattern; other glob
// forms are not needed by the cache.
func (m *MemoryKV) Scan(_ context.Context, pattern string) ([]string, error) {
	prefix := pattern
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix = pattern[:n-1]
	}

	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			continue
		}
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Delete removes keys and reports how many were present.
func (m *MemoryKV) Delete(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, key := range keys {
		if _, ok := m.entries[key]; ok {
			delete(m.entries, key)
			count++
		}
	}
	return count, nil
}

// Ensure MemoryKV implements KV.
var _ KV = (*MemoryKV)(nil)
