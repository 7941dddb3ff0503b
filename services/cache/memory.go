package cache

import (
	"sync"
	"time"
)

// memoryItem is a value plus its absolute expiry. A zero expiry means
// the item never expires.
type memoryItem struct {
	value   []byte
	expires time.Time
}

// MemoryCacheService implements CacheService with an in-process map.
// It backs the worker when neither memcached nor redis is reachable,
// and the test suites.
type MemoryCacheService struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// NewMemoryCacheService creates an empty in-memory cache
func NewMemoryCacheService() *MemoryCacheService {
	return &MemoryCacheService{items: make(map[string]memoryItem)}
}

// Get retrieves a value, lazily evicting it when expired
func (m *MemoryCacheService) Get(key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set stores a value with an expiration time
func (m *MemoryCacheService) Set(key string, value []byte, expiration time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	item := memoryItem{value: stored}
	if expiration > 0 {
		item.expires = time.Now().Add(expiration)
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

// Delete removes a value
func (m *MemoryCacheService) Delete(key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

var _ CacheService = (*MemoryCacheService)(nil)
