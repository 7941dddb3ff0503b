package cache

import (
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheService implements CacheService over a memcached pool. Proxy
// bindings and rate-limit bookkeeping stored here are shared by every
// worker pointed at the same pool.
type MemcacheService struct {
	client *memcache.Client
}

var _ CacheService = (*MemcacheService)(nil)

// NewMemcacheService connects to the memcached server at serverAddr.
func NewMemcacheService(serverAddr string) *MemcacheService {
	return &MemcacheService{client: memcache.New(serverAddr)}
}

// Get retrieves a value. Absent keys surface memcache.ErrCacheMiss,
// which Miss recognizes.
func (m *MemcacheService) Get(key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// Set stores a value. Expiration is rounded down to whole seconds, the
// finest granularity memcached offers; zero means no expiry.
func (m *MemcacheService) Set(key string, value []byte, expiration time.Duration) error {
	return m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(expiration.Seconds()),
	})
}

// Delete removes a value.
func (m *MemcacheService) Delete(key string) error {
	return m.client.Delete(key)
}
