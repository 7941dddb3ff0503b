package cache

import (
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by the in-memory backend for absent keys.
// Backend-specific miss errors are recognized by Miss so callers never
// need to import driver packages.
var ErrCacheMiss = errors.New("cache: miss")

// CacheService represents a generic cache service
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}

// Miss reports whether err means the key was simply absent rather than
// the backend failing.
func Miss(err error) bool {
	return errors.Is(err, ErrCacheMiss) ||
		errors.Is(err, memcache.ErrCacheMiss) ||
		errors.Is(err, redis.Nil)
}
