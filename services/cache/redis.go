package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheService implements CacheService using redis. It shares the
// worker's redis deployment so cache state survives process restarts,
// which matters for proxy bindings and session health counters.
type RedisCacheService struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisCacheService creates a redis-backed cache on an existing client
func NewRedisCacheService(client *redis.Client) *RedisCacheService {
	return &RedisCacheService{
		client: client,
		ctx:    context.Background(),
	}
}

// Get retrieves a value from redis
func (r *RedisCacheService) Get(key string) ([]byte, error) {
	return r.client.Get(r.ctx, key).Bytes()
}

// Set stores a value in redis with an expiration time
func (r *RedisCacheService) Set(key string, value []byte, expiration time.Duration) error {
	return r.client.Set(r.ctx, key, value, expiration).Err()
}

// Delete removes a value from redis
func (r *RedisCacheService) Delete(key string) error {
	return r.client.Del(r.ctx, key).Err()
}

var _ CacheService = (*RedisCacheService)(nil)
