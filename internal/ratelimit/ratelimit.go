package ratelimit

import (
	"sync"
	"time"
)

// bucket holds the refill state for a single key.
type bucket struct {
	tokens  float64
	updated time.Time
}

// Registry hands out per-key token buckets and cooldown gates. All
// state lives in memory and every check returns immediately; callers
// decide how to surface a denial, the registry never sleeps.
type Registry struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	cooldowns map[string]time.Time
	now       func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		buckets:   make(map[string]*bucket),
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Allow takes one token from key's bucket, creating the bucket full on
// first use. rate is tokens per second and capacity the burst ceiling.
// When denied it reports how long until a token becomes available.
func (r *Registry) Allow(key string, rate, capacity float64) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, updated: now}
		r.buckets[key] = b
	}
	if rate > 0 {
		elapsed := now.Sub(b.updated).Seconds()
		b.tokens += elapsed * rate
		if b.tokens > capacity {
			b.tokens = capacity
		}
	}
	b.updated = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if rate <= 0 {
		// Drained bucket with no refill stays shut.
		return false, 0
	}
	wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
	return false, wait
}

// AcquireCooldown reserves key if at least minInterval has passed since
// the previous reservation. When denied it reports the remaining wait
// and leaves the previous reservation untouched.
func (r *Registry) AcquireCooldown(key string, minInterval time.Duration) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	last, ok := r.cooldowns[key]
	if ok {
		elapsed := now.Sub(last)
		if elapsed < minInterval {
			return false, minInterval - elapsed
		}
	}
	r.cooldowns[key] = now
	return true, 0
}
