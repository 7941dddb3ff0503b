package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedClock lets tests move time forward without sleeping.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry() (*Registry, *fixedClock) {
	clock := &fixedClock{t: time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry()
	r.now = clock.now
	return r, clock
}

func TestAllowBurstThenDeny(t *testing.T) {
	r, _ := newTestRegistry()

	for i := 0; i < 3; i++ {
		ok, _ := r.Allow("xhs:search", 1, 3)
		assert.True(t, ok, "call %d should pass within the burst", i)
	}
	ok, wait := r.Allow("xhs:search", 1, 3)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
}

func TestAllowRefill(t *testing.T) {
	r, clock := newTestRegistry()

	ok, _ := r.Allow("k", 2, 1)
	assert.True(t, ok)
	ok, _ = r.Allow("k", 2, 1)
	assert.False(t, ok)

	// At 2 tokens/sec half a second buys one token back.
	clock.advance(500 * time.Millisecond)
	ok, _ = r.Allow("k", 2, 1)
	assert.True(t, ok)
}

func TestAllowCapacityCeiling(t *testing.T) {
	r, clock := newTestRegistry()

	ok, _ := r.Allow("k", 1, 2)
	assert.True(t, ok)

	// A long idle period must not accumulate beyond capacity.
	clock.advance(time.Hour)
	for i := 0; i < 2; i++ {
		ok, _ = r.Allow("k", 1, 2)
		assert.True(t, ok, "call %d", i)
	}
	ok, _ = r.Allow("k", 1, 2)
	assert.False(t, ok)
}

func TestAllowIndependentKeys(t *testing.T) {
	r, _ := newTestRegistry()

	ok, _ := r.Allow("a", 1, 1)
	assert.True(t, ok)
	ok, _ = r.Allow("a", 1, 1)
	assert.False(t, ok)

	ok, _ = r.Allow("b", 1, 1)
	assert.True(t, ok, "keys must not share buckets")
}

func TestAllowZeroRate(t *testing.T) {
	r, clock := newTestRegistry()

	ok, _ := r.Allow("k", 0, 1)
	assert.True(t, ok)
	clock.advance(time.Hour)
	ok, wait := r.Allow("k", 0, 1)
	assert.False(t, ok)
	assert.Equal(t, time.Duration(0), wait)
}

func TestAcquireCooldown(t *testing.T) {
	r, clock := newTestRegistry()

	ok, _ := r.AcquireCooldown("xhs:nav", time.Second)
	assert.True(t, ok)

	ok, remaining := r.AcquireCooldown("xhs:nav", time.Second)
	assert.False(t, ok)
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, time.Second)

	clock.advance(time.Second)
	ok, _ = r.AcquireCooldown("xhs:nav", time.Second)
	assert.True(t, ok)
}

func TestAcquireCooldownDenialKeepsReservation(t *testing.T) {
	r, clock := newTestRegistry()

	ok, _ := r.AcquireCooldown("k", 10*time.Second)
	assert.True(t, ok)

	// Repeated denied probes must not push the window forward.
	clock.advance(4 * time.Second)
	ok, remaining := r.AcquireCooldown("k", 10*time.Second)
	assert.False(t, ok)
	assert.Equal(t, 6*time.Second, remaining)

	clock.advance(6 * time.Second)
	ok, _ = r.AcquireCooldown("k", 10*time.Second)
	assert.True(t, ok)
}
