package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCacheService(t *testing.T) {
	c := NewMemoryCacheService()

	_, err := c.Get("missing")
	assert.True(t, Miss(err))

	err = c.Set("k", []byte("v"), 0)
	assert.NoError(t, err)

	value, err := c.Get("k")
	assert.NoError(t, err)
	assert.Equal(t, "v", string(value))

	err = c.Delete("k")
	assert.NoError(t, err)

	_, err = c.Get("k")
	assert.True(t, Miss(err))
}

func TestMemoryCacheServiceExpiry(t *testing.T) {
	c := NewMemoryCacheService()

	err := c.Set("short", []byte("x"), 10*time.Millisecond)
	assert.NoError(t, err)

	value, err := c.Get("short")
	assert.NoError(t, err)
	assert.Equal(t, "x", string(value))

	time.Sleep(25 * time.Millisecond)
	_, err = c.Get("short")
	assert.True(t, Miss(err))
}

func TestMemoryCacheServiceCopiesValues(t *testing.T) {
	c := NewMemoryCacheService()

	src := []byte("original")
	assert.NoError(t, c.Set("k", src, 0))
	src[0] = 'X'

	got, err := c.Get("k")
	assert.NoError(t, err)
	assert.Equal(t, "original", string(got))

	// Mutating the returned slice must not corrupt the stored copy.
	got[0] = 'Y'
	again, err := c.Get("k")
	assert.NoError(t, err)
	assert.Equal(t, "original", string(again))
}

func TestMissRecognizesBackends(t *testing.T) {
	assert.True(t, Miss(ErrCacheMiss))
	assert.False(t, Miss(nil))
	assert.False(t, Miss(assert.AnError))
}
