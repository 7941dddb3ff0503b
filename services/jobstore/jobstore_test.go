package jobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStoreQueueOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, s.Enqueue(ctx, []byte("job-1")))
	assert.NoError(t, s.Enqueue(ctx, []byte("job-2")))

	first, err := s.Dequeue(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, "job-1", string(first))

	second, err := s.Dequeue(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, "job-2", string(second))
}

func TestMemoryStoreDequeueIdle(t *testing.T) {
	s := NewMemoryStore()

	payload, err := s.Dequeue(context.Background(), 0)
	assert.NoError(t, err)
	assert.Nil(t, payload)
}

func TestMemoryStoreDequeueCancelled(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Dequeue(ctx, 5)
	assert.Error(t, err)
}

func TestMemoryStoreStatusMerge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, s.SetStatus(ctx, "j1", map[string]string{"state": StateQueued}))
	assert.NoError(t, s.SetStatus(ctx, "j1", map[string]string{"state": StateRunning, "trace_id": "t1"}))

	status, err := s.GetStatus(ctx, "j1")
	assert.NoError(t, err)
	assert.Equal(t, StateRunning, status["state"])
	assert.Equal(t, "t1", status["trace_id"])

	unknown, err := s.GetStatus(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestMemoryStoreBudget(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, used, err := s.ConsumeBudget(ctx, "u1", 30, 100)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30, used)

	ok, used, err = s.ConsumeBudget(ctx, "u1", 60, 100)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 90, used)

	// Over the limit: denied, counter untouched.
	ok, used, err = s.ConsumeBudget(ctx, "u1", 20, 100)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 90, used)

	// Other users have their own counter.
	ok, _, err = s.ConsumeBudget(ctx, "u2", 20, 100)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreBudgetDisabled(t *testing.T) {
	s := NewMemoryStore()

	ok, _, err := s.ConsumeBudget(context.Background(), "u1", 50, 0)
	assert.NoError(t, err)
	assert.True(t, ok)
}
