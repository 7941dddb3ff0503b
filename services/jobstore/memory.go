package jobstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the Redis-less fallback, used in tests and when the
// startup probe finds Redis unreachable. Queue depth is bounded;
// Enqueue past the bound fails rather than blocking the producer.
type MemoryStore struct {
	queue chan []byte

	mu      sync.Mutex
	status  map[string]map[string]string
	budgets map[string]int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queue:   make(chan []byte, 1024),
		status:  make(map[string]map[string]string),
		budgets: make(map[string]int),
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, payload []byte) error {
	select {
	case s.queue <- payload:
		return nil
	default:
		return context.DeadlineExceeded
	}
}

func (s *MemoryStore) Dequeue(ctx context.Context, wait int) ([]byte, error) {
	t := time.NewTimer(time.Duration(wait) * time.Second)
	defer t.Stop()
	select {
	case payload := <-s.queue:
		return payload, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MemoryStore) SetStatus(_ context.Context, jobID string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.status[jobID]
	if !ok {
		rec = make(map[string]string, len(fields))
		s.status[jobID] = rec
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (s *MemoryStore) GetStatus(_ context.Context, jobID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.status[jobID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]string, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) ConsumeBudget(_ context.Context, userID string, units, limit int) (bool, int, error) {
	if units <= 0 || limit <= 0 {
		return true, 0, nil
	}
	key := budgetKey(userID, time.Now().UTC().Format("20060102"))
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.budgets[key] + units
	if total > limit {
		return false, s.budgets[key], nil
	}
	s.budgets[key] = total
	return true, total, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
