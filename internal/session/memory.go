package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. It backs the worker
// when redis is unreachable and the test suites.
type MemoryStore struct {
	mu            sync.Mutex
	records       map[string]Record
	maxIdle       time.Duration
	failThreshold int
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(maxIdle time.Duration, failThreshold int) *MemoryStore {
	if maxIdle <= 0 {
		maxIdle = 24 * time.Hour
	}
	return &MemoryStore{
		records:       make(map[string]Record),
		maxIdle:       maxIdle,
		failThreshold: failThreshold,
		now:           time.Now,
	}
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, rec Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ok, reason := ValidateCookies(rec.Platform, rec.Cookies)

	rec.SessionID = newSessionID(rec.Platform, rec.UserID, now)
	rec.ConsecutiveFailures = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.LastFailedAt = time.Time{}
	if ok {
		rec.Status = StatusActive
		rec.LastError = ""
		rec.LastSuccessAt = now
	} else {
		rec.Status = StatusDegraded
		rec.LastError = reason
		rec.LastSuccessAt = time.Time{}
	}
	s.records[sessionKey(rec.Platform, rec.UserID)] = rec
	return rec.SessionID, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, platform, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionKey(platform, userID)]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// GetValid implements Store.
func (s *MemoryStore) GetValid(ctx context.Context, platform, userID string) (*Record, string, error) {
	rec, err := s.Get(ctx, platform, userID)
	if err != nil {
		return nil, "", err
	}
	if rec == nil {
		return nil, ReasonNotFound, nil
	}
	if ok, reason := validateRecord(rec, s.maxIdle, s.failThreshold, s.now()); !ok {
		if _, err := s.Delete(ctx, platform, userID); err != nil {
			return nil, reason, err
		}
		return nil, reason, nil
	}
	return rec, "", nil
}

// Touch implements Store.
func (s *MemoryStore) Touch(_ context.Context, platform, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(platform, userID)
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	rec.UpdatedAt = s.now()
	s.records[key] = rec
	return nil
}

// MarkResult implements Store.
func (s *MemoryStore) MarkResult(_ context.Context, platform, userID string, success bool, crawlErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(platform, userID)
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	now := s.now()
	if success {
		rec.Status = StatusActive
		rec.ConsecutiveFailures = 0
		rec.LastSuccessAt = now
		rec.LastError = ""
	} else {
		rec.ConsecutiveFailures++
		rec.LastFailedAt = now
		rec.LastError = clampError(crawlErr)
		threshold := s.failThreshold
		if threshold < 1 {
			threshold = 1
		}
		if autoEvict(crawlErr) {
			rec.Status = StatusInactive
		} else if rec.ConsecutiveFailures >= threshold {
			rec.Status = StatusDegraded
		}
	}
	rec.UpdatedAt = now
	s.records[key] = rec
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, platform, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(platform, userID)
	_, ok := s.records[key]
	delete(s.records, key)
	return ok, nil
}

var _ Store = (*MemoryStore)(nil)
