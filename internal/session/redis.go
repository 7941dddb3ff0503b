package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists sessions in redis, sealed at rest when a secret
// is configured. Bad or undecryptable payloads read as absent so a key
// rotation cannot wedge a user permanently.
type RedisStore struct {
	client        *redis.Client
	sealer        *sealer
	maxIdle       time.Duration
	failThreshold int
	now           func() time.Time
}

// NewRedisStore creates a redis-backed session store.
func NewRedisStore(client *redis.Client, secret string, maxIdle time.Duration, failThreshold int) *RedisStore {
	if maxIdle <= 0 {
		maxIdle = 24 * time.Hour
	}
	return &RedisStore{
		client:        client,
		sealer:        newSealer(secret),
		maxIdle:       maxIdle,
		failThreshold: failThreshold,
		now:           time.Now,
	}
}

// Upsert implements Store.
func (s *RedisStore) Upsert(ctx context.Context, rec Record) (string, error) {
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
	if err := s.save(ctx, &rec); err != nil {
		return "", err
	}
	return rec.SessionID, nil
}

// Get implements Store. Absent and unreadable records both return nil.
func (s *RedisStore) Get(ctx context.Context, platform, userID string) (*Record, error) {
	stored, err := s.client.Get(ctx, sessionKey(platform, userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	raw, err := s.sealer.open(stored)
	if err != nil {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}

// GetValid implements Store.
func (s *RedisStore) GetValid(ctx context.Context, platform, userID string) (*Record, string, error) {
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
func (s *RedisStore) Touch(ctx context.Context, platform, userID string) error {
	rec, err := s.Get(ctx, platform, userID)
	if err != nil || rec == nil {
		return err
	}
	rec.UpdatedAt = s.now()
	return s.save(ctx, rec)
}

// MarkResult implements Store.
func (s *RedisStore) MarkResult(ctx context.Context, platform, userID string, success bool, crawlErr string) error {
	rec, err := s.Get(ctx, platform, userID)
	if err != nil || rec == nil {
		return err
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
	return s.save(ctx, rec)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, platform, userID string) (bool, error) {
	n, err := s.client.Del(ctx, sessionKey(platform, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	stored, err := s.sealer.sealMaybe(raw)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sessionKey(rec.Platform, rec.UserID), stored, 0).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
