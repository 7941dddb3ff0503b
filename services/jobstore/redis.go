package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusTTL = 24 * time.Hour
	budgetTTL = 48 * time.Hour
)

// RedisStore implements Store on a Redis list, hash and counter.
type RedisStore struct {
	client   *redis.Client
	queueKey string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store around an existing client. Ping the
// client before choosing this backend; the store itself does not probe.
func NewRedisStore(client *redis.Client, queueKey string) *RedisStore {
	return &RedisStore{client: client, queueKey: queueKey}
}

func (s *RedisStore) Enqueue(ctx context.Context, payload []byte) error {
	return s.client.RPush(ctx, s.queueKey, payload).Err()
}

func (s *RedisStore) Dequeue(ctx context.Context, wait int) ([]byte, error) {
	res, err := s.client.BLPop(ctx, time.Duration(wait)*time.Second, s.queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPOP returns [key, value].
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

func (s *RedisStore) SetStatus(ctx context.Context, jobID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	key := statusKey(jobID)
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, statusTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetStatus(ctx context.Context, jobID string) (map[string]string, error) {
	res, err := s.client.HGetAll(ctx, statusKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res, nil
}

func (s *RedisStore) ConsumeBudget(ctx context.Context, userID string, units, limit int) (bool, int, error) {
	if units <= 0 || limit <= 0 {
		return true, 0, nil
	}
	key := budgetKey(userID, time.Now().UTC().Format("20060102"))
	total, err := s.client.IncrBy(ctx, key, int64(units)).Result()
	if err != nil {
		return false, 0, err
	}
	_ = s.client.Expire(ctx, key, budgetTTL).Err()
	if total > int64(limit) {
		// Refund so a denied job does not shrink the rest of the day.
		_ = s.client.DecrBy(ctx, key, int64(units)).Err()
		return false, int(total) - units, nil
	}
	return true, int(total), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
