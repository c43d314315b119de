package txn

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for transaction outcomes.
	outcomeKeyPrefix = "txn:outcome:"
	// Default TTL for outcome keys. Outcomes only need to survive the
	// retry horizon of a single call, with generous margin.
	defaultOutcomeTTL = 24 * time.Hour
)

// RedisStore implements Store on Redis so idempotency survives process
// restarts and is shared across gateway replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed outcome store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultOutcomeTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Outcome, bool, error) {
	val, err := s.client.Get(ctx, outcomeKeyPrefix+key).Result()
	if err == redis.Nil {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, err
	}
	var out Outcome
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return Outcome{}, false, err
	}
	return out, true, nil
}

// Put implements Store. SetNX keeps the first recorded outcome; a retry
// that lost the race keeps the original.
func (s *RedisStore) Put(ctx context.Context, key string, out Outcome) error {
	val, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.client.SetNX(ctx, outcomeKeyPrefix+key, val, s.ttl).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
