package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"contextbus/internal/constants"
)

// RedisStore backs the dedup window with Redis. SetNX gives the atomic
// check-and-set the publish path requires; on a duplicate the original
// acceptance record is read back so the caller can replay it.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CheckAndRecord(ctx context.Context, key string, rec Record, ttl time.Duration) (Record, bool, error) {
	cacheKey := constants.CacheKeyPrefixDedup + key

	body, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to marshal dedup record: %w", err)
	}

	inserted, err := s.client.SetNX(ctx, cacheKey, body, ttl).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	if inserted {
		return rec, true, nil
	}

	raw, err := s.client.Get(ctx, cacheKey).Bytes()
	if err == redis.Nil {
		// The winner's entry expired between SetNX and Get. Treat this
		// publish as first within a fresh window.
		inserted, err := s.client.SetNX(ctx, cacheKey, body, ttl).Result()
		if err != nil {
			return Record{}, false, fmt.Errorf("redis SetNX failed: %w", err)
		}
		if inserted {
			return rec, true, nil
		}
		raw, err = s.client.Get(ctx, cacheKey).Bytes()
		if err != nil {
			return Record{}, false, fmt.Errorf("redis Get failed: %w", err)
		}
	} else if err != nil {
		return Record{}, false, fmt.Errorf("redis Get failed: %w", err)
	}

	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Record{}, false, fmt.Errorf("failed to unmarshal dedup record: %w", err)
	}
	return existing, false, nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, constants.CacheKeyPrefixDedup+key).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
