// README: Redis-backed travel-time cache shared across instances.
package traveltime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dispatch:traveltime:"

type RedisCache struct {
	redis *redis.Client
}

func NewRedisCache(redis *redis.Client) *RedisCache {
	return &RedisCache{redis: redis}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := c.redis.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	return e, true, nil
}

// Set writes the entry with a Redis expiry equal to TTL; the oracle still
// checks FetchedAt, so a clock skew between instances cannot extend validity.
func (c *RedisCache) Set(ctx context.Context, key string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, keyPrefix+key, raw, TTL).Err()
}
