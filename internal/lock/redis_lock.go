// README: Redis-backed Locker for multi-instance deployments.
package lock

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dispatch:lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker acquires locks with SET NX PX. The TTL bounds how long a
// crashed holder can block others; holders must finish well within it.
type RedisLocker struct {
	redis *redis.Client
	ttl   time.Duration
	poll  time.Duration
}

func NewRedisLocker(redis *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{redis: redis, ttl: ttl, poll: 25 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := keyPrefix + key
	wait := l.poll
	for {
		ok, err := l.redis.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, key, ctx.Err())
		case <-time.After(wait):
		}
		if wait < 400*time.Millisecond {
			wait *= 2
		}
	}

	return func() {
		// Release with a fresh context; the caller's may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.redis, []string{full}, token).Err(); err != nil {
			log.Printf("lock: release key=%s err=%v", key, err)
		}
	}, nil
}
