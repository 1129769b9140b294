package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisReplayProtector remembers delivered events with SET NX so a retried
// task never posts the same event twice.
type RedisReplayProtector struct {
	Client redis.UniversalClient
	Prefix string
}

// Acquire claims the delivery key for ttl. It reports false when the key is already held.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, r.Prefix+key, "1", ttl).Result()
}

// Release drops the key so a failed delivery can be attempted again.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, r.Prefix+key).Err()
}
