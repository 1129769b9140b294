package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// UluleLimiter adapts a fixed-window ulule/limiter store to Allower. Limiters are
// built lazily per (window, max) pair since the store is shared.
type UluleLimiter struct {
	Store limiter.Store

	mu       sync.Mutex
	limiters map[string]*limiter.Limiter
}

// NewUluleRedis builds a UluleLimiter backed by Redis.
func NewUluleRedis(client *redis.Client, prefix string) (*UluleLimiter, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: build redis store: %w", err)
	}
	return &UluleLimiter{Store: store}, nil
}

// Allow implements Allower.
func (u *UluleLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if u == nil || u.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := u.limiterFor(window, max)
	res, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}

func (u *UluleLimiter) limiterFor(window time.Duration, max int) *limiter.Limiter {
	id := fmt.Sprintf("%d/%s", max, window)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.limiters == nil {
		u.limiters = make(map[string]*limiter.Limiter)
	}
	if lim, ok := u.limiters[id]; ok {
		return lim
	}
	lim := limiter.New(u.Store, limiter.Rate{Period: window, Limit: int64(max)})
	u.limiters[id] = lim
	return lim
}
