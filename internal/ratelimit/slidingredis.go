package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims entries older than the window, admits the event
// only while the window has room, and returns {admitted, count, oldestScoreMs}.
// Rejected attempts are not recorded, so a client hammering a full window does
// not push its own reset further out.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local admitted = 0
if count < max then
  redis.call("ZADD", key, now, ARGV[4])
  count = count + 1
  admitted = 1
end
redis.call("PEXPIRE", key, window)
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local first = now
if oldest[2] then first = tonumber(oldest[2]) end
return {admitted, count, first}
`)

// SlidingWindow is a sliding-log rate limiter backed by a Redis sorted set per key.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow records an event for key when it fits in the window. reset is when the
// oldest event in the window expires and a slot frees up.
func (s SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	at := now()
	if s.Client == nil || max <= 0 || window <= 0 {
		return true, max, at.Add(window), nil
	}

	nowMs := at.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + ":" + uuid.NewString()
	res, err := slidingWindowScript.Run(ctx, s.Client, []string{s.Prefix + key},
		nowMs, window.Milliseconds(), max, member).Int64Slice()
	if err != nil {
		return false, 0, at.Add(window), fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(res) != 3 {
		return false, 0, at.Add(window), fmt.Errorf("sliding window %s: unexpected reply %v", key, res)
	}

	remaining := max - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	reset := time.UnixMilli(res[2]).Add(window)
	return res[0] == 1, remaining, reset, nil
}
