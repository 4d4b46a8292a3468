// Package limit throttles bot generation per identity.
package limit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter caps bot calls per identity per hour window.
type RateLimiter struct {
	redis *redis.Client
	limit int64
}

func NewRateLimiter(rdb *redis.Client, limit int64) *RateLimiter {
	return &RateLimiter{redis: rdb, limit: limit}
}

func (r *RateLimiter) Allow(ctx context.Context, userID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	if r == nil || r.redis == nil {
		return true, 0, time.Time{}, nil
	}

	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("verseroom:ratelimit:%s:%s", userID, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// InflightGuard allows one in-flight generation per identity at a time.
type InflightGuard struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewInflightGuard(rdb *redis.Client, ttl time.Duration) *InflightGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &InflightGuard{redis: rdb, ttl: ttl}
}

// Acquire reports whether the identity may start a generation. The claim
// expires on its own in case Release is never reached.
func (g *InflightGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	if g == nil || g.redis == nil {
		return true, nil
	}
	ok, err := g.redis.SetNX(ctx, inflightKey(userID), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("inflight setnx: %w", err)
	}
	return ok, nil
}

func (g *InflightGuard) Release(ctx context.Context, userID string) error {
	if g == nil || g.redis == nil {
		return nil
	}
	if err := g.redis.Del(ctx, inflightKey(userID)).Err(); err != nil {
		return fmt.Errorf("inflight del: %w", err)
	}
	return nil
}

func inflightKey(userID string) string {
	return "verseroom:inflight:" + userID
}
