package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter implements sliding window rate limiting using Redis
type RateLimiter struct {
	redis  *Redis
	limit  int
	window time.Duration
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(r *Redis, limit int, windowSeconds int) *RateLimiter {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &RateLimiter{
		redis:  r,
		limit:  limit,
		window: time.Duration(windowSeconds) * time.Second,
	}
}

// Check checks if a request from key is allowed under the rate limit.
// Without Redis, or on a Redis error, the request is allowed (fail open).
func (r *RateLimiter) Check(ctx context.Context, key string) *RateLimitResult {
	allowed := &RateLimitResult{Allowed: true, Remaining: int64(r.limit), Limit: r.limit}
	if r.redis == nil || r.limit <= 0 {
		return allowed
	}

	now := time.Now()
	windowStart := now.Add(-r.window)
	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)

	// Score = timestamp, Member = unique request ID
	pipe := r.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to check rate limit")
		return allowed
	}

	currentCount := countCmd.Val()
	result := &RateLimitResult{
		Limit:   r.limit,
		ResetAt: now.Add(r.window),
	}

	if currentCount >= int64(r.limit) {
		result.Allowed = false
		result.Remaining = 0

		oldest, err := r.redis.Client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestTime := time.Unix(0, int64(oldest[0].Score))
			result.RetryAfter = oldestTime.Add(r.window).Sub(now)
			if result.RetryAfter < 0 {
				result.RetryAfter = time.Second
			}
		} else {
			result.RetryAfter = r.window
		}
		return result
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), key)
	if err := r.redis.Client.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to add rate limit entry")
	}
	r.redis.Client.Expire(ctx, redisKey, r.window+time.Second)

	result.Allowed = true
	result.Remaining = int64(r.limit) - currentCount - 1
	return result
}
