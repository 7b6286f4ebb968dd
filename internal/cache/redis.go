package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/drippay/backend/internal/monitoring"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis wraps the redis client shared by the profile cache and the rate limiter
type Redis struct {
	Client *redis.Client
}

// New connects to Redis. An empty URL returns a nil *Redis, which every caller treats as
// "caching disabled".
func New(ctx context.Context, url string) (*Redis, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info().Msg("Redis connection established")
	return &Redis{Client: client}, nil
}

// Close closes the client
func (r *Redis) Close() error {
	if r == nil {
		return nil
	}
	return r.Client.Close()
}

// JSONCache stores JSON-encoded values under a key prefix with a fixed TTL
type JSONCache struct {
	redis  *Redis
	prefix string
	ttl    time.Duration
}

// NewJSONCache creates a cache; a nil redis makes every lookup a miss
func NewJSONCache(r *Redis, prefix string, ttl time.Duration) *JSONCache {
	return &JSONCache{redis: r, prefix: prefix, ttl: ttl}
}

func (c *JSONCache) key(id string) string {
	return c.prefix + ":" + id
}

// Get loads the value for id into dst and reports whether it was found.
// Redis failures are logged and reported as a miss.
func (c *JSONCache) Get(ctx context.Context, id string, dst any) bool {
	if c == nil || c.redis == nil {
		return false
	}
	raw, err := c.redis.Client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", c.key(id)).Msg("Cache read failed")
		}
		monitoring.RecordCacheMiss(c.prefix)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", c.key(id)).Msg("Cache entry corrupt")
		monitoring.RecordCacheMiss(c.prefix)
		return false
	}
	monitoring.RecordCacheHit(c.prefix)
	return true
}

// Set stores v under id
func (c *JSONCache) Set(ctx context.Context, id string, v any) {
	if c == nil || c.redis == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.Client.Set(ctx, c.key(id), raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", c.key(id)).Msg("Cache write failed")
	}
}

// Delete evicts id
func (c *JSONCache) Delete(ctx context.Context, id string) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Client.Del(ctx, c.key(id)).Err(); err != nil {
		log.Warn().Err(err).Str("key", c.key(id)).Msg("Cache delete failed")
	}
}
