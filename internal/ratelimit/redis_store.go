package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript applies the fixed-window rules atomically inside Redis.
// KEYS[1]=key ARGV[1]=limit ARGV[2]=window ms ARGV[3]=now ms ARGV[4]=now+window ms
// Returns {count, resetAt ms, allowed(0|1)}.
var hitScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if count == nil or reset == nil or reset < now then
	redis.call('HSET', KEYS[1], 'count', 1, 'reset', ARGV[4])
	redis.call('PEXPIRE', KEYS[1], window)
	return {1, tonumber(ARGV[4]), 1}
end

if count >= limit then
	return {count, reset, 0}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {count, reset, 1}
`)

// RedisStore keeps counters in Redis hashes that expire with their window
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore creates a store. Keys are namespaced under prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed connecting to redis: %w", err)
	}
	return client, nil
}

// Hit implements Store
func (s *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Hit, error) {
	vals, err := hitScript.Run(ctx, s.client, []string{s.prefix + key},
		limit, window.Milliseconds(), now.UnixMilli(), now.Add(window).UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Hit{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 3 {
		return Hit{}, fmt.Errorf("rate limit script: unexpected reply %v", vals)
	}
	return Hit{
		Count:   int(vals[0]),
		ResetAt: time.UnixMilli(vals[1]),
		Allowed: vals[2] == 1,
	}, nil
}
