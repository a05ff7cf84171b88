// Package ratelimit provides fixed-window request limiting backed by Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimited is returned when a key has used up its window.
var ErrLimited = errors.New("rate limit exceeded")

// Limiter counts events per key in fixed windows.
type Limiter interface {
	// Allow records one event for key and reports ErrLimited when the window is full.
	Allow(ctx context.Context, key string) error
}

// RedisLimiter keeps one counter per key and window in Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a limiter allowing limit events per window.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

// Allow implements Limiter. Redis errors are returned as-is so callers can fail open.
func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	if l.limit <= 0 {
		return nil
	}

	slot := l.now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	n, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("incr %s: %w", redisKey, err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", redisKey, err)
		}
	}
	if n > l.limit {
		return fmt.Errorf("%w: %s", ErrLimited, key)
	}
	return nil
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Nop never limits.
type Nop struct{}

// Allow implements Limiter.
func (Nop) Allow(context.Context, string) error { return nil }
