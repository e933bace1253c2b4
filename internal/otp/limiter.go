package otp

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter grants at most one action per key per window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RedisLimiter keeps cooldowns as expiring keys so every instance shares them.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "otp:cooldown:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+key, 1, window).Result()
}
