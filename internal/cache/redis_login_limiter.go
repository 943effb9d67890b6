package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const loginFailureKeyPrefix = "auth:login_failures:"

// RedisLoginLimiter counts failed logins per key in a fixed window that
// starts at the first failure. A key is locked once the count reaches Threshold.
type RedisLoginLimiter struct {
	client    redis.UniversalClient
	threshold int
	window    time.Duration
}

func NewRedisLoginLimiter(client redis.UniversalClient, threshold int, window time.Duration) *RedisLoginLimiter {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RedisLoginLimiter{client: client, threshold: threshold, window: window}
}

func (l *RedisLoginLimiter) Locked(ctx context.Context, key string) (bool, error) {
	count, err := l.client.Get(ctx, loginFailureKeyPrefix+key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("read login failures: %w", err)
	}
	return count >= l.threshold, nil
}

func (l *RedisLoginLimiter) RecordFailure(ctx context.Context, key string) error {
	redisKey := loginFailureKeyPrefix + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return fmt.Errorf("set login failure window: %w", err)
		}
	}
	return nil
}

func (l *RedisLoginLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, loginFailureKeyPrefix+key).Err()
}

// Connect accepts either a redis:// URL or a bare host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}
