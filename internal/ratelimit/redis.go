package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisRateLimitDB is the database index this gateway reserves for rate
// limit counters, following the same per-concern DB allocation convention
// (DB 0 discovery, DB 1 rate limiting, ...) its ancestor framework's Redis
// client uses.
const redisRateLimitDB = 1

// RedisLimiter backs Limiter with Redis INCR + EXPIRE, so counters are
// shared across every gateway instance behind a load balancer. This is the
// backend selected when rate_limit.redis_url (or the
// AGENTTUNNEL_RATELIMIT_REDIS_URL environment variable) is configured.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter connects to addr (host:port) using redisRateLimitDB.
func NewRedisLimiter(addr string) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   redisRateLimitDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	return &RedisLimiter{client: client}, nil
}

func (l *RedisLimiter) Increment(ctx context.Context, key string, limit int) (Result, error) {
	now := time.Now()
	bucket := redisBucketKey(key, now)

	count, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		return Result{}, fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	if count == 1 {
		// First hit of the day for this key: set the key to expire
		// shortly after UTC midnight so Redis reclaims it without the
		// gateway needing a cleanup job.
		ttl := time.Until(resetAt(now)) + time.Minute
		if err := l.client.Expire(ctx, bucket, ttl).Err(); err != nil {
			return Result{}, fmt.Errorf("setting rate limit counter expiry: %w", err)
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   int(count) <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt(now),
	}, nil
}

func (l *RedisLimiter) Usage(ctx context.Context, key string) (int, error) {
	bucket := redisBucketKey(key, time.Now())
	val, err := l.client.Get(ctx, bucket).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("reading rate limit counter: %w", err)
	}
	return val, nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

func redisBucketKey(key string, now time.Time) string {
	return "ratelimit:" + dayKey(key, now)
}
