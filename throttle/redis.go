package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// RedisConfig is loaded with envdecode; defaults come from the struct tags.
type RedisConfig struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all counters. ENV: THROTTLE_KEY_PREFIX
	KeyPrefix string `env:"THROTTLE_KEY_PREFIX,default=hotelops:login:"`
}

// Redis is a fixed window limiter shared between gateway instances.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	max       int
	period    time.Duration
}

func NewRedis(cfg RedisConfig, maxAttempts int, period time.Duration) (*Redis, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "hotelops:login:"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: cl, keyPrefix: prefix, max: maxAttempts, period: period}, nil
}

// NewRedisFromEnv builds a Redis limiter from REDIS_ADDR and THROTTLE_KEY_PREFIX.
func NewRedisFromEnv(maxAttempts int, period time.Duration) (*Redis, error) {
	var cfg RedisConfig
	_ = envdecode.Decode(&cfg)
	return NewRedis(cfg, maxAttempts, period)
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(k string) string { return r.keyPrefix + k }

// Allow counts the attempt. The window is created with its TTL in the same
// transaction as the increment, so a counter never lives without an expiry.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := r.key(key)
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetArgs(ctx, k, 0, redis.SetArgs{Mode: "NX", TTL: r.period})
		incr = pipe.Incr(ctx, k)
		return nil
	})
	// SET NX answers nil once the window exists.
	if err != nil && !errors.Is(err, redis.Nil) {
		return true, fmt.Errorf("redis incr: %w", err)
	}
	n, err := incr.Result()
	if err != nil {
		return true, fmt.Errorf("redis incr: %w", err)
	}
	return n <= int64(r.max), nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
