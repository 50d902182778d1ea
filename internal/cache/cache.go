package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores JSON-encoded responses under string keys.
type Cache interface {
	// Get decodes the cached value into dst and reports whether the key was present.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// New returns a RedisCache when addr is set and a NopCache otherwise.
func New(ctx context.Context, addr, password string, db int, logger *zap.Logger) (Cache, func() error) {
	if addr == "" {
		logger.Info("redis cache disabled")
		return NopCache{}, func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, cache disabled", zap.String("addr", addr), zap.Error(err))
		_ = client.Close()
		return NopCache{}, func() error { return nil }
	}
	logger.Info("redis cache connected", zap.String("addr", addr))
	return NewRedisCache(client, logger), client.Close
}

// RedisCache is a Cache backed by go-redis.
type RedisCache struct {
	client redis.UniversalClient
	logger *zap.Logger
}

func NewRedisCache(client redis.UniversalClient, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "cache.Get")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// A value we cannot decode is treated as a miss and dropped.
		c.logger.Warn("cache value undecodable", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "cache.Set.Marshal")
	}
	return errors.Wrap(c.client.Set(ctx, key, raw, ttl).Err(), "cache.Set")
}

func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(c.client.Del(ctx, keys...).Err(), "cache.Invalidate")
}

// DeleteByPrefix removes every key starting with prefix, walking the keyspace with SCAN.
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return errors.Wrap(err, "cache.DeleteByPrefix")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "cache.DeleteByPrefix.Scan")
	}
	return c.Invalidate(ctx, batch...)
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (NopCache) Set(context.Context, string, any, time.Duration) error { return nil }
func (NopCache) Invalidate(context.Context, ...string) error { return nil }
func (NopCache) DeleteByPrefix(context.Context, string) error { return nil }
