package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

var _ Store = (*RedisStore)(nil)

func New(redisAddr string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   db,
	})

	return &RedisStore{
		client: client,
		ctx:    context.Background(),
	}
}

// Set stores a key-value pair with an expiration time.
// Eviction is TTL-driven; keys are never overwritten with a longer life by accident
// because every Set carries its own ttl.
func (c *RedisStore) Set(key string, value string, ttl time.Duration) error {
	return c.client.Set(c.ctx, key, value, ttl).Err()
}

// Get retrieves a value by key.
func (c *RedisStore) Get(key string) (string, error) {
	value, err := c.client.Get(c.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return value, err
}

// Delete removes a key from the cache.
func (c *RedisStore) Delete(key string) error {
	return c.client.Del(c.ctx, key).Err()
}

// Exists checks if a key exists in cache.
func (c *RedisStore) Exists(key string) (bool, error) {
	count, err := c.client.Exists(c.ctx, key).Result()
	return count > 0, err
}

// Close closes the Redis connection.
func (c *RedisStore) Close() error {
	return c.client.Close()
}
