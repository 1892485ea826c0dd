package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
)

// DefaultRedisPrefix namespaces vault keys in a shared Redis database
const DefaultRedisPrefix = "yess:session:"

// RedisStore is a Redis implementation of the KVStore interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store. An empty prefix selects DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) ports.KVStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w: %v", key, core.ErrStorage, err)
	}
	return value, true, nil
}

// Set stores a value without expiration
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w: %v", key, core.ErrStorage, err)
	}
	return nil
}

// Remove deletes a key
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to remove %s: %w: %v", key, core.ErrStorage, err)
	}
	return nil
}
