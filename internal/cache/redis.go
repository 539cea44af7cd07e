package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore hosts the shared cache in Redis so counters and round-robin
// indices stay consistent across worker processes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(namespace, key string) string {
	return namespace + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, namespace, key string, dest interface{}) error {
	data, err := s.client.Get(ctx, s.key(namespace, key)).Bytes()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache get: %w", err)
	}
	return json.Unmarshal(data, dest)
}

func (s *RedisStore) Set(ctx context.Context, namespace, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return s.client.Set(ctx, s.key(namespace, key), data, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	return s.client.Del(ctx, s.key(namespace, key)).Err()
}

func (s *RedisStore) Increment(ctx context.Context, namespace, key string) (int64, error) {
	return s.client.Incr(ctx, s.key(namespace, key)).Result()
}

func (s *RedisStore) Expire(ctx context.Context, namespace, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.key(namespace, key), ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context, namespace string) error {
	iter := s.client.Scan(ctx, 0, namespace+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
	}
	return iter.Err()
}

func (s *RedisStore) ClearAll(ctx context.Context) error {
	for _, namespace := range namespaces {
		if err := s.Clear(ctx, namespace); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
