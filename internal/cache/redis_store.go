// Package cache keeps short-lived materialized attachment URLs in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// URLSource materializes a retrievable URL for a storage key.
type URLSource interface {
	URL(ctx context.Context, key string) (string, error)
}

// RedisStore implements attachment URL caching using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed cache
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a cache from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "attachment-url:",
	}
}

func (s *RedisStore) key(storageKey string) string {
	return s.prefix + storageKey
}

// Get returns the cached URL and whether it was present.
func (s *RedisStore) Get(ctx context.Context, storageKey string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(storageKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cached url: %w", err)
	}
	return value, true, nil
}

func (s *RedisStore) Put(ctx context.Context, storageKey, url string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(storageKey), url, ttl).Err(); err != nil {
		return fmt.Errorf("cache url: %w", err)
	}
	return nil
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CachedURLs serves URLs from Redis and falls back to the source on a miss.
// Cache failures are logged and never fail the lookup.
type CachedURLs struct {
	source URLSource
	store  *RedisStore
	ttl    time.Duration
}

// NewCachedURLs wraps source; ttl must stay below the presign lifetime so a
// cached URL never outlives its signature.
func NewCachedURLs(source URLSource, store *RedisStore, ttl time.Duration) *CachedURLs {
	return &CachedURLs{source: source, store: store, ttl: ttl}
}

func (c *CachedURLs) URL(ctx context.Context, key string) (string, error) {
	if cached, ok, err := c.store.Get(ctx, key); err != nil {
		log.Printf("cache: read %s: %v", key, err)
	} else if ok {
		return cached, nil
	}

	url, err := c.source.URL(ctx, key)
	if err != nil {
		return "", err
	}
	if err := c.store.Put(ctx, key, url, c.ttl); err != nil {
		log.Printf("cache: write %s: %v", key, err)
	}
	return url, nil
}
