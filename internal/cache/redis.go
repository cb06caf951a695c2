package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/findex/internal/domain"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces findex keys in a shared Redis.
const keyPrefix = "findex:"

// RedisCache implements Cache using Redis.
// Used on its own and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value. A missing key returns nil, nil.
func (c *RedisCache) Get(ctx context.Context, collectionID string, key string) ([]byte, error) {
	if collectionID == "" {
		return nil, ErrCollectionRequired
	}

	val, err := c.client.Get(ctx, redisKey(collectionID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set stores a value with TTL.
func (c *RedisCache) Set(ctx context.Context, collectionID string, key string, value []byte, ttl time.Duration) error {
	if collectionID == "" {
		return ErrCollectionRequired
	}
	return c.client.Set(ctx, redisKey(collectionID, key), value, ttl).Err()
}

// Delete removes a value.
func (c *RedisCache) Delete(ctx context.Context, collectionID string, key string) error {
	if collectionID == "" {
		return ErrCollectionRequired
	}
	return c.client.Del(ctx, redisKey(collectionID, key)).Err()
}

// GetRuleDocument retrieves the cached latest rule document.
func (c *RedisCache) GetRuleDocument(ctx context.Context, collectionID string) (*domain.RuleDocument, error) {
	return getRuleDocument(ctx, c, collectionID)
}

// SetRuleDocument caches the latest rule document.
func (c *RedisCache) SetRuleDocument(ctx context.Context, collectionID string, doc *domain.RuleDocument, ttl time.Duration) error {
	return setRuleDocument(ctx, c, collectionID, doc, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(collectionID, key string) string {
	return keyPrefix + collectionID + ":" + key
}
