package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/findex/internal/domain"
)

// ErrCollectionRequired is returned when a call has no collection ID.
var ErrCollectionRequired = errors.New("collectionID is required")

// ruleDocumentKey holds the latest rule document of a collection.
const ruleDocumentKey = "rules:latest"

// New creates a new cache based on configuration.
// "memory" returns an LRU cache; "redis" returns Redis, wrapped in a
// TwoPhaseCache when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// byteStore is the raw key/value surface shared by the LRU and Redis caches.
type byteStore interface {
	Get(ctx context.Context, collectionID string, key string) ([]byte, error)
	Set(ctx context.Context, collectionID string, key string, value []byte, ttl time.Duration) error
}

func getRuleDocument(ctx context.Context, s byteStore, collectionID string) (*domain.RuleDocument, error) {
	data, err := s.Get(ctx, collectionID, ruleDocumentKey)
	if err != nil || data == nil {
		return nil, err
	}

	var doc domain.RuleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cached rule document: %w", err)
	}
	return &doc, nil
}

func setRuleDocument(ctx context.Context, s byteStore, collectionID string, doc *domain.RuleDocument, ttl time.Duration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.Set(ctx, collectionID, ruleDocumentKey, data, ttl)
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis, shared by every findex node
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 30 * time.Second
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, collectionID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, collectionID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, collectionID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, collectionID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both L1 and L2. L1 keeps the entry for at most l1TTL so that
// a rule update made on another node is seen soon after.
func (c *TwoPhaseCache) Set(ctx context.Context, collectionID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, collectionID, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, collectionID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, collectionID string, key string) error {
	if err := c.local.Delete(ctx, collectionID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, collectionID, key)
}

// GetRuleDocument retrieves the cached latest rule document.
func (c *TwoPhaseCache) GetRuleDocument(ctx context.Context, collectionID string) (*domain.RuleDocument, error) {
	return getRuleDocument(ctx, c, collectionID)
}

// SetRuleDocument caches the latest rule document in both levels.
func (c *TwoPhaseCache) SetRuleDocument(ctx context.Context, collectionID string, doc *domain.RuleDocument, ttl time.Duration) error {
	return setRuleDocument(ctx, c, collectionID, doc, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
