// Package cache caches rule documents in a local LRU, in Redis, or in both.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/findex/internal/domain"
)

// DefaultLRUSize is used when no size is configured.
const DefaultLRUSize = 1024

// LRUCache is a thread-safe LRU cache with per-entry TTL.
// Used on its own and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	now     func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = DefaultLRUSize
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get retrieves a value. A missing or expired key returns nil, nil.
func (c *LRUCache) Get(_ context.Context, collectionID string, key string) ([]byte, error) {
	if collectionID == "" {
		return nil, ErrCollectionRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[lruKey(collectionID, key)]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.remove(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value with TTL, evicting the least recently used entries when
// the cache is full.
func (c *LRUCache) Set(_ context.Context, collectionID string, key string, value []byte, ttl time.Duration) error {
	if collectionID == "" {
		return ErrCollectionRequired
	}

	full := lruKey(collectionID, key)
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[full]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[full] = c.order.PushFront(&lruEntry{key: full, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
	return nil
}

// Delete removes a value.
func (c *LRUCache) Delete(_ context.Context, collectionID string, key string) error {
	if collectionID == "" {
		return ErrCollectionRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[lruKey(collectionID, key)]; ok {
		c.remove(elem)
	}
	return nil
}

// GetRuleDocument retrieves the cached latest rule document.
func (c *LRUCache) GetRuleDocument(ctx context.Context, collectionID string) (*domain.RuleDocument, error) {
	return getRuleDocument(ctx, c, collectionID)
}

// SetRuleDocument caches the latest rule document.
func (c *LRUCache) SetRuleDocument(ctx context.Context, collectionID string, doc *domain.RuleDocument, ttl time.Duration) error {
	return setRuleDocument(ctx, c, collectionID, doc, ttl)
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Stats returns the number of entries and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}

func lruKey(collectionID, key string) string {
	return collectionID + ":" + key
}
