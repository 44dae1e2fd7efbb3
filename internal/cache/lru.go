// Package cache provides the correlation stores used by the detection-engine
// stand-in to match confirmations to the credit transfers they confirm.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// LRUCache is a thread-safe LRU correlation store with TTL support.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type cacheEntry struct {
	key       string
	value     domain.Correlation
	expiresAt time.Time
}

// NewLRUCache creates a new LRU store with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Remember stores the pair under its message id.
func (c *LRUCache) Remember(ctx context.Context, pair domain.Correlation, ttl time.Duration) error {
	if pair.MessageID == "" {
		return fmt.Errorf("message id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.items[pair.MessageID]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = pair
		entry.expiresAt = expiresAt
		return nil
	}

	elem := c.order.PushFront(&cacheEntry{key: pair.MessageID, value: pair, expiresAt: expiresAt})
	c.items[pair.MessageID] = elem

	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}
	return nil
}

// Lookup returns the pair stored for messageID.
func (c *LRUCache) Lookup(ctx context.Context, messageID string) (*domain.Correlation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[messageID]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	pair := entry.value
	return &pair, nil
}

// Ping checks store health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns store statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

func (c *LRUCache) removeOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}
