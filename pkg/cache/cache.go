// Package cache defines the get/set contract the fetcher and summarizer rely
// on, together with an in-process LRU implementation. The values stored are
// opaque bytes; callers own their own serialization.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Meta carries optional HTTP revalidation metadata alongside a cached value.
type Meta struct {
	ETag         string
	LastModified string
}

// Cache is the collaborator contract consumed by the pipeline. A durable
// storage engine can be plugged in behind this interface; the in-memory LRU
// below is the default in-process implementation.
type Cache interface {
	// Get returns the value stored under key, or ok=false on a miss.
	Get(key string) (value []byte, meta Meta, ok bool)

	// Set stores value under key, replacing any previous entry.
	Set(key string, value []byte, meta Meta)
}

const (
	// DefaultMaxEntries bounds the in-memory cache size.
	DefaultMaxEntries = 512

	// DefaultTTL is how long an in-memory entry stays valid.
	DefaultTTL = 30 * time.Minute
)

// LRU is a bounded in-memory cache with per-entry expiry. Safe for
// concurrent use.
type LRU struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	meta      Meta
	expiresAt time.Time
}

// NewLRU creates an LRU cache holding at most maxEntries values for at most
// ttl each. Non-positive arguments fall back to the package defaults.
func NewLRU(maxEntries int, ttl time.Duration) *LRU {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRU{
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *LRU) Get(key string) ([]byte, Meta, bool) {
	if key == "" {
		return nil, Meta{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, Meta{}, false
	}

	entry := elem.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, Meta{}, false
	}

	c.order.MoveToFront(elem)
	return entry.value, entry.meta, true
}

// Set stores value under key, evicting the least recently used entry when the
// cache is full.
func (c *LRU) Set(key string, value []byte, meta Meta) {
	if key == "" || value == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.meta = meta
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}

	elem := c.order.PushFront(&lruEntry{
		key:       key,
		value:     value,
		meta:      meta,
		expiresAt: expiresAt,
	})
	c.entries[key] = elem
}

// Len returns the number of live entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*lruEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
