/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package cache provides an in-memory LRU cache with per-entry TTL and an
// at-most-once loader, used as the default caching collaborator of the gate.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

type inflightLoad struct {
	wg  sync.WaitGroup
	val interface{}
	err error
}

// Cache is an LRU cache with per-entry TTL.
// Expired entries are removed lazily on access or by RunPeriodicCleanup.
type Cache struct {
	maxEntries int

	mu      sync.Mutex
	lruList *list.List
	entries map[string]*list.Element
	loads   map[string]*inflightLoad

	metrics MetricsCollector
}

// New creates a new Cache with the provided maximum number of entries.
// The metrics collector may be nil, in which case metrics are disabled.
func New(maxEntries int, metrics MetricsCollector) (*Cache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	return &Cache{
		maxEntries: maxEntries,
		lruList:    list.New(),
		entries:    make(map[string]*list.Element),
		loads:      make(map[string]*inflightLoad),
		metrics:    metrics,
	}, nil
}

// Get returns the unexpired value stored for the key.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

// Set stores the value for the key with the given TTL.
// A non-positive TTL means the entry never expires.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, ttl)
}

// Remove removes the value stored for the key.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.lruList.Remove(elem)
	delete(c.entries, key)
	c.metrics.SetAmount(len(c.entries))
	return true
}

// GetOrLoad returns the cached value for the key or calls load to produce it.
// Concurrent calls for the same missing key collapse into a single load, so
// load runs at most once per unexpired key. Load failures are not cached.
func (c *Cache) GetOrLoad(
	ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	c.mu.Lock()
	if v, ok := c.get(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	if fl, ok := c.loads[key]; ok {
		c.mu.Unlock()
		fl.wg.Wait()
		return fl.val, fl.err
	}
	fl := &inflightLoad{}
	fl.wg.Add(1)
	c.loads[key] = fl
	c.mu.Unlock()

	fl.val, fl.err = load(ctx)

	c.mu.Lock()
	delete(c.loads, key)
	if fl.err == nil {
		c.set(key, fl.val, ttl)
	}
	c.mu.Unlock()
	fl.wg.Done()

	return fl.val, fl.err
}

// Len returns the number of stored entries, including not yet evicted expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RunPeriodicCleanup runs a cycle of periodic removal of expired entries.
// It's supposed to be run in a separate goroutine.
func (c *Cache) RunPeriodicCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, elem := range c.entries {
				ent := elem.Value.(*entry)
				if !ent.expiresAt.IsZero() && ent.expiresAt.Before(now) {
					c.lruList.Remove(elem)
					delete(c.entries, key)
				}
			}
			c.metrics.SetAmount(len(c.entries))
			c.mu.Unlock()
		}
	}
}

func (c *Cache) get(key string) (interface{}, bool) {
	elem, ok := c.entries[key]
	if !ok {
		c.metrics.IncMisses()
		return nil, false
	}
	ent := elem.Value.(*entry)
	if !ent.expiresAt.IsZero() && ent.expiresAt.Before(time.Now()) {
		c.lruList.Remove(elem)
		delete(c.entries, key)
		c.metrics.SetAmount(len(c.entries))
		c.metrics.IncMisses()
		return nil, false
	}
	c.lruList.MoveToFront(elem)
	c.metrics.IncHits()
	return ent.value, true
}

func (c *Cache) set(key string, value interface{}, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if elem, ok := c.entries[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value = &entry{key: key, value: value, expiresAt: expiresAt}
		return
	}
	c.entries[key] = c.lruList.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	if len(c.entries) > c.maxEntries {
		if oldest := c.lruList.Back(); oldest != nil {
			c.lruList.Remove(oldest)
			delete(c.entries, oldest.Value.(*entry).key)
			c.metrics.AddEvictions(1)
		}
	}
	c.metrics.SetAmount(len(c.entries))
}
