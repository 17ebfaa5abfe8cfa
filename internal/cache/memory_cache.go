// Package cache memoises generated plans.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"go.uber.org/zap"
)

// InMemoryCache provides a simple thread-safe in-memory cache.
type InMemoryCache struct {
	store map[string]cacheItem
	mutex sync.RWMutex
	ttl   time.Duration
	log   *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheItem struct {
	value      interface{}
	expiration int64 // zero never expires
}

// Option configures an InMemoryCache.
type Option func(*InMemoryCache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *InMemoryCache) {
		if l != nil {
			c.log = l
		}
	}
}

// NewInMemoryCache creates a new in-memory cache with a default TTL. A zero
// TTL keeps items until they are overwritten or deleted.
func NewInMemoryCache(defaultTTL time.Duration, options ...Option) *InMemoryCache {
	c := &InMemoryCache{
		store: make(map[string]cacheItem),
		ttl:   defaultTTL,
		log:   zap.NewNop(),
		stop:  make(chan struct{}),
	}
	for _, option := range options {
		option(c)
	}
	if c.ttl > 0 {
		go c.cleanupLoop(cleanupInterval(c.ttl))
	}
	return c
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < 10*time.Minute {
		return ttl
	}
	return 10 * time.Minute
}

// Get retrieves an item from the cache. Missing and expired items are
// reported as not-found errors.
func (c *InMemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}

	if item.expiration != 0 && time.Now().UnixNano() > item.expiration {
		// Expired items are removed lazily by cleanupLoop.
		c.log.Debug("cache item expired", zap.String("key", key))
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}

	return item.value, nil
}

// Set adds or updates an item in the cache.
func (c *InMemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	var expiration int64
	if c.ttl > 0 {
		expiration = time.Now().Add(c.ttl).UnixNano()
	}
	c.store[key] = cacheItem{
		value:      value,
		expiration: expiration,
	}
	c.log.Debug("cache item set", zap.String("key", key))
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *InMemoryCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.store, key)
}

// Len returns the number of stored items, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine. The cache stays usable.
func (c *InMemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

// cleanupLoop periodically removes expired items.
func (c *InMemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *InMemoryCache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := time.Now().UnixNano()
	for key, item := range c.store {
		if item.expiration != 0 && now > item.expiration {
			delete(c.store, key)
		}
	}
}
