package pattern

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	// DefaultCacheTTL is how long an unused compiled key stays cached.
	DefaultCacheTTL = 10 * time.Minute
	// DefaultCacheCapacity bounds the number of cached compiled keys.
	DefaultCacheCapacity = 1024
)

// Compiler compiles binding keys and caches the result, so that re-binding
// the same key (a common pattern in test setups) reuses the compiled matcher.
type Compiler struct {
	cache *ttlcache.Cache[string, *Matcher]

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewCompiler creates a compiler whose cache evicts entries after ttl without
// use and holds at most capacity entries. Non-positive values select defaults.
func NewCompiler(ttl time.Duration, capacity uint64) *Compiler {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity == 0 {
		capacity = DefaultCacheCapacity
	}

	return &Compiler{
		cache: ttlcache.New[string, *Matcher](
			ttlcache.WithTTL[string, *Matcher](ttl),
			ttlcache.WithCapacity[string, *Matcher](capacity),
		),
	}
}

// Compile returns the matcher for key, compiling it on a cache miss.
func (c *Compiler) Compile(key string) *Matcher {
	if item := c.cache.Get(key); item != nil {
		return item.Value()
	}

	m := Compile(key)
	c.cache.Set(key, m, ttlcache.DefaultTTL)
	return m
}

// Len returns the number of cached matchers.
func (c *Compiler) Len() int {
	return c.cache.Len()
}

// Start runs the cache's expiry loop in the background until Close. Without
// it expired entries are only dropped by Purge.
func (c *Compiler) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.closed {
		return
	}
	c.started = true
	go c.cache.Start()
}

// Purge drops expired entries from the cache.
func (c *Compiler) Purge() {
	c.cache.DeleteExpired()
}

// Close stops the expiry loop and releases all cached matchers. It is safe
// to call more than once.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.started {
		c.cache.Stop()
	}
	c.cache.DeleteAll()
	return nil
}
