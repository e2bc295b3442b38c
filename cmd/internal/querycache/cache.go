// Package querycache is a read-through cache for /api responses.
//
// Keys follow the collection/id convention ("tasks", "tasks/42") so realtime
// events can drop whole collections by prefix without tracking every key.
package querycache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"contentcrush/cmd/internal/api"
	"contentcrush/cmd/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds staleness when no realtime invalidation arrives.
const DefaultTTL = 5 * time.Minute

type entry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.fetchedAt) >= e.ttl
}

// Cache is a TTL'd in-process key/value cache with per-key fetch coalescing.
type Cache struct {
	log     *slog.Logger
	ttl     time.Duration
	now     func() time.Time
	retry   api.RetryPolicy
	metrics *metrics.Metrics

	sf singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

// Option configures the cache.
type Option func(*Cache)

// WithTTL sets the default entry lifetime. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics attaches hit/miss/invalidation instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithRetryPolicy sets the policy GetOrFetch runs fetchers under. Sharing
// the HTTP wrapper's policy keeps backoff behavior uniform across paths.
func WithRetryPolicy(p api.RetryPolicy) Option {
	return func(c *Cache) { c.retry = p }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		log:     slog.Default(),
		ttl:     DefaultTTL,
		now:     time.Now,
		retry:   api.DefaultRetryPolicy(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.metrics.IncCacheMiss()
		return nil, false
	}
	if e.expired(c.now()) {
		c.mu.Lock()
		// Re-check under the write lock; a fresher Set may have raced in.
		if cur, ok := c.entries[key]; ok && cur.expired(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.metrics.IncCacheMiss()
		return nil, false
	}

	c.metrics.IncCacheHit()
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit lifetime.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, fetchedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// GetOrFetch returns the cached value or runs fetch to populate it.
// Concurrent callers for the same key share one fetch; the fetch itself runs
// under the retry policy so transient failures are absorbed here, not by
// every caller.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// A racing fetch may have landed while we queued.
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		var out any
		err := c.retry.Do(ctx, func(ctx context.Context) error {
			var ferr error
			out, ferr = fetch(ctx)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		c.Set(key, out)
		return out, nil
	})
	return v, err
}

// Invalidate drops a single key. Reports whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if ok {
		c.metrics.IncCacheInvalidation(1)
	}
	return ok
}

// InvalidatePrefix drops every key in a collection: the prefix itself plus
// any "prefix/..." children. Returns the number of dropped entries.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	n := 0
	for k := range c.entries {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			delete(c.entries, k)
			n++
		}
	}
	c.mu.Unlock()

	if n > 0 {
		c.metrics.IncCacheInvalidation(n)
		c.log.Debug("querycache.invalidate", "prefix", prefix, "dropped", n)
	}
	return n
}

// Clear drops everything. Used on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	if n > 0 {
		c.metrics.IncCacheInvalidation(n)
	}
}

// Len reports the number of live entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
