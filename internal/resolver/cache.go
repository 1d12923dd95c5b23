package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"edge-agent/internal/platform/metrics"
)

// ErrResolutionFailed is returned when the external resolver fails, times out
// or produces no locator.
var ErrResolutionFailed = errors.New("source resolution failed")

// Resolver turns a source locator into a direct-playable locator.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (string, error)
}

// Cache memoizes successful resolutions for the life of the process. There is
// no eviction and no TTL: a changed upstream resolution needs an agent restart.
// Failures are not cached.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]string
	inflight singleflight.Group
	resolver Resolver
	metrics  *metrics.Metrics
}

// NewCache wraps resolver. m may be nil.
func NewCache(resolver Resolver, m *metrics.Metrics) *Cache {
	return &Cache{
		entries:  make(map[string]string),
		resolver: resolver,
		metrics:  m,
	}
}

// Resolve returns the cached resolution of locator, invoking the resolver
// once on a miss. Concurrent misses for the same locator share one external
// call. The lock is not held while the resolver runs.
func (c *Cache) Resolve(ctx context.Context, locator string) (string, error) {
	if resolved, ok := c.lookup(locator); ok {
		c.metrics.IncCacheHits()
		return resolved, nil
	}

	v, err, _ := c.inflight.Do(locator, func() (any, error) {
		// A call that finished between lookup and Do already stored the entry.
		if resolved, ok := c.lookup(locator); ok {
			c.metrics.IncCacheHits()
			return resolved, nil
		}
		c.metrics.IncCacheMisses()

		resolved, err := c.resolver.Resolve(ctx, locator)
		if err == nil && resolved == "" {
			err = fmt.Errorf("%w: %s: empty result", ErrResolutionFailed, locator)
		}
		if err != nil {
			c.metrics.IncResolutionFailures()
			if !errors.Is(err, ErrResolutionFailed) {
				err = fmt.Errorf("%w: %w", ErrResolutionFailed, err)
			}
			return "", err
		}

		c.mu.Lock()
		c.entries[locator] = resolved
		n := len(c.entries)
		c.mu.Unlock()
		c.metrics.SetCacheEntries(n)
		return resolved, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len returns the number of cached resolutions. It never waits on a
// resolution in progress.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(locator string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resolved, ok := c.entries[locator]
	return resolved, ok
}
