package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/projectlink/backend/internal/domain/integration"
)

// Constants for entity cache configuration
const (
	defaultEntityTTL      = 5 * time.Minute
	entityCleanupInterval = 1 * time.Minute
)

// entityEntry wraps a cached snapshot with its expiration time
type entityEntry struct {
	entity    *integration.ExternalEntity
	expiresAt time.Time
}

func (e *entityEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// EntityCache is a process-local staleness cache for single entity
// lookups. Entries expire after a TTL; expiry only ever causes a re-fetch,
// never wrong data, because merge commits read the run's own snapshots and
// never this cache. Concurrent misses for one key are collapsed into a
// single upstream call.
type EntityCache struct {
	entries sync.Map // map[string]*entityEntry
	group   singleflight.Group
	ttl     time.Duration
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped int32

	// Stats for monitoring
	hits   int64
	misses int64
}

// EntityCacheOption is a functional option for configuring the cache
type EntityCacheOption func(*EntityCache)

// WithEntityTTL sets how long a cached snapshot stays fresh
func WithEntityTTL(ttl time.Duration) EntityCacheOption {
	return func(c *EntityCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithEntityCacheLogger sets the logger for the cache
func WithEntityCacheLogger(logger *zap.Logger) EntityCacheOption {
	return func(c *EntityCache) {
		c.logger = logger
	}
}

// NewEntityCache creates a new entity cache and starts its cleanup loop
func NewEntityCache(opts ...EntityCacheOption) *EntityCache {
	c := &EntityCache{
		ttl:    defaultEntityTTL,
		logger: zap.NewNop(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupLoop()

	return c
}

// GetOrFetch returns the cached snapshot for ref or loads it via loader.
// Concurrent calls for the same ref share one loader invocation, and the
// result is fanned out to all waiters. Failed loads are never cached.
func (c *EntityCache) GetOrFetch(ctx context.Context, ref integration.EntityRef, loader func(ctx context.Context) (*integration.ExternalEntity, error)) (*integration.ExternalEntity, error) {
	key := ref.String()

	if v, ok := c.entries.Load(key); ok {
		e := v.(*entityEntry)
		if !e.isExpired() {
			atomic.AddInt64(&c.hits, 1)
			return e.entity, nil
		}
		c.entries.Delete(key)
	}

	atomic.AddInt64(&c.misses, 1)

	// The flight outlives any single caller: detach the loader from the
	// leader's cancellation so one caller giving up cannot fail the
	// waiters sharing the result.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		entity, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		c.entries.Store(key, &entityEntry{
			entity:    entity,
			expiresAt: time.Now().Add(c.ttl),
		})
		return entity, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*integration.ExternalEntity), nil
	}
}

// Invalidate drops one cached entry
func (c *EntityCache) Invalidate(ref integration.EntityRef) {
	c.entries.Delete(ref.String())
}

// Purge drops all cached entries
func (c *EntityCache) Purge() {
	c.entries.Clear()
}

// Stats returns hit and miss counts for monitoring
func (c *EntityCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Close stops the cleanup loop. Safe to call multiple times.
func (c *EntityCache) Close() error {
	if atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		close(c.stopCh)
	}
	return nil
}

// cleanupLoop periodically removes expired entries
func (c *EntityCache) cleanupLoop() {
	ticker := time.NewTicker(entityCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			removed := 0
			c.entries.Range(func(key, v any) bool {
				if v.(*entityEntry).isExpired() {
					c.entries.Delete(key)
					removed++
				}
				return true
			})
			if removed > 0 {
				c.logger.Debug("evicted expired entity snapshots", zap.Int("count", removed))
			}
		}
	}
}

// Ensure EntityCache implements the domain port
var _ integration.EntityCache = (*EntityCache)(nil)
