package content

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// refreshKey is the singleflight key: there is one aggregate blob per cache.
const refreshKey = "context"

// RefreshStats reports the outcome of a cache refresh.
type RefreshStats struct {
	PageCount   int
	SourceCount int
	ByteSize    int
	Duration    time.Duration
}

// Cache holds the formatted context blob for a bounded time. It is the only
// mutable shared state in the service: reads take the read lock, a refresh is
// a full replace, and concurrent refreshes are collapsed into one upstream
// aggregation via singleflight.
type Cache struct {
	aggregator *Aggregator
	ttl        time.Duration
	logger     *zap.Logger

	group singleflight.Group

	mu        sync.RWMutex
	blob      string
	stats     RefreshStats
	refreshed time.Time
}

// NewCache builds a cache over the aggregator. A zero ttl disables expiry;
// the blob then lives until it is invalidated or replaced.
func NewCache(aggregator *Aggregator, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{aggregator: aggregator, ttl: ttl, logger: logger}
}

// Get returns the cached blob when present and not expired.
func (c *Cache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.blob == "" {
		c.logger.Debug("context cache miss")
		return "", false
	}
	if c.ttl > 0 && time.Since(c.refreshed) > c.ttl {
		c.logger.Debug("context cache expired",
			zap.Time("refreshed", c.refreshed),
			zap.Duration("ttl", c.ttl))
		return "", false
	}

	c.logger.Debug("context cache hit")
	return c.blob, true
}

// Put replaces the cached blob.
func (c *Cache) Put(blob string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blob = blob
	c.refreshed = time.Now()
}

// Invalidate drops the cached blob.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blob = ""
	c.stats = RefreshStats{}
	c.refreshed = time.Time{}
}

// GetOrRefresh returns the cached blob, refreshing transparently on a miss.
// Concurrent callers of a miss share one aggregation.
func (c *Cache) GetOrRefresh(ctx context.Context) (string, error) {
	if blob, ok := c.Get(); ok {
		return blob, nil
	}

	blob, err, _ := c.group.Do(refreshKey, func() (any, error) {
		// Re-check under the flight: another caller may have just refreshed.
		if cached, ok := c.Get(); ok {
			return cached, nil
		}
		refreshed, _, err := c.refresh(ctx)
		return refreshed, err
	})
	if err != nil {
		return "", err
	}
	return blob.(string), nil
}

// ForceRefresh bypasses the cache, re-aggregates, re-caches, and reports
// metrics. It fails when no source produced any page, which is distinct from
// a partial-source failure.
func (c *Cache) ForceRefresh(ctx context.Context) (RefreshStats, error) {
	result, err, _ := c.group.Do(refreshKey, func() (any, error) {
		_, stats, err := c.refresh(ctx)
		return stats, err
	})
	if err != nil {
		return RefreshStats{}, err
	}
	return result.(RefreshStats), nil
}

func (c *Cache) refresh(ctx context.Context) (string, RefreshStats, error) {
	start := time.Now()

	pages, okSources := c.aggregator.FetchAll(ctx)
	if len(pages) == 0 {
		return "", RefreshStats{}, fmt.Errorf("no pages retrieved from any content source")
	}

	blob := c.aggregator.FormatContext(pages)
	stats := RefreshStats{
		PageCount:   len(pages),
		SourceCount: okSources,
		ByteSize:    len(blob),
		Duration:    time.Since(start),
	}

	c.mu.Lock()
	c.blob = blob
	c.stats = stats
	c.refreshed = time.Now()
	c.mu.Unlock()

	c.logger.Info("context cache refreshed",
		zap.Int("pages", stats.PageCount),
		zap.Int("sources", stats.SourceCount),
		zap.Int("bytes", stats.ByteSize),
		zap.Duration("duration", stats.Duration))

	return blob, stats, nil
}
