package trending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pricepulse/internal/metrics"
	"pricepulse/internal/models"

	"github.com/sirupsen/logrus"
)

// BatchFetcher is the upstream dependency used to refresh the trending list
type BatchFetcher interface {
	FetchBatch(ctx context.Context, query string) ([]models.TrendingPair, error)
}

// Meta describes how a trending response was produced
type Meta struct {
	Cached          bool      `json:"cached"`
	CacheHit        bool      `json:"cacheHit"`
	Stale           bool      `json:"stale"`
	Fallback        bool      `json:"fallback,omitempty"`
	LastUpdate      time.Time `json:"lastUpdate"`
	NextUpdate      time.Time `json:"nextUpdate"`
	Count           int       `json:"count"`
	FetchDurationMs int64     `json:"fetchDuration,omitempty"`
}

// Result is a trending list plus its cache metadata
type Result struct {
	Items []models.TrendingPair `json:"items"`
	Meta  Meta                  `json:"meta"`
}

// Stats is a diagnostics snapshot of the cache
type Stats struct {
	HasData         bool          `json:"has_data"`
	AgeSeconds      float64       `json:"age_seconds"`
	Stale           bool          `json:"stale"`
	FetchInProgress bool          `json:"fetch_in_progress"`
	LastUpdate      time.Time     `json:"last_update"`
	ItemCount       int           `json:"item_count"`
	TTL             time.Duration `json:"-"`
	TTLSeconds      float64       `json:"ttl_seconds"`
}

// Cache is a short-TTL cache over the upstream batch call with force-refresh
// and stale-on-error fallback. At most one refresh runs at a time.
type Cache struct {
	fetcher  BatchFetcher
	logger   *logrus.Logger
	ttl      time.Duration
	query    string
	fallback []models.TrendingPair
	nowFunc  func() time.Time

	mu            sync.Mutex
	items         []models.TrendingPair
	fetchedAt     time.Time
	fetchDuration time.Duration
	refreshing    bool
}

// NewCache creates a trending cache. fallback may be nil; when present it is
// served only if upstream has never succeeded.
func NewCache(fetcher BatchFetcher, ttl time.Duration, query string, fallback []models.TrendingPair, logger *logrus.Logger) *Cache {
	return &Cache{
		fetcher:  fetcher,
		logger:   logger,
		ttl:      ttl,
		query:    query,
		fallback: fallback,
		nowFunc:  time.Now,
	}
}

// Get returns up to limit trending pairs. A fresh cached value is served
// directly; otherwise the upstream is fetched, falling back to the stale
// cache (or the curated fallback list) on failure.
func (c *Cache) Get(ctx context.Context, limit int, forceRefresh bool) (*Result, error) {
	c.mu.Lock()
	fresh := len(c.items) > 0 && c.nowFunc().Sub(c.fetchedAt) <= c.ttl
	if fresh && !forceRefresh {
		result := c.resultLocked(limit, true, false)
		c.mu.Unlock()
		metrics.RecordCacheAccess("trending", true)
		return result, nil
	}
	c.mu.Unlock()
	metrics.RecordCacheAccess("trending", false)

	trigger := "ttl"
	if forceRefresh {
		trigger = "force"
	}

	if err := c.refresh(ctx, trigger); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()

		if len(c.items) > 0 {
			// Serve stale rather than failing the caller
			c.logger.WithError(err).Warn("Trending refresh failed, serving stale cache")
			return c.resultLocked(limit, true, true), nil
		}
		if len(c.fallback) > 0 {
			c.logger.WithError(err).Warn("Trending refresh failed with empty cache, serving curated fallback")
			result := c.resultLocked(limit, false, false)
			result.Items = clampPairs(c.fallback, limit)
			result.Meta.Fallback = true
			result.Meta.Count = len(result.Items)
			return result, nil
		}
		return nil, fmt.Errorf("%w: %v", models.ErrNoDataAvailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resultLocked(limit, false, false), nil
}

// Refresh forces an immediate fetch regardless of TTL. Concurrent refreshes
// do not overlap: the second caller gets ErrRefreshInFlight.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.refresh(ctx, "admin")
}

func (c *Cache) refresh(ctx context.Context, trigger string) error {
	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		return models.ErrRefreshInFlight
	}
	c.refreshing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	metrics.TrendingRefreshes.WithLabelValues(trigger).Inc()

	start := c.nowFunc()
	items, err := c.fetcher.FetchBatch(ctx, c.query)
	elapsed := c.nowFunc().Sub(start)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.items = items
	c.fetchedAt = c.nowFunc()
	c.fetchDuration = elapsed
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"items":    len(items),
		"trigger":  trigger,
		"duration": elapsed,
	}).Info("Trending list refreshed")
	return nil
}

// Stats returns cache diagnostics. Caller-safe at any time.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		HasData:         len(c.items) > 0,
		FetchInProgress: c.refreshing,
		LastUpdate:      c.fetchedAt,
		ItemCount:       len(c.items),
		TTL:             c.ttl,
		TTLSeconds:      c.ttl.Seconds(),
	}
	if !c.fetchedAt.IsZero() {
		age := c.nowFunc().Sub(c.fetchedAt)
		stats.AgeSeconds = age.Seconds()
		stats.Stale = age > c.ttl
	}
	return stats
}

// resultLocked builds a Result from current state. Caller holds c.mu.
func (c *Cache) resultLocked(limit int, cacheHit, stale bool) *Result {
	items := clampPairs(c.items, limit)
	return &Result{
		Items: items,
		Meta: Meta{
			Cached:          cacheHit,
			CacheHit:        cacheHit,
			Stale:           stale,
			LastUpdate:      c.fetchedAt,
			NextUpdate:      c.fetchedAt.Add(c.ttl),
			Count:           len(items),
			FetchDurationMs: c.fetchDuration.Milliseconds(),
		},
	}
}

func clampPairs(pairs []models.TrendingPair, limit int) []models.TrendingPair {
	if limit <= 0 || limit > len(pairs) {
		limit = len(pairs)
	}
	out := make([]models.TrendingPair, limit)
	copy(out, pairs[:limit])
	return out
}
