// Package robots fetches, caches, and evaluates robots.txt per origin for
// the lifetime of one crawl job.
package robots

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxRobotsBody = 1 << 20

// Record holds the parsed robots.txt policy for one origin. It is written
// once and then read concurrently by every worker targeting that origin.
type Record struct {
	Origin    string
	FetchedAt time.Time
	group     *robotstxt.Group
	delay     time.Duration
}

// Allowed reports whether the path may be fetched. A missing or unreadable
// robots.txt allows everything.
func (r *Record) Allowed(path string) bool {
	if r == nil || r.group == nil {
		return true
	}
	return r.group.Test(path)
}

// CrawlDelay returns the origin's Crawl-delay, or def when the directive
// is absent.
func (r *Record) CrawlDelay(def time.Duration) time.Duration {
	if r == nil || r.delay <= 0 {
		return def
	}
	return r.delay
}

// Cache resolves and memoizes one Record per origin. Concurrent first
// lookups for the same origin are collapsed to a single network fetch, and
// records are never revalidated for the cache's lifetime.
type Cache struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	flight  singleflight.Group
	mu      sync.RWMutex
	records map[string]*Record
}

// NewCache builds a Cache. A nil client gets a 10 second timeout default.
func NewCache(client *http.Client, userAgent string, logger *zap.Logger) *Cache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		records:   make(map[string]*Record),
	}
}

// Lookup returns the Record for origin (scheme://host), fetching
// origin/robots.txt on first reference. Any fetch failure or non-2xx
// response yields a permissive record; robots.txt absence must never block
// a crawl.
func (c *Cache) Lookup(ctx context.Context, origin string) *Record {
	c.mu.RLock()
	rec, ok := c.records[origin]
	c.mu.RUnlock()
	if ok {
		return rec
	}

	v, _, _ := c.flight.Do(origin, func() (any, error) {
		rec := c.fetch(ctx, origin)
		c.mu.Lock()
		c.records[origin] = rec
		c.mu.Unlock()
		return rec, nil
	})
	return v.(*Record)
}

func (c *Cache) fetch(ctx context.Context, origin string) *Record {
	rec := &Record{Origin: origin, FetchedAt: time.Now().UTC()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		c.logger.Warn("robots request build failed; allowing all",
			zap.String("origin", origin), zap.Error(err))
		return rec
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing all",
			zap.String("origin", origin), zap.Error(err))
		return rec
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("robots fetch non-2xx; allowing all",
			zap.String("origin", origin), zap.Int("status", resp.StatusCode))
		return rec
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		c.logger.Warn("robots body read failed; allowing all",
			zap.String("origin", origin), zap.Error(err))
		return rec
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		c.logger.Warn("robots parse failed; allowing all",
			zap.String("origin", origin), zap.Error(err))
		return rec
	}

	group := data.FindGroup(c.userAgent)
	if group != nil {
		rec.group = group
		rec.delay = group.CrawlDelay
	}
	return rec
}

// Len reports how many origins have been resolved, for logging.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
