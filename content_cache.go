package bulwark

import (
	"hash/fnv"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ContentEntry is one cached fetch result, keyed by URL.
type ContentEntry struct {
	URL          string
	Content      []byte
	ContentType  string
	CachedAt     time.Time
	ExpiresAt    time.Time
	ETag         string
	LastModified time.Time
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *ContentEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStats is a point-in-time summary of the cache plus its lifetime
// hit/miss counters.
type CacheStats struct {
	TotalItems     int
	ExpiredItems   int
	TotalSizeBytes int64
	HitRate        float64
	HostBreakdown  map[string]int
}

// ContentCache is a TTL and size bounded store of previously fetched external
// content. Lookups against hosts outside the allowlist report a miss, without
// distinguishing "not cached" from "not allowed". Expired entries are removed
// lazily when a lookup finds them, or by CleanupExpired. When the entry count
// reaches the configured bound, a sweep is triggered off the hot path that
// removes expired entries first and then the oldest-inserted entries until the
// cache fits again.
//
// The backing store is sharded so operations on different URLs rarely block
// each other; operations on the same URL are linearized per shard (last Set
// wins).
type ContentCache struct {
	shards     []*contentShard
	numShards  int
	allowlist  *Allowlist
	ttl        time.Duration
	maxEntries int

	hits     int64
	misses   int64
	sweeping int32

	logger  *zap.Logger
	metrics *MetricsCollector
}

type contentShard struct {
	mu    sync.RWMutex
	store map[string]*ContentEntry
}

// CacheOption configures a ContentCache.
type CacheOption func(*ContentCache)

// WithCacheLogger sets the cache's structured logger.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *ContentCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheMetrics sets the cache's metrics collector.
func WithCacheMetrics(collector *MetricsCollector) CacheOption {
	return func(c *ContentCache) {
		c.metrics = collector
	}
}

// NewContentCache creates a cache bounded by ttl and maxEntries, restricted
// to hosts matching allowlist. Zero arguments fall back to a 1h TTL and a
// 1000 entry bound.
func NewContentCache(allowlist *Allowlist, ttl time.Duration, maxEntries int, opts ...CacheOption) *ContentCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	numShards := 16
	shards := make([]*contentShard, numShards)
	for i := range shards {
		shards[i] = &contentShard{store: make(map[string]*ContentEntry)}
	}

	c := &ContentCache{
		shards:     shards,
		numShards:  numShards,
		allowlist:  allowlist,
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsURLAllowed reports whether rawURL's host passes the allowlist check.
func (c *ContentCache) IsURLAllowed(rawURL string) bool {
	return c.allowlist.AllowsURL(rawURL)
}

// Get returns the valid cached entry for rawURL, or nil and false when the
// entry is absent, expired, or the host is not allowlisted. An expired entry
// found by the lookup is physically removed as a side effect.
func (c *ContentCache) Get(rawURL string) (*ContentEntry, bool) {
	if !c.IsURLAllowed(rawURL) {
		c.recordMiss()
		return nil, false
	}

	shard := c.shard(rawURL)
	now := time.Now()

	shard.mu.RLock()
	entry, exists := shard.store[rawURL]
	if exists && !entry.Expired(now) {
		shard.mu.RUnlock()
		c.recordHit()
		return entry, true
	}
	shard.mu.RUnlock()

	if exists {
		// Lazy expiry: drop the stale entry now that we found it.
		shard.mu.Lock()
		if entry, exists = shard.store[rawURL]; exists && entry.Expired(time.Now()) {
			delete(shard.store, rawURL)
			c.metrics.RecordCacheEvictions(1)
		}
		shard.mu.Unlock()
	}

	c.recordMiss()
	return nil, false
}

// GetStale returns the entry for rawURL even when expired, without touching
// hit/miss counters or removing anything. Fetchers use it to recover ETag and
// Last-Modified validators for conditional refetches.
func (c *ContentCache) GetStale(rawURL string) (*ContentEntry, bool) {
	shard := c.shard(rawURL)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, exists := shard.store[rawURL]
	return entry, exists
}

// Set stores content for rawURL with an expiry of now + TTL, silently
// skipping hosts outside the allowlist. A zero lastModified means the origin
// did not report one.
func (c *ContentCache) Set(rawURL string, content []byte, contentType, etag string, lastModified time.Time) {
	if !c.IsURLAllowed(rawURL) {
		c.logger.Debug("refusing to cache content from disallowed host", zap.String("url", rawURL))
		return
	}

	now := time.Now()
	entry := &ContentEntry{
		URL:          rawURL,
		Content:      content,
		ContentType:  contentType,
		CachedAt:     now,
		ExpiresAt:    now.Add(c.ttl),
		ETag:         etag,
		LastModified: lastModified,
	}

	shard := c.shard(rawURL)
	shard.mu.Lock()
	shard.store[rawURL] = entry
	shard.mu.Unlock()

	size := c.Len()
	c.metrics.RecordCacheSize(size)
	if size >= c.maxEntries {
		c.triggerCleanup()
	}
}

// Invalidate removes rawURL from the cache unconditionally.
func (c *ContentCache) Invalidate(rawURL string) {
	shard := c.shard(rawURL)
	shard.mu.Lock()
	delete(shard.store, rawURL)
	shard.mu.Unlock()
}

// CleanupExpired sweeps the cache in two phases: first every expired entry is
// removed; then, if the cache is still over its size bound, the oldest
// entries by insertion time go until the bound holds. Expire-first, then
// oldest-by-insertion – not LRU by access.
func (c *ContentCache) CleanupExpired() {
	now := time.Now()
	removed := 0

	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.store {
			if entry.Expired(now) {
				delete(shard.store, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	over := c.Len() - c.maxEntries
	if over > 0 {
		type aged struct {
			key      string
			cachedAt time.Time
		}
		var all []aged
		for _, shard := range c.shards {
			shard.mu.RLock()
			for key, entry := range shard.store {
				all = append(all, aged{key, entry.CachedAt})
			}
			shard.mu.RUnlock()
		}
		sort.Slice(all, func(i, j int) bool {
			return all[i].cachedAt.Before(all[j].cachedAt)
		})
		if over > len(all) {
			over = len(all)
		}
		for _, victim := range all[:over] {
			c.Invalidate(victim.key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("cache cleanup finished", zap.Int("removed", removed))
		c.metrics.RecordCacheEvictions(removed)
	}
	c.metrics.RecordCacheSize(c.Len())
}

// Stats summarizes the cache contents and lifetime hit rate. The hit/miss
// counters are monotonic and never reset.
func (c *ContentCache) Stats() CacheStats {
	now := time.Now()
	stats := CacheStats{HostBreakdown: make(map[string]int)}

	for _, shard := range c.shards {
		shard.mu.RLock()
		for _, entry := range shard.store {
			stats.TotalItems++
			stats.TotalSizeBytes += int64(len(entry.Content))
			if entry.Expired(now) {
				stats.ExpiredItems++
			}
			stats.HostBreakdown[hostOf(entry.URL)]++
		}
		shard.mu.RUnlock()
	}

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// Len returns the current number of entries across all shards.
func (c *ContentCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// Clear removes every entry. Hit/miss counters are left untouched.
func (c *ContentCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*ContentEntry)
		shard.mu.Unlock()
	}
	c.metrics.RecordCacheSize(0)
}

func (c *ContentCache) shard(key string) *contentShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(c.numShards)]
}

// triggerCleanup starts one background sweep; concurrent triggers collapse
// into the sweep already running.
func (c *ContentCache) triggerCleanup() {
	if !atomic.CompareAndSwapInt32(&c.sweeping, 0, 1) {
		return
	}
	go func() {
		defer atomic.StoreInt32(&c.sweeping, 0)
		c.CleanupExpired()
	}()
}

func (c *ContentCache) recordHit() {
	atomic.AddInt64(&c.hits, 1)
	c.metrics.RecordCacheHit()
}

func (c *ContentCache) recordMiss() {
	atomic.AddInt64(&c.misses, 1)
	c.metrics.RecordCacheMiss()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
