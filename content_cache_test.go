package bulwark

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestCache(ttl time.Duration, maxEntries int) *ContentCache {
	allowlist := NewAllowlist([]string{"example.com", "docs.test"})
	return NewContentCache(allowlist, ttl, maxEntries)
}

func TestContentCacheSetGet(t *testing.T) {
	c := newTestCache(time.Hour, 100)

	c.Set("https://example.com/page", []byte("hello"), "text/html", `"etag1"`, time.Time{})

	entry, ok := c.Get("https://example.com/page")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if string(entry.Content) != "hello" {
		t.Errorf("Expected content hello, got %q", entry.Content)
	}
	if entry.ContentType != "text/html" {
		t.Errorf("Expected content type text/html, got %q", entry.ContentType)
	}
	if entry.ETag != `"etag1"` {
		t.Errorf("Expected etag preserved, got %q", entry.ETag)
	}
	if entry.CachedAt.IsZero() || entry.ExpiresAt.IsZero() {
		t.Error("Expected CachedAt and ExpiresAt set")
	}
}

func TestContentCacheExpiry(t *testing.T) {
	c := newTestCache(50*time.Millisecond, 100)

	c.Set("https://example.com/page", []byte("hello"), "text/html", "", time.Time{})

	if _, ok := c.Get("https://example.com/page"); !ok {
		t.Fatal("Expected entry valid immediately after Set")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("https://example.com/page"); ok {
		t.Fatal("Expected entry expired")
	}

	// Lazy expiry removed it physically too
	if _, ok := c.GetStale("https://example.com/page"); ok {
		t.Error("Expected expired entry physically removed by failed lookup")
	}
}

func TestContentCacheDisallowedHost(t *testing.T) {
	c := newTestCache(time.Hour, 100)

	// Set against a disallowed host is a silent no-op
	c.Set("https://evil.com/page", []byte("nope"), "text/html", "", time.Time{})
	if c.Len() != 0 {
		t.Errorf("Expected no entries, got %d", c.Len())
	}

	// Get against a disallowed host is indistinguishable from a miss
	if _, ok := c.Get("https://evil.com/page"); ok {
		t.Error("Expected miss for disallowed host")
	}
}

func TestContentCacheInvalidate(t *testing.T) {
	c := newTestCache(time.Hour, 100)

	c.Set("https://example.com/page", []byte("hello"), "text/html", "", time.Time{})
	c.Invalidate("https://example.com/page")

	if _, ok := c.Get("https://example.com/page"); ok {
		t.Error("Expected entry removed by Invalidate")
	}
}

func TestContentCacheLastSetWins(t *testing.T) {
	c := newTestCache(time.Hour, 100)

	c.Set("https://example.com/page", []byte("v1"), "text/html", "", time.Time{})
	c.Set("https://example.com/page", []byte("v2"), "text/html", "", time.Time{})

	entry, ok := c.Get("https://example.com/page")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if string(entry.Content) != "v2" {
		t.Errorf("Expected last write to win, got %q", entry.Content)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
}

func TestContentCacheCleanupExpiredFirst(t *testing.T) {
	c := newTestCache(time.Hour, 100)

	c.Set("https://example.com/old", []byte("old"), "text/html", "", time.Time{})
	// Force the entry past its TTL
	shard := c.shard("https://example.com/old")
	shard.mu.Lock()
	shard.store["https://example.com/old"].ExpiresAt = time.Now().Add(-time.Minute)
	shard.mu.Unlock()

	c.Set("https://example.com/fresh", []byte("fresh"), "text/html", "", time.Time{})

	c.CleanupExpired()

	if _, ok := c.GetStale("https://example.com/old"); ok {
		t.Error("Expected expired entry swept")
	}
	if _, ok := c.Get("https://example.com/fresh"); !ok {
		t.Error("Expected fresh entry untouched")
	}
}

func TestContentCacheEvictsOldestWhenOverBound(t *testing.T) {
	c := newTestCache(time.Hour, 3)

	for i := 0; i < 6; i++ {
		url := fmt.Sprintf("https://example.com/page/%d", i)
		c.Set(url, []byte("x"), "text/html", "", time.Time{})
		// Distinct insertion times so eviction order is deterministic
		time.Sleep(2 * time.Millisecond)
	}

	c.CleanupExpired()

	if got := c.Len(); got != 3 {
		t.Fatalf("Expected 3 entries after eviction, got %d", got)
	}

	// Exactly the oldest-by-insertion entries were removed
	for i := 0; i < 3; i++ {
		url := fmt.Sprintf("https://example.com/page/%d", i)
		if _, ok := c.GetStale(url); ok {
			t.Errorf("Expected oldest entry %s evicted", url)
		}
	}
	for i := 3; i < 6; i++ {
		url := fmt.Sprintf("https://example.com/page/%d", i)
		if _, ok := c.GetStale(url); !ok {
			t.Errorf("Expected newest entry %s retained", url)
		}
	}
}

func TestContentCacheStats(t *testing.T) {
	c := newTestCache(time.Hour, 100)

	c.Set("https://example.com/a", []byte("aaaa"), "text/html", "", time.Time{})
	c.Set("https://example.com/b", []byte("bb"), "text/html", "", time.Time{})
	c.Set("https://docs.test/c", []byte("c"), "text/plain", "", time.Time{})

	c.Get("https://example.com/a")  // hit
	c.Get("https://example.com/zz") // miss

	stats := c.Stats()
	if stats.TotalItems != 3 {
		t.Errorf("Expected TotalItems=3, got %d", stats.TotalItems)
	}
	if stats.TotalSizeBytes != 7 {
		t.Errorf("Expected TotalSizeBytes=7, got %d", stats.TotalSizeBytes)
	}
	if stats.ExpiredItems != 0 {
		t.Errorf("Expected ExpiredItems=0, got %d", stats.ExpiredItems)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("Expected HitRate=0.5, got %v", stats.HitRate)
	}
	if stats.HostBreakdown["example.com"] != 2 {
		t.Errorf("Expected 2 entries for example.com, got %d", stats.HostBreakdown["example.com"])
	}
	if stats.HostBreakdown["docs.test"] != 1 {
		t.Errorf("Expected 1 entry for docs.test, got %d", stats.HostBreakdown["docs.test"])
	}
}

func TestContentCacheStatsCountsExpired(t *testing.T) {
	c := newTestCache(time.Hour, 100)

	c.Set("https://example.com/a", []byte("a"), "text/html", "", time.Time{})
	shard := c.shard("https://example.com/a")
	shard.mu.Lock()
	shard.store["https://example.com/a"].ExpiresAt = time.Now().Add(-time.Minute)
	shard.mu.Unlock()

	stats := c.Stats()
	if stats.TotalItems != 1 || stats.ExpiredItems != 1 {
		t.Errorf("Expected 1 total / 1 expired, got %d / %d", stats.TotalItems, stats.ExpiredItems)
	}
}

func TestContentCacheClear(t *testing.T) {
	c := newTestCache(time.Hour, 100)
	c.Set("https://example.com/a", []byte("a"), "text/html", "", time.Time{})
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d entries", c.Len())
	}
}

func TestContentCacheConcurrentAccess(t *testing.T) {
	c := newTestCache(time.Hour, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				url := fmt.Sprintf("https://example.com/%d/%d", worker, j)
				c.Set(url, []byte("x"), "text/html", "", time.Time{})
				c.Get(url)
				if j%10 == 0 {
					c.Invalidate(url)
				}
			}
		}(i)
	}
	wg.Wait()

	stats := c.Stats()
	if stats.TotalItems == 0 {
		t.Error("Expected entries to survive concurrent access")
	}
}
