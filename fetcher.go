package bulwark

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// maxFetchBytes bounds how much of a response body is read and cached.
const maxFetchBytes = 10 * 1024 * 1024

// Doer abstracts the HTTP client performing the actual network call.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// FetchResult is the outcome of a cache-aside fetch.
type FetchResult struct {
	Content     []byte
	ContentType string
	StatusCode  int
	FromCache   bool

	fetchMeta
}

// Fetcher composes the content cache with a resilient caller in the
// cache-aside pattern: a valid cached entry short-circuits the network; a
// miss drives an HTTP GET through the caller's admission chain and writes the
// result back. When a stale entry is still around, its ETag / Last-Modified
// validators are sent so the origin can answer 304 and the cached content is
// refreshed in place.
type Fetcher struct {
	cache   *ContentCache
	caller  *Caller
	client  Doer
	service string
	logger  *zap.Logger
}

// NewFetcher creates a fetcher issuing requests against the named service's
// quota and circuit. client defaults to http.DefaultClient when nil.
func NewFetcher(cache *ContentCache, caller *Caller, client Doer, service string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		cache:   cache,
		caller:  caller,
		client:  client,
		service: service,
		logger:  caller.logger,
	}
}

// Fetch returns the content behind rawURL, served from cache when possible.
// Disallowed hosts fail with a KindURLNotAllowed error before any network or
// admission work happens.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if !f.cache.IsURLAllowed(rawURL) {
		return nil, &Error{
			Kind:      KindURLNotAllowed,
			Service:   f.service,
			Message:   "host is not on the allowlist",
			Timestamp: time.Now(),
			Cause:     ErrURLNotAllowed,
		}
	}

	// Grab validators before Get, which removes expired entries it finds.
	stale, hasStale := f.cache.GetStale(rawURL)

	if entry, ok := f.cache.Get(rawURL); ok {
		return &FetchResult{
			Content:     entry.Content,
			ContentType: entry.ContentType,
			StatusCode:  http.StatusOK,
			FromCache:   true,
		}, nil
	}

	result, err := f.caller.CallShared(ctx, f.service, rawURL, func(ctx context.Context) (any, error) {
		return f.fetchOnce(ctx, rawURL, stale, hasStale)
	})
	if err != nil {
		return nil, err
	}

	fetched := result.(*FetchResult)
	f.cache.Set(rawURL, fetched.Content, fetched.ContentType, fetched.etag, fetched.lastModified)
	return fetched, nil
}

// validators captured alongside the body so Fetch can write them back.
type fetchMeta struct {
	etag         string
	lastModified time.Time
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string, stale *ContentEntry, hasStale bool) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if hasStale {
		if stale.ETag != "" {
			req.Header.Set("If-None-Match", stale.ETag)
		}
		if !stale.LastModified.IsZero() {
			req.Header.Set("If-Modified-Since", stale.LastModified.Format(http.TimeFormat))
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hasStale {
		f.logger.Debug("origin reports content unchanged", zap.String("url", rawURL))
		return &FetchResult{
			Content:     stale.Content,
			ContentType: stale.ContentType,
			StatusCode:  http.StatusOK,
			fetchMeta: fetchMeta{
				etag:         pickETag(resp, stale.ETag),
				lastModified: stale.LastModified,
			},
		}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, err
	}

	var lastModified time.Time
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		lastModified = t
	}

	return &FetchResult{
		Content:     body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		fetchMeta: fetchMeta{
			etag:         resp.Header.Get("ETag"),
			lastModified: lastModified,
		},
	}, nil
}

func pickETag(resp *http.Response, fallback string) string {
	if etag := resp.Header.Get("ETag"); etag != "" {
		return etag
	}
	return fallback
}
