// Package fetcher retrieves web and local content through a chain of
// strategies. Direct HTTP is tried first; responses that look like bot
// blocking fall back to a rendered browser fetch. Local file URLs go through
// the filesystem allow-list and never touch the network. Successful network
// results are written through to the cache under a canonical URL key.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/webdigest/pkg/browser"
	"github.com/entrhq/webdigest/pkg/cache"
	"github.com/entrhq/webdigest/pkg/logging"
	"github.com/entrhq/webdigest/pkg/metrics"
	"github.com/entrhq/webdigest/pkg/security/fileguard"
	"golang.org/x/sync/semaphore"
)

const maxBodySize = 32 << 20 // 32 MiB

// Renderer is the browser strategy's collaborator. *browser.Pool satisfies
// it.
type Renderer interface {
	Render(ctx context.Context, url string, opts browser.NavigateOptions) (*browser.RenderResult, error)
}

// Fetcher retrieves content via direct HTTP, a rendered browser session, or
// the local filesystem. Safe for concurrent use.
type Fetcher struct {
	settings  Settings
	client    *http.Client
	renderer  Renderer
	cache     cache.Cache
	guard     *fileguard.Guard
	logger    *logging.Logger
	collector metrics.Collector

	closeOnce sync.Once
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRenderer sets the browser strategy backend. Without one, browser
// fetches and fallbacks fail with a kinded error.
func WithRenderer(r Renderer) Option {
	return func(f *Fetcher) {
		f.renderer = r
	}
}

// WithCache enables the cache-first lookup and write-through.
func WithCache(c cache.Cache) Option {
	return func(f *Fetcher) {
		f.cache = c
	}
}

// WithFileGuard enables the file strategy. Without a guard every file fetch
// is rejected.
func WithFileGuard(g *fileguard.Guard) Option {
	return func(f *Fetcher) {
		f.guard = g
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c metrics.Collector) Option {
	return func(f *Fetcher) {
		f.collector = c
	}
}

// WithHTTPClient overrides the direct-strategy HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher creates a fetcher with the given settings.
func NewFetcher(settings Settings, logger *logging.Logger, opts ...Option) *Fetcher {
	if settings.RequestTimeout <= 0 {
		settings.RequestTimeout = DefaultSettings().RequestTimeout
	}
	if settings.UserAgent == "" {
		settings.UserAgent = DefaultSettings().UserAgent
	}
	if settings.MinContentLength <= 0 {
		settings.MinContentLength = DefaultSettings().MinContentLength
	}
	if settings.MaxConcurrent <= 0 {
		settings.MaxConcurrent = DefaultSettings().MaxConcurrent
	}

	f := &Fetcher{
		settings:  settings,
		client:    &http.Client{Timeout: settings.RequestTimeout},
		logger:    logger,
		collector: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves rawURL using the strategy chain. The returned Result is
// owned by the caller and never mutated by the fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	start := time.Now()
	result, err := f.fetch(ctx, rawURL, opts)

	method := ""
	fromCache := false
	if result != nil {
		method = string(result.Method)
		fromCache = result.FromCache
	}
	f.collector.RecordFetch(method, fromCache, time.Since(start), err)
	return result, err
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindValidation, URL: rawURL, Err: fmt.Errorf("invalid URL: %w", err)}
	}

	if parsed.Scheme == "file" || parsed.Scheme == "" {
		// Local files never go through the cache or the network fallback.
		return f.fetchFile(rawURL, parsed)
	}

	key := canonicalKey(parsed)
	if !opts.DisableCache && !opts.ForceBrowser {
		if result, ok := f.lookupCache(key, rawURL); ok {
			f.logger.Debugf("cache hit for %s", rawURL)
			return result, nil
		}
	}

	result, err := f.fetchNetwork(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}

	if !opts.DisableCache && result.StatusCode == http.StatusOK {
		f.storeCache(key, result)
	}
	return result, nil
}

func (f *Fetcher) fetchNetwork(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if opts.ForceBrowser {
		return f.fetchBrowser(ctx, rawURL)
	}

	result, err := f.fetchHTTP(ctx, rawURL)
	if err == nil {
		return result, nil
	}

	// Cancellation tears down, never falls back.
	if ctx.Err() != nil {
		f.client.CloseIdleConnections()
		return nil, err
	}
	if opts.DisableFallback {
		return nil, err
	}

	f.logger.Infof("direct fetch of %s failed (%v), retrying with browser", rawURL, err)
	result, browserErr := f.fetchBrowser(ctx, rawURL)
	if browserErr != nil {
		return nil, &Error{
			Kind: KindStatus,
			URL:  rawURL,
			Err:  fmt.Errorf("all strategies failed: direct: %v; browser: %w", err, browserErr),
		}
	}
	return result, nil
}

// fetchHTTP is the direct strategy. 403/429 responses and implausibly small
// bodies are reported as suspicious so the caller can fall back.
func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindValidation, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.settings.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		kind := KindNetwork
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{
			Kind: KindStatus,
			URL:  rawURL,
			Err:  fmt.Errorf("status %d: %w", resp.StatusCode, ErrSuspiciousResponse),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind: KindStatus,
			URL:  rawURL,
			Err:  fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	if len(body) < f.settings.MinContentLength {
		return nil, &Error{
			Kind: KindStatus,
			URL:  rawURL,
			Err:  fmt.Errorf("body of %d bytes below minimum %d: %w", len(body), f.settings.MinContentLength, ErrSuspiciousResponse),
		}
	}

	return &Result{
		URL:         rawURL,
		Content:     body,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     flattenHeaders(resp.Header),
		StatusCode:  resp.StatusCode,
		Method:      MethodHTTP,
	}, nil
}

func (f *Fetcher) fetchBrowser(ctx context.Context, rawURL string) (*Result, error) {
	if f.renderer == nil {
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: fmt.Errorf("no browser renderer configured")}
	}

	rendered, err := f.renderer.Render(ctx, rawURL, browser.NavigateOptions{
		WaitUntil: "networkidle",
		Timeout:   f.settings.RequestTimeout,
	})
	if err != nil {
		kind := KindNetwork
		if ctx.Err() != nil {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, URL: rawURL, Err: err}
	}
	if rendered.StatusCode >= 400 {
		return nil, &Error{
			Kind: KindStatus,
			URL:  rawURL,
			Err:  fmt.Errorf("rendered page returned status %d", rendered.StatusCode),
		}
	}

	headers := canonicalizeHeaders(rendered.Headers)
	contentType := headers["Content-Type"]
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return &Result{
		URL:         rawURL,
		Content:     []byte(rendered.HTML),
		ContentType: contentType,
		Headers:     headers,
		StatusCode:  rendered.StatusCode,
		Method:      MethodBrowser,
	}, nil
}

// fetchFile reads a local file after allow-list validation. Fails closed
// when no guard is configured.
func (f *Fetcher) fetchFile(rawURL string, parsed *url.URL) (*Result, error) {
	if f.guard == nil {
		return nil, &Error{Kind: KindValidation, URL: rawURL, Err: fmt.Errorf("file access is not enabled")}
	}

	path := parsed.Path
	if parsed.Scheme == "" {
		path = rawURL
	}

	resolved, err := f.guard.Validate(path)
	if err != nil {
		return nil, &Error{Kind: KindValidation, URL: rawURL, Err: err}
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return nil, &Error{Kind: KindValidation, URL: rawURL, Err: fmt.Errorf("failed to read file: %w", err)}
	}

	contentType := mime.TypeByExtension(filepath.Ext(resolved))
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	return &Result{
		URL:         rawURL,
		Content:     content,
		ContentType: contentType,
		Headers:     map[string]string{},
		StatusCode:  http.StatusOK,
		Method:      MethodFile,
	}, nil
}

// FetchMultiple fetches urls concurrently, bounded by maxConcurrent (or the
// configured default when non-positive). Failed URLs are logged and omitted;
// the call returns whatever succeeded.
func (f *Fetcher) FetchMultiple(ctx context.Context, urls []string, maxConcurrent int) map[string]*Result {
	if maxConcurrent <= 0 {
		maxConcurrent = f.settings.MaxConcurrent
	}

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]*Result, len(urls))

	for _, u := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			f.logger.Warnf("fetch of %s abandoned: %v", u, err)
			continue
		}

		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			defer sem.Release(1)

			result, err := f.Fetch(ctx, target, Options{})
			if err != nil {
				f.logger.Warnf("failed to fetch %s: %v", target, err)
				return
			}

			mu.Lock()
			results[target] = result
			mu.Unlock()
		}(u)
	}

	wg.Wait()
	return results
}

// Close releases the shared HTTP client's idle connections and shuts down
// the browser renderer when it supports shutdown. Idempotent.
func (f *Fetcher) Close() {
	f.closeOnce.Do(func() {
		f.client.CloseIdleConnections()
		if s, ok := f.renderer.(interface{ Shutdown(time.Duration) }); ok {
			s.Shutdown(10 * time.Second)
		}
	})
}

func (f *Fetcher) lookupCache(key, rawURL string) (*Result, bool) {
	if f.cache == nil {
		return nil, false
	}

	value, _, ok := f.cache.Get(key)
	if !ok {
		return nil, false
	}

	var entry cachedResult
	if err := json.Unmarshal(value, &entry); err != nil {
		f.logger.Warnf("discarding corrupt cache entry for %s: %v", rawURL, err)
		return nil, false
	}

	return &Result{
		URL:         rawURL,
		Content:     entry.Content,
		ContentType: entry.ContentType,
		Headers:     entry.Headers,
		StatusCode:  entry.StatusCode,
		Method:      entry.Method,
		FromCache:   true,
	}, true
}

func (f *Fetcher) storeCache(key string, result *Result) {
	if f.cache == nil {
		return
	}

	value, err := json.Marshal(cachedResult{
		Content:     result.Content,
		ContentType: result.ContentType,
		Headers:     result.Headers,
		StatusCode:  result.StatusCode,
		Method:      result.Method,
	})
	if err != nil {
		f.logger.Warnf("failed to serialize cache entry for %s: %v", result.URL, err)
		return
	}

	meta := cache.Meta{}
	if result.Headers != nil {
		meta.ETag = result.Headers["Etag"]
		meta.LastModified = result.Headers["Last-Modified"]
	}
	f.cache.Set(key, value, meta)
}

// canonicalKey normalizes a URL for cache lookups: fragment stripped, scheme
// and host lowercased, default ports removed. Query strings are preserved
// since they select distinct content.
func canonicalKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)

	if (c.Scheme == "http" && strings.HasSuffix(c.Host, ":80")) ||
		(c.Scheme == "https" && strings.HasSuffix(c.Host, ":443")) {
		c.Host = c.Host[:strings.LastIndex(c.Host, ":")]
	}

	return "fetch:" + c.String()
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for name := range h {
		flat[name] = h.Get(name)
	}
	return flat
}

// canonicalizeHeaders normalizes rendered-page header names, which arrive
// lowercased, to canonical MIME form so lookups match the direct path.
func canonicalizeHeaders(h map[string]string) map[string]string {
	canonical := make(map[string]string, len(h))
	for name, value := range h {
		canonical[http.CanonicalHeaderKey(name)] = value
	}
	return canonical
}
