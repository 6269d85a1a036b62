package fetcher

import "time"

// Method identifies which strategy produced a result.
type Method string

const (
	MethodHTTP    Method = "http"
	MethodBrowser Method = "browser"
	MethodFile    Method = "file"
)

// Result is the immutable outcome of one fetch. Content is never mutated
// after construction; callers decide whether to persist it.
type Result struct {
	URL         string
	Content     []byte
	ContentType string
	Headers     map[string]string
	StatusCode  int
	Method      Method
	FromCache   bool
}

// Options controls a single Fetch call.
type Options struct {
	// ForceBrowser skips the direct HTTP strategy.
	ForceBrowser bool

	// DisableCache skips both the cache lookup and the write-through.
	DisableCache bool

	// DisableFallback surfaces direct-strategy failures instead of
	// attempting the browser strategy.
	DisableFallback bool
}

// Settings configures a Fetcher.
type Settings struct {
	// RequestTimeout bounds one direct HTTP request or browser navigation.
	RequestTimeout time.Duration

	// UserAgent is sent on direct HTTP requests.
	UserAgent string

	// MinContentLength marks smaller direct-HTTP bodies as suspicious.
	// Heuristic; configure rather than rely on the default.
	MinContentLength int

	// MaxConcurrent bounds FetchMultiple when the caller passes no limit.
	MaxConcurrent int
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		RequestTimeout:   30 * time.Second,
		UserAgent:        "webdigest/1.0",
		MinContentLength: 100,
		MaxConcurrent:    4,
	}
}

// cachedResult is the JSON envelope stored in the cache collaborator.
type cachedResult struct {
	Content     []byte            `json:"content"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	StatusCode  int               `json:"status_code"`
	Method      Method            `json:"method"`
}
