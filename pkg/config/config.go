// Package config holds the webdigest pipeline configuration. Values are
// resolved in three layers: built-in defaults, an optional YAML file, and
// environment variable overrides (highest precedence).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for all pipeline components.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Pool       PoolConfig       `yaml:"pool"`
	Fetcher    FetcherConfig    `yaml:"fetcher"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	Model   string        `yaml:"model" env:"WEBDIGEST_LLM_MODEL"`
	BaseURL string        `yaml:"base_url" env:"WEBDIGEST_LLM_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"WEBDIGEST_LLM_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"WEBDIGEST_LLM_TIMEOUT"`
}

// PoolConfig configures the browser instance pool.
type PoolConfig struct {
	Size               int           `yaml:"size" env:"WEBDIGEST_POOL_SIZE"`
	MaxAge             time.Duration `yaml:"max_age" env:"WEBDIGEST_POOL_MAX_AGE"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" env:"WEBDIGEST_POOL_IDLE_TIMEOUT"`
	MaxRequests        int           `yaml:"max_requests" env:"WEBDIGEST_POOL_MAX_REQUESTS"`
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" env:"WEBDIGEST_POOL_HEALTH_CHECK_TIMEOUT"`
	StartupTimeout     time.Duration `yaml:"startup_timeout" env:"WEBDIGEST_POOL_STARTUP_TIMEOUT"`
}

// FetcherConfig configures URL fetching.
type FetcherConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" env:"WEBDIGEST_FETCH_REQUEST_TIMEOUT"`
	UserAgent      string        `yaml:"user_agent" env:"WEBDIGEST_FETCH_USER_AGENT"`

	// MinContentLength marks smaller direct-HTTP bodies as suspicious,
	// triggering browser fallback. The exact threshold is heuristic and
	// deliberately configurable.
	MinContentLength int `yaml:"min_content_length" env:"WEBDIGEST_FETCH_MIN_CONTENT_LENGTH"`

	MaxConcurrent int      `yaml:"max_concurrent" env:"WEBDIGEST_FETCH_MAX_CONCURRENT"`
	AllowedDirs   []string `yaml:"allowed_dirs" env:"WEBDIGEST_FETCH_ALLOWED_DIRS" envSeparator:":"`
	MaxFileSize   int64    `yaml:"max_file_size" env:"WEBDIGEST_FETCH_MAX_FILE_SIZE"`

	CacheMaxEntries int           `yaml:"cache_max_entries" env:"WEBDIGEST_FETCH_CACHE_MAX_ENTRIES"`
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"WEBDIGEST_FETCH_CACHE_TTL"`
}

// ChunkerConfig configures text splitting.
type ChunkerConfig struct {
	Strategy string `yaml:"strategy" env:"WEBDIGEST_CHUNK_STRATEGY"`

	BaseChunkSize  int `yaml:"base_chunk_size" env:"WEBDIGEST_CHUNK_BASE_SIZE"`
	CodeChunkSize  int `yaml:"code_chunk_size" env:"WEBDIGEST_CHUNK_CODE_SIZE"`
	DenseChunkSize int `yaml:"dense_chunk_size" env:"WEBDIGEST_CHUNK_DENSE_SIZE"`
	MinChunkSize   int `yaml:"min_chunk_size" env:"WEBDIGEST_CHUNK_MIN_SIZE"`
	MaxChunkSize   int `yaml:"max_chunk_size" env:"WEBDIGEST_CHUNK_MAX_SIZE"`
	Overlap        int `yaml:"overlap" env:"WEBDIGEST_CHUNK_OVERLAP"`

	Adaptive              bool    `yaml:"adaptive" env:"WEBDIGEST_CHUNK_ADAPTIVE"`
	CodeFractionThreshold float64 `yaml:"code_fraction_threshold" env:"WEBDIGEST_CHUNK_CODE_FRACTION"`
	DenseSentenceLength   float64 `yaml:"dense_sentence_length" env:"WEBDIGEST_CHUNK_DENSE_SENTENCE_LENGTH"`
}

// SummarizerConfig configures summarization.
type SummarizerConfig struct {
	// DirectThreshold is the total-token bound below which a single direct
	// call is used instead of map-reduce.
	DirectThreshold int `yaml:"direct_threshold" env:"WEBDIGEST_SUM_DIRECT_THRESHOLD"`

	// MapMode is one of "parallel", "stream", or "sequential".
	MapMode string `yaml:"map_mode" env:"WEBDIGEST_SUM_MAP_MODE"`

	MaxOutputTokens int `yaml:"max_output_tokens" env:"WEBDIGEST_SUM_MAX_OUTPUT_TOKENS"`
	MinOutputTokens int `yaml:"min_output_tokens" env:"WEBDIGEST_SUM_MIN_OUTPUT_TOKENS"`

	// ValidateEvery is the number of streamed fragments between incremental
	// output re-validation passes.
	ValidateEvery int `yaml:"validate_every" env:"WEBDIGEST_SUM_VALIDATE_EVERY"`

	CacheMaxEntries int           `yaml:"cache_max_entries" env:"WEBDIGEST_SUM_CACHE_MAX_ENTRIES"`
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"WEBDIGEST_SUM_CACHE_TTL"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			Timeout: 2 * time.Minute,
		},
		Pool: PoolConfig{
			Size:               3,
			MaxAge:             30 * time.Minute,
			IdleTimeout:        5 * time.Minute,
			MaxRequests:        50,
			HealthCheckTimeout: 5 * time.Second,
			StartupTimeout:     30 * time.Second,
		},
		Fetcher: FetcherConfig{
			RequestTimeout:   30 * time.Second,
			UserAgent:        "webdigest/1.0",
			MinContentLength: 100,
			MaxConcurrent:    4,
			MaxFileSize:      32 << 20,
			CacheMaxEntries:  512,
			CacheTTL:         30 * time.Minute,
		},
		Chunker: ChunkerConfig{
			Strategy:              "hierarchical",
			BaseChunkSize:         1000,
			CodeChunkSize:         1500,
			DenseChunkSize:        1300,
			MinChunkSize:          200,
			MaxChunkSize:          2000,
			Overlap:               100,
			Adaptive:              true,
			CodeFractionThreshold: 0.25,
			DenseSentenceLength:   25,
		},
		Summarizer: SummarizerConfig{
			DirectThreshold: 5000,
			MapMode:         "parallel",
			MaxOutputTokens: 2048,
			MinOutputTokens: 256,
			ValidateEvery:   20,
			CacheMaxEntries: 256,
			CacheTTL:        time.Hour,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, and environment
// overrides. An empty path skips the file layer; a missing file at a
// non-empty path is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", c.Pool.Size)
	}
	if c.Chunker.MinChunkSize > c.Chunker.MaxChunkSize {
		return fmt.Errorf("chunker min size %d exceeds max size %d", c.Chunker.MinChunkSize, c.Chunker.MaxChunkSize)
	}
	if c.Summarizer.MinOutputTokens > c.Summarizer.MaxOutputTokens {
		return fmt.Errorf("summarizer output floor %d exceeds ceiling %d", c.Summarizer.MinOutputTokens, c.Summarizer.MaxOutputTokens)
	}
	switch c.Summarizer.MapMode {
	case "parallel", "stream", "sequential":
	default:
		return fmt.Errorf("unknown map mode %q", c.Summarizer.MapMode)
	}
	switch c.Chunker.Strategy {
	case "hierarchical", "semantic", "fixed":
	default:
		return fmt.Errorf("unknown chunking strategy %q", c.Chunker.Strategy)
	}
	return nil
}
