package browser

import "time"

// Settings is the immutable pool configuration.
type Settings struct {
	// PoolSize is the maximum number of concurrently live instances.
	PoolSize int

	// MaxAge is how old an instance may grow before replacement.
	MaxAge time.Duration

	// IdleTimeout is how long an instance may sit unused before replacement.
	IdleTimeout time.Duration

	// MaxRequests is how many navigations an instance serves before
	// replacement.
	MaxRequests int

	// HealthCheckTimeout bounds the liveness probe run before reuse.
	HealthCheckTimeout time.Duration

	// StartupTimeout bounds the launch of a fresh instance.
	StartupTimeout time.Duration
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		PoolSize:           3,
		MaxAge:             30 * time.Minute,
		IdleTimeout:        5 * time.Minute,
		MaxRequests:        50,
		HealthCheckTimeout: 5 * time.Second,
		StartupTimeout:     30 * time.Second,
	}
}

// NavigateOptions configures one page navigation.
type NavigateOptions struct {
	// WaitUntil specifies when navigation counts as done.
	// Valid values: "load", "domcontentloaded", "networkidle".
	WaitUntil string

	// Timeout bounds the navigation. Zero means the engine default.
	Timeout time.Duration
}

// RenderResult captures what one navigation produced.
type RenderResult struct {
	HTML       string
	StatusCode int
	Headers    map[string]string
	FinalURL   string
}

// Metrics is a point-in-time snapshot of pool state.
type Metrics struct {
	Active              int
	Idle                int
	Total               int
	Replacements        int64
	HealthCheckFailures int64
	Exhaustions         int64
}

// Session is one live browser session. Implementations must tolerate Close
// being called after a failed Navigate.
type Session interface {
	// Navigate loads url and returns the rendered result.
	Navigate(url string, opts NavigateOptions) (*RenderResult, error)

	// Close tears the session down.
	Close() error
}

// Launcher starts the automation engine and launches sessions. The playwright
// implementation is the default; alternative engines (or test fakes) can be
// plugged in via WithLauncher.
type Launcher interface {
	// Start boots the underlying engine. Called once from Pool.Initialize.
	Start() error

	// Launch creates a fresh session.
	Launch() (Session, error)

	// Stop shuts the engine down after all sessions are closed.
	Stop() error
}
