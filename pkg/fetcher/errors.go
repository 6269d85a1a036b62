package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind string

const (
	// KindNetwork covers transport-level failures (DNS, connection reset).
	KindNetwork Kind = "network"

	// KindTimeout covers deadline and cancellation failures.
	KindTimeout Kind = "timeout"

	// KindStatus covers HTTP responses that could not be used.
	KindStatus Kind = "status"

	// KindValidation covers filesystem allow-list failures. These fail
	// closed and never trigger network fallback.
	KindValidation Kind = "validation"
)

// ErrSuspiciousResponse marks a direct-HTTP result that looks like bot
// blocking (403/429 or an implausibly small body). It is retryable via the
// browser strategy.
var ErrSuspiciousResponse = errors.New("suspicious response")

// Error is a kinded fetch failure wrapping its cause.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s failed (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind extracts the Kind from err, or "" if err is not a fetch error.
func ErrorKind(err error) Kind {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return ""
}
