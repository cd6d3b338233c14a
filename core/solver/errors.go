package solver

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnreachable covers transport failures, timeouts and server errors.
	ErrUnreachable = errors.New("solver unreachable")
	// ErrInvalidResponse is returned for unexpected statuses and for
	// responses that fail validation.
	ErrInvalidResponse = errors.New("invalid solver response")
	// ErrRateLimited is returned when the solver asks the caller to back off.
	ErrRateLimited = errors.New("solver rate limited")
	// ErrUnauthorized is returned when the solver rejects the credentials.
	ErrUnauthorized = errors.New("solver rejected credentials")
)

// RateLimitError carries the back-off requested by the solver. It matches
// ErrRateLimited with errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}
