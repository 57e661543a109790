package failover

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/opentalon/tutorflow/internal/provider"
)

func statusCode(err error) int {
	var se *provider.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func IsRateLimitError(err error) bool {
	return statusCode(err) == http.StatusTooManyRequests
}

func IsAuthError(err error) bool {
	code := statusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsRetryable reports whether the next model in the chain should be tried:
// rate limits, server-side failures and transport errors. Cancellation and
// deadlines from the caller are never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *provider.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

type AllExhaustedError struct {
	Attempted []string
	Last      error
}

func (e *AllExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("all models exhausted, attempted: %v", e.Attempted)
	}
	return fmt.Sprintf("all models exhausted, attempted: %v: %v", e.Attempted, e.Last)
}

func (e *AllExhaustedError) Unwrap() error { return e.Last }
