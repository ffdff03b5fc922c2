package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransportError wraps a network-level failure reaching the completions API
// (timeout, DNS, connection reset). Always retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response from the completions API. Retryable only
// for rate limiting (429) and server-side failures (5xx).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("completions api status=%d", e.StatusCode)
	}
	return fmt.Sprintf("completions api status=%d body=%s", e.StatusCode, e.Body)
}

// MalformedResponse is a 2xx response whose body lacks the expected fields.
// Never retried; the same request would yield the same body.
type MalformedResponse struct {
	Reason string
}

func (e *MalformedResponse) Error() string {
	return fmt.Sprintf("malformed completions response: %s", e.Reason)
}

// Retryable reports whether the task that produced err may be attempted
// again under the pool's backoff policy.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
