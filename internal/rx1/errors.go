package rx1

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the receiver client.
var (
	// ErrHostRequired is returned when no device host is configured.
	ErrHostRequired = errors.New("rx1: device host is required")

	// ErrRequestFailed wraps transport failures (refused, DNS, timeout).
	ErrRequestFailed = errors.New("rx1: request failed")

	// ErrMalformedResponse is returned by typed fetches when a 2xx body
	// does not decode into the expected model.
	ErrMalformedResponse = errors.New("rx1: malformed response")
)

// StatusError is returned for any non-2xx response. It carries the raw
// body for diagnostics.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
