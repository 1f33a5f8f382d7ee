package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// InferenceError carries the provider-reported status for a failed
// generation. It is fatal to the job's run: no output handling is attempted.
type InferenceError struct {
	// Status is the HTTP status the backend returned, or 0 for transport
	// failures.
	Status  int
	Message string
}

// Error implements error.
func (e *InferenceError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("inference failed: %s", e.Message)
	}
	return fmt.Sprintf("inference failed (status %d): %s", e.Status, e.Message)
}

// IsRetryable reports whether err is a transient inference failure worth
// reattempting: rate limiting, server-side errors, or transport failures.
func IsRetryable(err error) bool {
	var ie *InferenceError
	if !errors.As(err, &ie) {
		return false
	}
	return ie.Status == 0 ||
		ie.Status == http.StatusTooManyRequests ||
		ie.Status >= 500
}
