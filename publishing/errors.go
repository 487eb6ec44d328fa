package publishing

import (
	"errors"
	"fmt"
	"net/http"
)

// PublishingError is a domain-level failure raised by providers and
// consumers. IsRetryable drives the queue: retryable errors request another
// attempt with backoff, everything else terminates the job.
type PublishingError struct {
	Message     string
	IsRetryable bool
}

func (e *PublishingError) Error() string {
	return e.Message
}

func (e *PublishingError) Retryable() bool {
	return e.IsRetryable
}

// NewRetryableError flags a transient condition, typically "media not
// finished processing yet".
func NewRetryableError(format string, args ...interface{}) *PublishingError {
	return &PublishingError{Message: fmt.Sprintf(format, args...), IsRetryable: true}
}

// NewTaskError flags a precondition violation that retrying cannot fix.
func NewTaskError(format string, args ...interface{}) *PublishingError {
	return &PublishingError{Message: fmt.Sprintf(format, args...), IsRetryable: false}
}

// PlatformError is a transport-level failure from a platform API call.
// Network-class errors are transient; a 401 invalidates the stored
// credential; everything else fails the task with the platform's message.
type PlatformError struct {
	Platform  string
	Operation string
	Status    int
	IsNetwork bool
	Message   string
}

func (e *PlatformError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Platform, e.Operation, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Platform, e.Operation, e.Message)
}

func (e *PlatformError) Retryable() bool {
	return e.IsNetwork
}

func (e *PlatformError) IsAuthError() bool {
	return e.Status == http.StatusUnauthorized
}

// AsPlatformError unwraps err to a PlatformError, if it is one.
func AsPlatformError(err error) (*PlatformError, bool) {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
