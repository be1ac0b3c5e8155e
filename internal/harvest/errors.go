package harvest

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by a BlobStore when the named object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEntityNotFound means the registry search returned nothing to follow.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrPhaseFinished is returned when appending to a finished checkpoint.
	ErrPhaseFinished = errors.New("phase already finished")
	// ErrBodyTooLarge is returned by a Fetcher when a response exceeds its body limit.
	ErrBodyTooLarge = errors.New("response body too large")
	// ErrQueueFull is returned by a non-blocking enqueue when no capacity is left.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned by a Queue that no longer accepts or yields work.
	ErrQueueClosed = errors.New("queue closed")
)

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
