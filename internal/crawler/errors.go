package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrSkipped marks a job that was intentionally not processed. Workers
	// count it as complete.
	ErrSkipped = errors.New("job skipped")
	// ErrItemCountMissing means the first search page carried no item count.
	ErrItemCountMissing = errors.New("search item count missing")
	// ErrMissingIdentity means a detail page yielded no product or category code.
	ErrMissingIdentity = errors.New("product identity missing")
	// ErrPageStateMissing means a detail page had no inline scripts to read.
	ErrPageStateMissing = errors.New("page state missing")
	// ErrLaneClosed is returned by lanes after shutdown.
	ErrLaneClosed = errors.New("lane closed")
	// ErrJobNotFound is returned when a job ID is unknown to a registry.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotStarted is returned when completing or failing a job that is no
	// longer in the started registry.
	ErrJobNotStarted = errors.New("job not started")
	// ErrDuplicate is returned by stores when a keyed document already exists.
	ErrDuplicate = errors.New("duplicate document")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// FailureReason renders the error text stored on a failed job.
func FailureReason(cause error) string {
	if cause == nil {
		return "failed"
	}
	return cause.Error()
}
