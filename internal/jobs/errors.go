package jobs

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized means the key is invalid, expired, revoked or lacks
	// the scope the operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAdmissionDenied means the rate limiter rejected the request.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrInvalidRequest means parameters failed validation or normalization.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidState means the operation is not valid for the job's state.
	ErrInvalidState = errors.New("invalid job state")

	// ErrNotFound means the job id is unknown or past retention.
	ErrNotFound = errors.New("job not found")
)

// RateLimitError carries the retry-after hint for a denied submission.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("admission denied: rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrAdmissionDenied }
