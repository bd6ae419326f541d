package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the record store
	ErrJobNotFound = errors.New("analysis job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's already claimed
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrInvalidTransition is returned when a status update violates the state machine
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrUnparsableArtifact means byte-level type detection and structural
	// parsing both failed; fatal to the static stage and therefore the job
	ErrUnparsableArtifact = errors.New("artifact is unparsable")

	// ErrExternalUnavailable means a collaborator is unreachable
	ErrExternalUnavailable = errors.New("external collaborator unavailable")

	// ErrMalformedResponse means a collaborator returned data failing schema
	// validation; callers treat it the same as ErrExternalUnavailable
	ErrMalformedResponse = errors.New("malformed collaborator response")

	// ErrReputationNotFound means the hash is unknown to the reputation service
	ErrReputationNotFound = errors.New("hash not found in reputation service")

	// ErrSubmissionFailed means the sandbox rejected the artifact after
	// bounded retries; the only fatal dynamic-stage condition
	ErrSubmissionFailed = errors.New("sandbox submission failed")
)

// RetryableError wraps transient errors that should trigger a queue requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
