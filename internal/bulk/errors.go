package bulk

import (
	"errors"
	"fmt"
	"time"
)

// Configuration errors: the caller misused the API. Surfaced immediately and
// never retried.
var (
	// ErrMissingObject means a job was opened without a target entity type.
	ErrMissingObject = errors.New("bulk: job object not set")

	// ErrMissingOperation means a job was opened without an operation kind.
	ErrMissingOperation = errors.New("bulk: job operation not set")

	// ErrAlreadyExecuted means execute was invoked twice on one batch.
	ErrAlreadyExecuted = errors.New("bulk: batch already executed")

	// ErrNoBatchID means a batch operation needs the remote-assigned
	// identity and none has arrived yet.
	ErrNoBatchID = errors.New("bulk: batch id not assigned yet")

	// ErrJobIDCleared means the job identity was cleared by a close or
	// abort and the operation cannot proceed on this instance.
	ErrJobIDCleared = errors.New("bulk: job id cleared after close or abort")
)

// TimeoutError is a local polling give-up: the deadline passed while the
// remote batch was still running. The remote job may yet complete, so a
// timeout never closes the job.
type TimeoutError struct {
	JobID   string
	BatchID string
	After   time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bulk: polling batch %s of job %s timed out after %s", e.BatchID, e.JobID, e.After)
}

// IsTimeout reports whether err is (or wraps) a polling timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// BatchFailure is a remote-reported terminal failure with nothing processed:
// the remote gave up on the whole batch and stated why.
type BatchFailure struct {
	JobID   string
	BatchID string
	State   BatchState
	Message string
}

// Error implements the error interface.
func (e *BatchFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bulk: batch %s of job %s ended %s", e.BatchID, e.JobID, e.State)
	}
	return fmt.Sprintf("bulk: batch %s of job %s ended %s: %s", e.BatchID, e.JobID, e.State, e.Message)
}
