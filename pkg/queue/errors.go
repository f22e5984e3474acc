package queue

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided to a constructor.
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrQueueNil is returned when a nil queue is provided to a constructor.
	ErrQueueNil = errors.New("queue cannot be nil")

	// ErrTagEmpty is returned when enqueueing without a tag.
	ErrTagEmpty = errors.New("job tag cannot be empty")

	// ErrInvalidPriority is returned when priority is outside valid range.
	ErrInvalidPriority = errors.New("priority must be between 0 and 100")

	// ErrInvalidStatus is returned when parsing an unknown job status.
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrNoJobToClaim is returned by ClaimNext when nothing is claimable.
	// This is the normal idle path, not a failure.
	ErrNoJobToClaim = errors.New("no job to claim")

	// ErrJobNotFound is returned when a job id does not exist in the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrLeaseConflict is returned by ack/fail when the caller no longer
	// holds the job's lease (the reaper reclaimed it, or another worker
	// re-claimed it). Callers treat this as a logged no-op.
	ErrLeaseConflict = errors.New("caller does not hold the job lease")

	// ErrNotCancellable is returned when cancel targets a job that is
	// already processing or in a terminal state.
	ErrNotCancellable = errors.New("job is not in a cancellable state")

	// ErrHandlerNotFound is returned when no handler is registered for a tag.
	ErrHandlerNotFound = errors.New("no handler registered for job tag")

	// ErrNoHandlers is returned when a dispatcher starts with no handlers.
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrPoison marks a payload as unprocessable. Handlers wrap their error
	// with Poison to route the job straight to dead, bypassing retries.
	ErrPoison = errors.New("poison job payload")
)

// poisonError carries the handler's cause while matching ErrPoison.
type poisonError struct {
	cause error
}

func (e *poisonError) Error() string {
	if e.cause == nil {
		return ErrPoison.Error()
	}
	return ErrPoison.Error() + ": " + e.cause.Error()
}

func (e *poisonError) Unwrap() error { return e.cause }

func (e *poisonError) Is(target error) bool { return target == ErrPoison }

// Poison wraps err so the dispatcher dead-letters the job immediately
// instead of scheduling a retry.
func Poison(err error) error {
	return &poisonError{cause: err}
}

// IsPoison reports whether err marks the payload as unprocessable.
func IsPoison(err error) bool {
	return errors.Is(err, ErrPoison)
}
