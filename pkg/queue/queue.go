package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Queue is the backend-agnostic facade all producers and workers use. It
// adds validation, retry/backoff policy, and transient-error absorption on
// top of whichever Store is configured.
type Queue struct {
	store   Store
	backoff BackoffFunc
	logger  *slog.Logger

	defaultPriority    Priority
	defaultMaxAttempts int8
	claimAttempts      int
	claimRetryDelay    time.Duration
}

// New creates a Queue over the given store.
func New(store Store, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	options := &queueOptions{
		backoff:            DefaultBackoff(),
		logger:             slog.Default(),
		defaultPriority:    PriorityDefault,
		defaultMaxAttempts: 3,
		claimAttempts:      3,
		claimRetryDelay:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Queue{
		store:              store,
		backoff:            options.backoff,
		logger:             options.logger,
		defaultPriority:    options.defaultPriority,
		defaultMaxAttempts: options.defaultMaxAttempts,
		claimAttempts:      options.claimAttempts,
		claimRetryDelay:    options.claimRetryDelay,
	}, nil
}

// Store exposes the underlying store for the Reaper and Admin components.
func (q *Queue) Store() Store { return q.store }

// Enqueue adds a new job and returns its id. It never blocks on queue depth;
// the only failure modes are validation and backend reachability.
func (q *Queue) Enqueue(ctx context.Context, tag string, payload []byte, opts ...EnqueueOption) (uuid.UUID, error) {
	if tag == "" {
		return uuid.Nil, ErrTagEmpty
	}

	options := &enqueueOptions{
		priority:    q.defaultPriority,
		maxAttempts: q.defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}
	if !options.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}

	now := time.Now()
	runAt := now
	if options.runAt != nil {
		runAt = *options.runAt
	} else if options.delay > 0 {
		runAt = now.Add(options.delay)
	}

	job := &Job{
		ID:          uuid.New(),
		Tag:         tag,
		Payload:     payload,
		Status:      StatusAvailable,
		Priority:    options.priority,
		RunAt:       runAt,
		Attempts:    0,
		MaxAttempts: options.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue job with tag %q: %w", tag, err)
	}

	q.logger.Debug("job enqueued",
		slog.String("job_id", job.ID.String()),
		slog.String("tag", tag),
		slog.Int("priority", int(job.Priority)),
		slog.Time("run_at", runAt))

	return job.ID, nil
}

// ClaimNext atomically claims the next eligible job whose tag is in tags.
// Transient backend errors are retried with a bounded delay; ErrNoJobToClaim
// is the normal empty-queue result and is never retried.
func (q *Queue) ClaimNext(ctx context.Context, workerID uuid.UUID, tags []string, lease time.Duration) (*Job, error) {
	var lastErr error
	for attempt := 0; attempt < q.claimAttempts; attempt++ {
		job, err := q.store.ClaimNextJob(ctx, workerID, tags, lease)
		if err == nil {
			return job, nil
		}
		if errors.Is(err, ErrNoJobToClaim) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		q.logger.Warn("transient claim error, retrying",
			slog.String("worker_id", workerID.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.claimRetryDelay << attempt):
		}
	}
	return nil, fmt.Errorf("claim failed after %d attempts: %w", q.claimAttempts, lastErr)
}

// Ack marks the job completed. A lease conflict (the reaper already
// reclaimed the job) is logged and swallowed so a slow worker never crashes
// on a double-report race.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	workerID, err := leaseOwner(job)
	if err != nil {
		return err
	}
	if err := q.store.CompleteJob(ctx, job.ID, workerID); err != nil {
		if errors.Is(err, ErrLeaseConflict) {
			q.logger.Warn("ack for a lease no longer held, ignoring",
				slog.String("job_id", job.ID.String()),
				slog.String("worker_id", workerID.String()))
			return nil
		}
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	return nil
}

// Fail reports a handler failure. Retryable failures with attempts remaining
// are parked in retrying status with run_at pushed out by the backoff
// policy; everything else — poison errors, non-retryable failures, exhausted
// attempts — dead-letters the job. Lease conflicts are logged and swallowed.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error, retryable bool) error {
	workerID, err := leaseOwner(job)
	if err != nil {
		return err
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	nextAttempt := int(job.Attempts) + 1
	var storeErr error
	switch {
	case IsPoison(cause), !retryable, nextAttempt >= int(job.MaxAttempts):
		storeErr = q.store.DeadJob(ctx, job.ID, workerID, msg)
		if storeErr == nil {
			q.logger.Warn("job dead-lettered",
				slog.String("job_id", job.ID.String()),
				slog.String("tag", job.Tag),
				slog.Int("attempts", nextAttempt),
				slog.String("error", msg))
		}
	default:
		runAt := time.Now().Add(q.backoff(nextAttempt))
		storeErr = q.store.RetryJob(ctx, job.ID, workerID, msg, runAt)
		if storeErr == nil {
			q.logger.Info("job scheduled for retry",
				slog.String("job_id", job.ID.String()),
				slog.String("tag", job.Tag),
				slog.Int("attempt", nextAttempt),
				slog.Time("run_at", runAt))
		}
	}

	if storeErr != nil {
		if errors.Is(storeErr, ErrLeaseConflict) {
			q.logger.Warn("fail for a lease no longer held, ignoring",
				slog.String("job_id", job.ID.String()),
				slog.String("worker_id", workerID.String()))
			return nil
		}
		return fmt.Errorf("failed to record failure for job %s: %w", job.ID, storeErr)
	}
	return nil
}

// Cancel transitions an available or retrying job to cancelled. Jobs that
// are already processing or in a terminal state are reported, not mutated.
func (q *Queue) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if err := q.store.CancelJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	q.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	return nil
}

func leaseOwner(job *Job) (uuid.UUID, error) {
	if job == nil {
		return uuid.Nil, ErrJobNotFound
	}
	if job.LockedBy == nil {
		return uuid.Nil, ErrLeaseConflict
	}
	return *job.LockedBy, nil
}
