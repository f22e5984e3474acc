package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract every backend must satisfy. The claim
// strategy differs per backend (atomic list moves, FOR UPDATE SKIP LOCKED,
// an advisory lock table) but the externally observable semantics are
// identical: no two concurrent ClaimNextJob calls ever return the same job,
// and an abandoned claim becomes visible again once its lease expires.
type Store interface {
	// CreateJob persists a new job. The job arrives fully populated
	// (id, status, timestamps) from the facade.
	CreateJob(ctx context.Context, job *Job) error

	// ClaimNextJob atomically transitions the best eligible job — tag in
	// tags, status available or retrying, run_at <= now, ordered by
	// (priority desc, run_at asc) — to processing, owned by workerID with
	// a lease of the given duration. Returns ErrNoJobToClaim when nothing
	// is eligible.
	ClaimNextJob(ctx context.Context, workerID uuid.UUID, tags []string, lease time.Duration) (*Job, error)

	// CompleteJob marks the job completed. Returns ErrLeaseConflict when
	// workerID no longer holds the lease.
	CompleteJob(ctx context.Context, jobID, workerID uuid.UUID) error

	// RetryJob records the failure, increments attempts, and parks the job
	// in retrying status until runAt. Returns ErrLeaseConflict when
	// workerID no longer holds the lease.
	RetryJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string, runAt time.Time) error

	// DeadJob records the failure, increments attempts, and dead-letters
	// the job. Returns ErrLeaseConflict when workerID no longer holds the
	// lease.
	DeadJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string) error

	// CancelJob transitions an available or retrying job to cancelled.
	// Returns ErrNotCancellable otherwise.
	CancelJob(ctx context.Context, jobID uuid.UUID) error

	// GetJob fetches one job by id.
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)

	// ReapExpired returns every processing job whose lease expired before
	// now to available, incrementing its reclaim counter (not attempts).
	// Returns the number of jobs reclaimed.
	ReapExpired(ctx context.Context, now time.Time) (int, error)

	// DeleteJobs removes jobs in any of the given statuses last updated
	// before olderThan. Returns the number deleted.
	DeleteJobs(ctx context.Context, statuses []JobStatus, olderThan time.Time) (int, error)

	// ListJobs returns all jobs with the given status, oldest first.
	ListJobs(ctx context.Context, status JobStatus) ([]*Job, error)

	// ImportJob upserts a job preserving its id and state, for restores
	// from a dump file.
	ImportJob(ctx context.Context, job *Job) error

	// RequeueJobs moves jobs in any of the given statuses last updated
	// before olderThan back to available with attempts reset to zero.
	// Returns the number requeued.
	RequeueJobs(ctx context.Context, statuses []JobStatus, olderThan time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}
