package pgq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

const jobColumns = `id, tag, payload, status, priority, run_at, attempts, max_attempts,
	reclaims, locked_by, lease_expires_at, last_error, created_at, updated_at`

// Store implements queue.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, queue.ErrStoreNil
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// CreateJob implements queue.Store.
func (s *Store) CreateJob(ctx context.Context, job *queue.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobq_jobs (id, tag, payload, status, priority, run_at,
			attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Tag, job.Payload, job.Status, job.Priority, job.RunAt,
		job.Attempts, job.MaxAttempts, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// ClaimNextJob implements queue.Store. The SKIP LOCKED subquery guarantees
// two concurrent claimers never select the same row: a row locked by one
// transaction is invisible to the other, not waited on.
func (s *Store) ClaimNextJob(ctx context.Context, workerID uuid.UUID, tags []string, lease time.Duration) (*queue.Job, error) {
	expires := time.Now().Add(lease)
	row := s.pool.QueryRow(ctx, `
		UPDATE jobq_jobs SET
			status = 'processing',
			locked_by = $1,
			lease_expires_at = $2,
			updated_at = now()
		WHERE id = (
			SELECT id FROM jobq_jobs
			WHERE tag = ANY($3)
			  AND status IN ('available', 'retrying')
			  AND run_at <= now()
			ORDER BY priority DESC, run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID, expires, tags)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNoJobToClaim
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// CompleteJob implements queue.Store.
func (s *Store) CompleteJob(ctx context.Context, jobID, workerID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'completed',
			locked_by = NULL,
			lease_expires_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`,
		jobID, workerID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrLeaseConflict
	}
	return nil
}

// RetryJob implements queue.Store.
func (s *Store) RetryJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string, runAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'retrying',
			attempts = attempts + 1,
			run_at = $3,
			last_error = $4,
			locked_by = NULL,
			lease_expires_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`,
		jobID, workerID, runAt, errMsg)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrLeaseConflict
	}
	return nil
}

// DeadJob implements queue.Store.
func (s *Store) DeadJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'dead',
			attempts = attempts + 1,
			last_error = $3,
			locked_by = NULL,
			lease_expires_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'processing' AND locked_by = $2`,
		jobID, workerID, errMsg)
	if err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrLeaseConflict
	}
	return nil
}

// CancelJob implements queue.Store.
func (s *Store) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'cancelled',
			updated_at = now()
		WHERE id = $1 AND status IN ('available', 'retrying')`,
		jobID)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return queue.ErrNotCancellable
	}
	return nil
}

// GetJob implements queue.Store.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobq_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ReapExpired implements queue.Store.
func (s *Store) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'available',
			reclaims = reclaims + 1,
			locked_by = NULL,
			lease_expires_at = NULL,
			updated_at = now()
		WHERE status = 'processing' AND lease_expires_at < $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteJobs implements queue.Store.
func (s *Store) DeleteJobs(ctx context.Context, statuses []queue.JobStatus, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobq_jobs
		WHERE status = ANY($1) AND updated_at < $2`,
		statusStrings(statuses), olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListJobs implements queue.Store.
func (s *Store) ListJobs(ctx context.Context, status queue.JobStatus) ([]*queue.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobq_jobs WHERE status = $1 ORDER BY created_at ASC`,
		status)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ImportJob implements queue.Store.
func (s *Store) ImportJob(ctx context.Context, job *queue.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobq_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			tag = EXCLUDED.tag,
			payload = EXCLUDED.payload,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			run_at = EXCLUDED.run_at,
			attempts = EXCLUDED.attempts,
			max_attempts = EXCLUDED.max_attempts,
			reclaims = EXCLUDED.reclaims,
			locked_by = EXCLUDED.locked_by,
			lease_expires_at = EXCLUDED.lease_expires_at,
			last_error = EXCLUDED.last_error,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		job.ID, job.Tag, job.Payload, job.Status, job.Priority, job.RunAt,
		job.Attempts, job.MaxAttempts, job.Reclaims, job.LockedBy,
		job.LeaseExpiresAt, job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("import job: %w", err)
	}
	return nil
}

// RequeueJobs implements queue.Store.
func (s *Store) RequeueJobs(ctx context.Context, statuses []queue.JobStatus, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'available',
			attempts = 0,
			run_at = now(),
			updated_at = now()
		WHERE status = ANY($1) AND updated_at < $2`,
		statusStrings(statuses), olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeue jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func statusStrings(statuses []queue.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanJob(row pgx.Row) (*queue.Job, error) {
	var job queue.Job
	err := row.Scan(
		&job.ID, &job.Tag, &job.Payload, &job.Status, &job.Priority,
		&job.RunAt, &job.Attempts, &job.MaxAttempts, &job.Reclaims,
		&job.LockedBy, &job.LeaseExpiresAt, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
