package sqliteq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

const jobColumns = `id, tag, payload, status, priority, run_at_ms, attempts, max_attempts, reclaims, locked_by, lease_expires_at_ms, last_error, created_at_ms, updated_at_ms`

// Store implements queue.Store on a SQLite database.
type Store struct {
	db               *sql.DB
	lockAttempts     int
	lockRetryDelay   time.Duration
	lockStaleTimeout time.Duration
}

// New wraps an open database. Lock tuning comes from cfg; zero values fall
// back to the config defaults.
func New(db *sql.DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, queue.ErrStoreNil
	}
	s := &Store{
		db:               db,
		lockAttempts:     cfg.LockAttempts,
		lockRetryDelay:   cfg.LockRetryDelay,
		lockStaleTimeout: cfg.LockStaleTimeout,
	}
	if s.lockAttempts < 1 {
		s.lockAttempts = 10
	}
	if s.lockRetryDelay <= 0 {
		s.lockRetryDelay = 25 * time.Millisecond
	}
	if s.lockStaleTimeout <= 0 {
		s.lockStaleTimeout = 30 * time.Second
	}
	return s, nil
}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, job *queue.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobq_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jobArgs(job)...)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// ClaimNextJob takes the claim lock, selects and transitions the best
// eligible job in one transaction, then releases the lock.
func (s *Store) ClaimNextJob(ctx context.Context, workerID uuid.UUID, tags []string, lease time.Duration) (*queue.Job, error) {
	if len(tags) == 0 {
		return nil, queue.ErrNoJobToClaim
	}

	if err := s.acquireClaimLock(ctx, workerID); err != nil {
		return nil, err
	}
	defer s.releaseClaimLock(workerID)

	return s.claimLocked(ctx, workerID, tags, lease)
}

// acquireClaimLock busy-retries taking ownership of the single lock row.
// A lock held past the staleness window is treated as abandoned and taken
// over, so a crashed claimer cannot wedge the queue.
func (s *Store) acquireClaimLock(ctx context.Context, workerID uuid.UUID) error {
	for attempt := 0; attempt < s.lockAttempts; attempt++ {
		now := time.Now()
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobq_lock
			SET owner = ?, acquired_at_ms = ?
			WHERE name = 'claim' AND (owner = '' OR acquired_at_ms < ?)`,
			workerID.String(), now.UnixMilli(), now.Add(-s.lockStaleTimeout).UnixMilli())
		if err != nil {
			return fmt.Errorf("acquire claim lock: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Join(ErrLockTimeout, ctx.Err())
		case <-time.After(s.lockRetryDelay):
		}
	}
	return ErrLockTimeout
}

// releaseClaimLock frees the lock row if this worker still owns it. Uses a
// background context so a cancelled claim still releases.
func (s *Store) releaseClaimLock(workerID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = s.db.ExecContext(ctx, `
		UPDATE jobq_lock
		SET owner = '', acquired_at_ms = 0
		WHERE name = 'claim' AND owner = ?`,
		workerID.String())
}

func (s *Store) claimLocked(ctx context.Context, workerID uuid.UUID, tags []string, lease time.Duration) (*queue.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	args := make([]any, 0, len(tags)+1)
	for _, tag := range tags {
		args = append(args, tag)
	}
	args = append(args, now.UnixMilli())

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobq_jobs
		WHERE tag IN (`+placeholders(len(tags))+`)
		  AND status IN ('available', 'retrying')
		  AND run_at_ms <= ?
		ORDER BY priority DESC, run_at_ms ASC
		LIMIT 1`, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	expires := now.Add(lease)
	_, err = tx.ExecContext(ctx, `
		UPDATE jobq_jobs
		SET status = 'processing', locked_by = ?, lease_expires_at_ms = ?, updated_at_ms = ?
		WHERE id = ?`,
		workerID.String(), expires.UnixMilli(), now.UnixMilli(), job.ID.String())
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	job.Status = queue.StatusProcessing
	job.LockedBy = &workerID
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = now
	return job, nil
}

// CompleteJob marks the job completed after verifying lease ownership.
func (s *Store) CompleteJob(ctx context.Context, jobID, workerID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobq_jobs
		SET status = 'completed', locked_by = NULL, lease_expires_at_ms = NULL, updated_at_ms = ?
		WHERE id = ? AND status = 'processing' AND locked_by = ?`,
		time.Now().UnixMilli(), jobID.String(), workerID.String())
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return leaseGuard(res)
}

// RetryJob records the failure and parks the job until runAt.
func (s *Store) RetryJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string, runAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobq_jobs
		SET status = 'retrying', attempts = attempts + 1, run_at_ms = ?, last_error = ?,
		    locked_by = NULL, lease_expires_at_ms = NULL, updated_at_ms = ?
		WHERE id = ? AND status = 'processing' AND locked_by = ?`,
		runAt.UnixMilli(), errMsg, time.Now().UnixMilli(), jobID.String(), workerID.String())
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return leaseGuard(res)
}

// DeadJob records the terminal failure and dead-letters the job.
func (s *Store) DeadJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobq_jobs
		SET status = 'dead', attempts = attempts + 1, last_error = ?,
		    locked_by = NULL, lease_expires_at_ms = NULL, updated_at_ms = ?
		WHERE id = ? AND status = 'processing' AND locked_by = ?`,
		errMsg, time.Now().UnixMilli(), jobID.String(), workerID.String())
	if err != nil {
		return fmt.Errorf("dead job: %w", err)
	}
	return leaseGuard(res)
}

func leaseGuard(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return queue.ErrLeaseConflict
	}
	return nil
}

// CancelJob transitions an available or retrying job to cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobq_jobs
		SET status = 'cancelled', updated_at_ms = ?
		WHERE id = ? AND status IN ('available', 'retrying')`,
		time.Now().UnixMilli(), jobID.String())
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return queue.ErrNotCancellable
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobq_jobs WHERE id = ?`, jobID.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ReapExpired returns every expired processing job to available.
func (s *Store) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobq_jobs
		SET status = 'available', locked_by = NULL, lease_expires_at_ms = NULL,
		    reclaims = reclaims + 1, updated_at_ms = ?
		WHERE status = 'processing' AND lease_expires_at_ms < ?`,
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("reap expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteJobs removes jobs in the given statuses last updated before olderThan.
func (s *Store) DeleteJobs(ctx context.Context, statuses []queue.JobStatus, olderThan time.Time) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := statusArgs(statuses)
	args = append(args, olderThan.UnixMilli())
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobq_jobs
		WHERE status IN (`+placeholders(len(statuses))+`) AND updated_at_ms < ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// ListJobs returns all jobs with the given status, oldest first.
func (s *Store) ListJobs(ctx context.Context, status queue.JobStatus) ([]*queue.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobq_jobs
		WHERE status = ?
		ORDER BY created_at_ms ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ImportJob upserts a job preserving its id and state.
func (s *Store) ImportJob(ctx context.Context, job *queue.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobq_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tag = excluded.tag,
			payload = excluded.payload,
			status = excluded.status,
			priority = excluded.priority,
			run_at_ms = excluded.run_at_ms,
			attempts = excluded.attempts,
			max_attempts = excluded.max_attempts,
			reclaims = excluded.reclaims,
			locked_by = excluded.locked_by,
			lease_expires_at_ms = excluded.lease_expires_at_ms,
			last_error = excluded.last_error,
			created_at_ms = excluded.created_at_ms,
			updated_at_ms = excluded.updated_at_ms`,
		jobArgs(job)...)
	if err != nil {
		return fmt.Errorf("import job: %w", err)
	}
	return nil
}

// RequeueJobs moves stale jobs in the given statuses back to available with
// attempts reset.
func (s *Store) RequeueJobs(ctx context.Context, statuses []queue.JobStatus, olderThan time.Time) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	now := time.Now().UnixMilli()
	args := []any{now, now}
	args = append(args, statusArgs(statuses)...)
	args = append(args, olderThan.UnixMilli())
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobq_jobs
		SET status = 'available', attempts = 0, run_at_ms = ?,
		    locked_by = NULL, lease_expires_at_ms = NULL, updated_at_ms = ?
		WHERE status IN (`+placeholders(len(statuses))+`) AND updated_at_ms < ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("requeue jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []queue.JobStatus) []any {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return args
}

func jobArgs(job *queue.Job) []any {
	var lockedBy any
	if job.LockedBy != nil {
		lockedBy = job.LockedBy.String()
	}
	var leaseMs any
	if job.LeaseExpiresAt != nil {
		leaseMs = job.LeaseExpiresAt.UnixMilli()
	}
	var lastErr any
	if job.LastError != nil {
		lastErr = *job.LastError
	}
	return []any{
		job.ID.String(), job.Tag, job.Payload, string(job.Status), int(job.Priority),
		job.RunAt.UnixMilli(), int(job.Attempts), int(job.MaxAttempts), job.Reclaims,
		lockedBy, leaseMs, lastErr, job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*queue.Job, error) {
	var (
		idStr       string
		tag         string
		payload     []byte
		status      string
		priority    int
		runAtMs     int64
		attempts    int
		maxAttempts int
		reclaims    int
		lockedBy    sql.NullString
		leaseMs     sql.NullInt64
		lastErr     sql.NullString
		createdMs   int64
		updatedMs   int64
	)
	if err := row.Scan(&idStr, &tag, &payload, &status, &priority, &runAtMs,
		&attempts, &maxAttempts, &reclaims, &lockedBy, &leaseMs, &lastErr,
		&createdMs, &updatedMs); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}

	job := &queue.Job{
		ID:          id,
		Tag:         tag,
		Payload:     payload,
		Status:      queue.JobStatus(status),
		Priority:    queue.Priority(priority),
		RunAt:       time.UnixMilli(runAtMs),
		Attempts:    int8(attempts),
		MaxAttempts: int8(maxAttempts),
		Reclaims:    reclaims,
		CreatedAt:   time.UnixMilli(createdMs),
		UpdatedAt:   time.UnixMilli(updatedMs),
	}
	if lockedBy.Valid && lockedBy.String != "" {
		workerID, err := uuid.Parse(lockedBy.String)
		if err != nil {
			return nil, fmt.Errorf("parse locked_by: %w", err)
		}
		job.LockedBy = &workerID
	}
	if leaseMs.Valid {
		expires := time.UnixMilli(leaseMs.Int64)
		job.LeaseExpiresAt = &expires
	}
	if lastErr.Valid && lastErr.String != "" {
		job.LastError = &lastErr.String
	}
	return job, nil
}
