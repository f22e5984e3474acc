package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store for tests and local development. Claims are
// serialized by a mutex, which trivially satisfies the one-owner invariant
// within a single process.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job

	// Indexes for efficient queries
	byStatus map[JobStatus][]uuid.UUID
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[uuid.UUID]*Job),
		byStatus: make(map[JobStatus][]uuid.UUID),
	}
}

// Close implements Store. The memory store holds no external resources.
func (ms *MemoryStore) Close() error { return nil }

// CreateJob implements Store.
func (ms *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrJobNotFound
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return fmt.Errorf("job with id %s already exists", job.ID)
	}

	jobCopy := *job
	ms.jobs[job.ID] = &jobCopy
	ms.byStatus[job.Status] = append(ms.byStatus[job.Status], job.ID)
	return nil
}

// ClaimNextJob implements Store. Selection is priority-first with run_at as
// the tiebreaker, matching the contract's (priority desc, run_at asc) order.
func (ms *MemoryStore) ClaimNextJob(ctx context.Context, workerID uuid.UUID, tags []string, lease time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var best *Job
	for _, status := range []JobStatus{StatusAvailable, StatusRetrying} {
		for _, id := range ms.byStatus[status] {
			job := ms.jobs[id]
			if !slices.Contains(tags, job.Tag) || !job.Claimable(now) {
				continue
			}
			if best == nil ||
				job.Priority > best.Priority ||
				(job.Priority == best.Priority && job.RunAt.Before(best.RunAt)) {
				best = job
			}
		}
	}
	if best == nil {
		return nil, ErrNoJobToClaim
	}

	prev := best.Status
	expires := now.Add(lease)
	best.Status = StatusProcessing
	best.LockedBy = &workerID
	best.LeaseExpiresAt = &expires
	best.UpdatedAt = now
	ms.moveStatusIndex(best.ID, prev, StatusProcessing)

	jobCopy := *best
	return &jobCopy, nil
}

// CompleteJob implements Store.
func (ms *MemoryStore) CompleteJob(ctx context.Context, jobID, workerID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.owned(jobID, workerID)
	if err != nil {
		return err
	}

	job.Status = StatusCompleted
	job.LockedBy = nil
	job.LeaseExpiresAt = nil
	job.UpdatedAt = time.Now()
	ms.moveStatusIndex(jobID, StatusProcessing, StatusCompleted)
	return nil
}

// RetryJob implements Store.
func (ms *MemoryStore) RetryJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string, runAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.owned(jobID, workerID)
	if err != nil {
		return err
	}

	job.Status = StatusRetrying
	job.Attempts++
	job.RunAt = runAt
	job.LastError = &errMsg
	job.LockedBy = nil
	job.LeaseExpiresAt = nil
	job.UpdatedAt = time.Now()
	ms.moveStatusIndex(jobID, StatusProcessing, StatusRetrying)
	return nil
}

// DeadJob implements Store.
func (ms *MemoryStore) DeadJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.owned(jobID, workerID)
	if err != nil {
		return err
	}

	job.Status = StatusDead
	job.Attempts++
	job.LastError = &errMsg
	job.LockedBy = nil
	job.LeaseExpiresAt = nil
	job.UpdatedAt = time.Now()
	ms.moveStatusIndex(jobID, StatusProcessing, StatusDead)
	return nil
}

// CancelJob implements Store.
func (ms *MemoryStore) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != StatusAvailable && job.Status != StatusRetrying {
		return fmt.Errorf("%w: status %s", ErrNotCancellable, job.Status)
	}

	prev := job.Status
	job.Status = StatusCancelled
	job.UpdatedAt = time.Now()
	ms.moveStatusIndex(jobID, prev, StatusCancelled)
	return nil
}

// GetJob implements Store.
func (ms *MemoryStore) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}
	jobCopy := *job
	return &jobCopy, nil
}

// ReapExpired implements Store. Expired leases go back to available with the
// reclaim counter bumped; attempts are untouched because the handler never
// reported an outcome.
func (ms *MemoryStore) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	reclaimed := 0
	for _, id := range slices.Clone(ms.byStatus[StatusProcessing]) {
		job := ms.jobs[id]
		if job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.Before(now) {
			continue
		}
		job.Status = StatusAvailable
		job.Reclaims++
		job.LockedBy = nil
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now
		ms.moveStatusIndex(id, StatusProcessing, StatusAvailable)
		reclaimed++
	}
	return reclaimed, nil
}

// DeleteJobs implements Store.
func (ms *MemoryStore) DeleteJobs(ctx context.Context, statuses []JobStatus, olderThan time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	deleted := 0
	for _, status := range statuses {
		for _, id := range slices.Clone(ms.byStatus[status]) {
			job := ms.jobs[id]
			if !job.UpdatedAt.Before(olderThan) {
				continue
			}
			ms.removeFromStatusIndex(id, status)
			delete(ms.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// ListJobs implements Store. Results are ordered oldest first.
func (ms *MemoryStore) ListJobs(ctx context.Context, status JobStatus) ([]*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	jobs := make([]*Job, 0, len(ms.byStatus[status]))
	for _, id := range ms.byStatus[status] {
		jobCopy := *ms.jobs[id]
		jobs = append(jobs, &jobCopy)
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs, nil
}

// ImportJob implements Store.
func (ms *MemoryStore) ImportJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrJobNotFound
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if existing, exists := ms.jobs[job.ID]; exists {
		ms.removeFromStatusIndex(job.ID, existing.Status)
	}
	jobCopy := *job
	ms.jobs[job.ID] = &jobCopy
	ms.byStatus[job.Status] = append(ms.byStatus[job.Status], job.ID)
	return nil
}

// RequeueJobs implements Store.
func (ms *MemoryStore) RequeueJobs(ctx context.Context, statuses []JobStatus, olderThan time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	requeued := 0
	for _, status := range statuses {
		for _, id := range slices.Clone(ms.byStatus[status]) {
			job := ms.jobs[id]
			if !job.UpdatedAt.Before(olderThan) {
				continue
			}
			job.Status = StatusAvailable
			job.Attempts = 0
			job.RunAt = now
			job.UpdatedAt = now
			ms.moveStatusIndex(id, status, StatusAvailable)
			requeued++
		}
	}
	return requeued, nil
}

// owned returns the job iff it is processing under workerID's lease.
func (ms *MemoryStore) owned(jobID, workerID uuid.UUID) (*Job, error) {
	job, exists := ms.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}
	if job.Status != StatusProcessing || job.LockedBy == nil || *job.LockedBy != workerID {
		return nil, ErrLeaseConflict
	}
	return job, nil
}

func (ms *MemoryStore) moveStatusIndex(jobID uuid.UUID, from, to JobStatus) {
	ms.removeFromStatusIndex(jobID, from)
	ms.byStatus[to] = append(ms.byStatus[to], jobID)
}

func (ms *MemoryStore) removeFromStatusIndex(jobID uuid.UUID, status JobStatus) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(id uuid.UUID) bool {
		return id == jobID
	})
}
