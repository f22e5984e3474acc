package redisq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

const (
	finishOK       = 1
	finishConflict = -1
	finishMissing  = -2
)

// Store implements queue.Store on a Redis server.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps a connected Redis client. The prefix namespaces every key the
// store touches; pass the same prefix to all processes sharing a queue.
func New(client *redis.Client, prefix string) (*Store, error) {
	if client == nil {
		return nil, queue.ErrStoreNil
	}
	if prefix == "" {
		prefix = "jobq"
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) jobKeyPrefix() string     { return s.prefix + ":job:" }
func (s *Store) statusKeyPrefix() string  { return s.prefix + ":status:" }
func (s *Store) readyKeyPrefix() string   { return s.prefix + ":ready:" }
func (s *Store) delayedKeyPrefix() string { return s.prefix + ":delayed:" }

func (s *Store) jobKey(id uuid.UUID) string          { return s.jobKeyPrefix() + id.String() }
func (s *Store) statusKey(st queue.JobStatus) string { return s.statusKeyPrefix() + string(st) }
func (s *Store) readyKey(tag string) string          { return s.readyKeyPrefix() + tag }
func (s *Store) delayedKey(tag string) string        { return s.delayedKeyPrefix() + tag }
func (s *Store) processingKey() string               { return s.prefix + ":processing" }

// readyScore must match the formula inside the Lua scripts.
func readyScore(priority queue.Priority, runAt time.Time) float64 {
	return float64(queue.PriorityMax-priority)*1e13 + float64(runAt.UnixMilli())
}

// CreateJob persists the job hash and indexes it for claiming in a single
// MULTI/EXEC transaction.
func (s *Store) CreateJob(ctx context.Context, job *queue.Job) error {
	now := time.Now()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.jobKey(job.ID), jobFields(job))
		if job.RunAt.After(now) {
			pipe.ZAdd(ctx, s.delayedKey(job.Tag), redis.Z{
				Score:  float64(job.RunAt.UnixMilli()),
				Member: job.ID.String(),
			})
		} else {
			pipe.ZAdd(ctx, s.readyKey(job.Tag), redis.Z{
				Score:  readyScore(job.Priority, job.RunAt),
				Member: job.ID.String(),
			})
		}
		pipe.ZAdd(ctx, s.statusKey(job.Status), redis.Z{
			Score:  float64(job.UpdatedAt.UnixMilli()),
			Member: job.ID.String(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// ClaimNextJob runs the claim script across all requested tags and fetches
// the winning job record.
func (s *Store) ClaimNextJob(ctx context.Context, workerID uuid.UUID, tags []string, lease time.Duration) (*queue.Job, error) {
	if len(tags) == 0 {
		return nil, queue.ErrNoJobToClaim
	}

	now := time.Now()
	keys := make([]string, 0, 1+2*len(tags))
	keys = append(keys, s.processingKey())
	for _, tag := range tags {
		keys = append(keys, s.readyKey(tag), s.delayedKey(tag))
	}

	res, err := claimScript.Run(ctx, s.client, keys,
		now.UnixMilli(),
		now.Add(lease).UnixMilli(),
		workerID.String(),
		s.jobKeyPrefix(),
		s.statusKeyPrefix(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	idStr, ok := res.(string)
	if !ok || idStr == "" {
		return nil, queue.ErrNoJobToClaim
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("claim job: bad id %q: %w", idStr, err)
	}
	return s.GetJob(ctx, id)
}

// CompleteJob marks the job completed after verifying lease ownership.
func (s *Store) CompleteJob(ctx context.Context, jobID, workerID uuid.UUID) error {
	return s.finish(ctx, jobID, workerID, queue.StatusCompleted, "", false)
}

// DeadJob records the terminal failure and dead-letters the job.
func (s *Store) DeadJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string) error {
	return s.finish(ctx, jobID, workerID, queue.StatusDead, errMsg, true)
}

func (s *Store) finish(ctx context.Context, jobID, workerID uuid.UUID, target queue.JobStatus, errMsg string, incrAttempts bool) error {
	incr := "0"
	if incrAttempts {
		incr = "1"
	}
	res, err := finishScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID), s.processingKey(), s.statusKeyPrefix()},
		jobID.String(),
		workerID.String(),
		time.Now().UnixMilli(),
		string(target),
		errMsg,
		incr,
	).Int()
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	switch res {
	case finishOK:
		return nil
	case finishMissing:
		return queue.ErrJobNotFound
	default:
		return queue.ErrLeaseConflict
	}
}

// RetryJob parks the job in retrying status until runAt, after verifying
// lease ownership.
func (s *Store) RetryJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string, runAt time.Time) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	res, err := retryScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID), s.processingKey(), s.delayedKey(job.Tag), s.statusKeyPrefix()},
		jobID.String(),
		workerID.String(),
		time.Now().UnixMilli(),
		runAt.UnixMilli(),
		errMsg,
	).Int()
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	switch res {
	case finishOK:
		return nil
	case finishMissing:
		return queue.ErrJobNotFound
	default:
		return queue.ErrLeaseConflict
	}
}

// CancelJob transitions an available or retrying job to cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	res, err := cancelScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID), s.readyKey(job.Tag), s.delayedKey(job.Tag), s.statusKeyPrefix()},
		jobID.String(),
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	switch res {
	case finishOK:
		return nil
	case finishMissing:
		return queue.ErrJobNotFound
	default:
		return queue.ErrNotCancellable
	}
}

// GetJob fetches one job hash by id.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, queue.ErrJobNotFound
	}
	return jobFromFields(fields)
}

// ReapExpired runs the reap script repeatedly until the batch comes back
// short, so a large backlog of expired leases drains in one call.
func (s *Store) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	const batch = 100
	total := 0
	for {
		n, err := reapScript.Run(ctx, s.client,
			[]string{s.processingKey()},
			now.UnixMilli(),
			s.jobKeyPrefix(),
			s.statusKeyPrefix(),
			s.readyKeyPrefix(),
		).Int()
		if err != nil {
			return total, fmt.Errorf("reap expired: %w", err)
		}
		total += n
		if n < batch {
			return total, nil
		}
	}
}

// DeleteJobs removes jobs in the given statuses last updated before
// olderThan. Terminal jobs are not indexed in ready, delayed, or processing
// zsets, so deletion only touches the record and the status index.
func (s *Store) DeleteJobs(ctx context.Context, statuses []queue.JobStatus, olderThan time.Time) (int, error) {
	total := 0
	cutoff := strconv.FormatInt(olderThan.UnixMilli(), 10)
	for _, st := range statuses {
		ids, err := s.client.ZRangeByScore(ctx, s.statusKey(st), &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + cutoff,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("delete jobs: %w", err)
		}
		if len(ids) == 0 {
			continue
		}

		keys := make([]string, len(ids))
		members := make([]any, len(ids))
		for i, id := range ids {
			keys[i] = s.jobKeyPrefix() + id
			members[i] = id
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, s.statusKey(st), members...)
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("delete jobs: %w", err)
		}
		total += len(ids)
	}
	return total, nil
}

// ListJobs returns all jobs with the given status, oldest first.
func (s *Store) ListJobs(ctx context.Context, status queue.JobStatus) ([]*queue.Job, error) {
	ids, err := s.client.ZRange(ctx, s.statusKey(status), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(ids))
	for _, idStr := range ids {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, queue.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// ImportJob upserts a job preserving its id and state. Index membership is
// rebuilt from scratch so a restore lands in exactly one claim structure.
func (s *Store) ImportJob(ctx context.Context, job *queue.Job) error {
	now := time.Now()
	idStr := job.ID.String()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.jobKey(job.ID))
		pipe.HSet(ctx, s.jobKey(job.ID), jobFields(job))

		pipe.ZRem(ctx, s.readyKey(job.Tag), idStr)
		pipe.ZRem(ctx, s.delayedKey(job.Tag), idStr)
		pipe.ZRem(ctx, s.processingKey(), idStr)
		for _, st := range []queue.JobStatus{
			queue.StatusAvailable, queue.StatusProcessing, queue.StatusCompleted,
			queue.StatusRetrying, queue.StatusDead, queue.StatusCancelled,
		} {
			pipe.ZRem(ctx, s.statusKey(st), idStr)
		}

		switch {
		case job.Status == queue.StatusProcessing && job.LeaseExpiresAt != nil:
			pipe.ZAdd(ctx, s.processingKey(), redis.Z{
				Score:  float64(job.LeaseExpiresAt.UnixMilli()),
				Member: idStr,
			})
		case job.Status == queue.StatusAvailable || job.Status == queue.StatusRetrying:
			if job.RunAt.After(now) {
				pipe.ZAdd(ctx, s.delayedKey(job.Tag), redis.Z{
					Score:  float64(job.RunAt.UnixMilli()),
					Member: idStr,
				})
			} else {
				pipe.ZAdd(ctx, s.readyKey(job.Tag), redis.Z{
					Score:  readyScore(job.Priority, job.RunAt),
					Member: idStr,
				})
			}
		}
		pipe.ZAdd(ctx, s.statusKey(job.Status), redis.Z{
			Score:  float64(job.UpdatedAt.UnixMilli()),
			Member: idStr,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("import job: %w", err)
	}
	return nil
}

// RequeueJobs moves stale jobs in the given statuses back to available with
// attempts reset. Each job is requeued by a script that re-checks its status,
// so a concurrent claim never gets clobbered.
func (s *Store) RequeueJobs(ctx context.Context, statuses []queue.JobStatus, olderThan time.Time) (int, error) {
	cutoff := strconv.FormatInt(olderThan.UnixMilli(), 10)
	expected := make([]any, 0, 2+len(statuses))

	total := 0
	for _, st := range statuses {
		ids, err := s.client.ZRangeByScore(ctx, s.statusKey(st), &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + cutoff,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("requeue jobs: %w", err)
		}
		for _, idStr := range ids {
			id, err := uuid.Parse(idStr)
			if err != nil {
				continue
			}
			job, err := s.GetJob(ctx, id)
			if errors.Is(err, queue.ErrJobNotFound) {
				continue
			}
			if err != nil {
				return total, err
			}

			expected = expected[:0]
			expected = append(expected, idStr, time.Now().UnixMilli())
			for _, exp := range statuses {
				expected = append(expected, string(exp))
			}
			n, err := requeueScript.Run(ctx, s.client,
				[]string{s.jobKey(id), s.readyKey(job.Tag), s.delayedKey(job.Tag), s.statusKeyPrefix()},
				expected...,
			).Int()
			if err != nil {
				return total, fmt.Errorf("requeue jobs: %w", err)
			}
			total += n
		}
	}
	return total, nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// jobFields flattens a job into the hash representation the Lua scripts
// operate on. Nullable columns map to zero values ("" and 0).
func jobFields(job *queue.Job) map[string]any {
	lockedBy := ""
	if job.LockedBy != nil {
		lockedBy = job.LockedBy.String()
	}
	var leaseMs int64
	if job.LeaseExpiresAt != nil {
		leaseMs = job.LeaseExpiresAt.UnixMilli()
	}
	lastErr := ""
	if job.LastError != nil {
		lastErr = *job.LastError
	}
	return map[string]any{
		"id":                  job.ID.String(),
		"tag":                 job.Tag,
		"payload":             string(job.Payload),
		"status":              string(job.Status),
		"priority":            int(job.Priority),
		"run_at_ms":           job.RunAt.UnixMilli(),
		"attempts":            int(job.Attempts),
		"max_attempts":        int(job.MaxAttempts),
		"reclaims":            job.Reclaims,
		"locked_by":           lockedBy,
		"lease_expires_at_ms": leaseMs,
		"last_error":          lastErr,
		"created_at_ms":       job.CreatedAt.UnixMilli(),
		"updated_at_ms":       job.UpdatedAt.UnixMilli(),
	}
}

func jobFromFields(fields map[string]string) (*queue.Job, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}

	job := &queue.Job{
		ID:          id,
		Tag:         fields["tag"],
		Status:      queue.JobStatus(fields["status"]),
		Priority:    queue.Priority(parseInt(fields["priority"])),
		RunAt:       time.UnixMilli(parseInt64(fields["run_at_ms"])),
		Attempts:    int8(parseInt(fields["attempts"])),
		MaxAttempts: int8(parseInt(fields["max_attempts"])),
		Reclaims:    parseInt(fields["reclaims"]),
		CreatedAt:   time.UnixMilli(parseInt64(fields["created_at_ms"])),
		UpdatedAt:   time.UnixMilli(parseInt64(fields["updated_at_ms"])),
	}
	if payload := fields["payload"]; payload != "" {
		job.Payload = []byte(payload)
	}
	if lockedBy := fields["locked_by"]; lockedBy != "" {
		workerID, err := uuid.Parse(lockedBy)
		if err != nil {
			return nil, fmt.Errorf("parse locked_by: %w", err)
		}
		job.LockedBy = &workerID
	}
	if leaseMs := parseInt64(fields["lease_expires_at_ms"]); leaseMs > 0 {
		expires := time.UnixMilli(leaseMs)
		job.LeaseExpiresAt = &expires
	}
	if lastErr := fields["last_error"]; lastErr != "" {
		job.LastError = &lastErr
	}
	return job, nil
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
