package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

func newQueue(t *testing.T, store queue.Store, opts ...queue.Option) *queue.Queue {
	t.Helper()
	q, err := queue.New(store, opts...)
	require.NoError(t, err)
	return q
}

func TestNewQueue(t *testing.T) {
	t.Parallel()

	_, err := queue.New(nil)
	require.ErrorIs(t, err, queue.ErrStoreNil)
}

func TestQueue_Enqueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		q := newQueue(t, queue.NewMemoryStore())

		_, err := q.Enqueue(ctx, "", []byte(`{}`))
		require.ErrorIs(t, err, queue.ErrTagEmpty)

		_, err = q.Enqueue(ctx, "emails", []byte(`{}`), queue.WithPriority(queue.Priority(127)))
		require.ErrorIs(t, err, queue.ErrInvalidPriority)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store)

		id, err := q.Enqueue(ctx, "emails", []byte(`{"to":"a@b.c"}`))
		require.NoError(t, err)

		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusAvailable, job.Status)
		assert.Equal(t, queue.PriorityDefault, job.Priority)
		assert.Equal(t, int8(3), job.MaxAttempts)
		assert.Equal(t, int8(0), job.Attempts)
		assert.WithinDuration(t, time.Now(), job.RunAt, time.Second)
	})

	t.Run("delay pushes run_at", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store)

		id, err := q.Enqueue(ctx, "emails", nil, queue.WithDelay(time.Hour))
		require.NoError(t, err)

		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Hour), job.RunAt, time.Second)
	})

	t.Run("explicit run_at wins over delay", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store)

		at := time.Now().Add(30 * time.Minute)
		id, err := q.Enqueue(ctx, "emails", nil, queue.WithDelay(time.Hour), queue.WithRunAt(at))
		require.NoError(t, err)

		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.WithinDuration(t, at, job.RunAt, time.Second)
	})
}

func TestQueue_ClaimNext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	workerID := uuid.New()

	t.Run("empty queue is not retried", func(t *testing.T) {
		t.Parallel()
		store := newMockStore(t)
		store.On("ClaimNextJob", mock.Anything, workerID, []string{"emails"}, time.Minute).
			Return(nil, queue.ErrNoJobToClaim).Once()

		q := newQueue(t, store)
		_, err := q.ClaimNext(ctx, workerID, []string{"emails"}, time.Minute)
		require.ErrorIs(t, err, queue.ErrNoJobToClaim)
	})

	t.Run("transient errors are retried", func(t *testing.T) {
		t.Parallel()
		job := &queue.Job{ID: uuid.New(), Tag: "emails", Status: queue.StatusProcessing}
		store := newMockStore(t)
		store.On("ClaimNextJob", mock.Anything, workerID, []string{"emails"}, time.Minute).
			Return(nil, errors.New("connection reset")).Twice()
		store.On("ClaimNextJob", mock.Anything, workerID, []string{"emails"}, time.Minute).
			Return(job, nil).Once()

		q := newQueue(t, store, queue.WithClaimRetry(3, time.Millisecond))
		got, err := q.ClaimNext(ctx, workerID, []string{"emails"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("retry budget exhausts", func(t *testing.T) {
		t.Parallel()
		store := newMockStore(t)
		store.On("ClaimNextJob", mock.Anything, workerID, []string{"emails"}, time.Minute).
			Return(nil, errors.New("connection reset")).Times(2)

		q := newQueue(t, store, queue.WithClaimRetry(2, time.Millisecond))
		_, err := q.ClaimNext(ctx, workerID, []string{"emails"}, time.Minute)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
	})
}

func TestQueue_Ack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	workerID := uuid.New()

	t.Run("completes the job", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store)

		id, err := q.Enqueue(ctx, "emails", nil)
		require.NoError(t, err)
		job, err := q.ClaimNext(ctx, workerID, []string{"emails"}, time.Minute)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, job))

		got, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusCompleted, got.Status)
	})

	t.Run("lost lease is swallowed", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store)

		_, err := q.Enqueue(ctx, "emails", nil)
		require.NoError(t, err)
		job, err := q.ClaimNext(ctx, workerID, []string{"emails"}, time.Millisecond)
		require.NoError(t, err)

		// Reaper steals the lease before the worker reports.
		n, err := store.ReapExpired(ctx, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Equal(t, 1, n)

		require.NoError(t, q.Ack(ctx, job), "double-report race must be a no-op")

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusAvailable, got.Status, "reaped job stays available")
	})

	t.Run("unclaimed job is a conflict", func(t *testing.T) {
		t.Parallel()
		q := newQueue(t, queue.NewMemoryStore())
		job := &queue.Job{ID: uuid.New(), Tag: "emails"}
		require.ErrorIs(t, q.Ack(ctx, job), queue.ErrLeaseConflict)
	})
}

func TestQueue_Fail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	workerID := uuid.New()

	claim := func(t *testing.T, q *queue.Queue, maxAttempts int8) *queue.Job {
		t.Helper()
		_, err := q.Enqueue(ctx, "emails", nil, queue.WithMaxAttempts(maxAttempts))
		require.NoError(t, err)
		job, err := q.ClaimNext(ctx, workerID, []string{"emails"}, time.Minute)
		require.NoError(t, err)
		return job
	}

	t.Run("retryable with budget left schedules retry", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store, queue.WithBackoff(queue.LinearBackoff(time.Minute, time.Hour)))

		job := claim(t, q, 3)
		before := job.RunAt
		require.NoError(t, q.Fail(ctx, job, errors.New("smtp timeout"), true))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusRetrying, got.Status)
		assert.Equal(t, int8(1), got.Attempts)
		assert.True(t, got.RunAt.After(before), "run_at must move strictly later")
		require.NotNil(t, got.LastError)
		assert.Equal(t, "smtp timeout", *got.LastError)
	})

	t.Run("exhausted budget dead-letters", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store, queue.WithBackoff(func(int) time.Duration { return 0 }))

		// max_attempts=2: first failure retries, second kills.
		job := claim(t, q, 2)
		require.NoError(t, q.Fail(ctx, job, errors.New("boom"), true))

		job, err := q.ClaimNext(ctx, workerID, []string{"emails"}, time.Minute)
		require.NoError(t, err)
		require.NoError(t, q.Fail(ctx, job, errors.New("boom again"), true))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusDead, got.Status)
		assert.Equal(t, int8(2), got.Attempts)

		_, err = q.ClaimNext(ctx, workerID, []string{"emails"}, time.Minute)
		require.ErrorIs(t, err, queue.ErrNoJobToClaim, "dead jobs are never claimable")
	})

	t.Run("non-retryable dead-letters immediately", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store)

		job := claim(t, q, 5)
		require.NoError(t, q.Fail(ctx, job, errors.New("bad request"), false))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusDead, got.Status)
	})

	t.Run("poison dead-letters despite retryable flag", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store)

		job := claim(t, q, 5)
		require.NoError(t, q.Fail(ctx, job, queue.Poison(errors.New("malformed payload")), true))

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusDead, got.Status)
	})

	t.Run("lost lease is swallowed", func(t *testing.T) {
		t.Parallel()
		store := queue.NewMemoryStore()
		q := newQueue(t, store)

		_, err := q.Enqueue(ctx, "emails", nil)
		require.NoError(t, err)
		job, err := q.ClaimNext(ctx, workerID, []string{"emails"}, time.Millisecond)
		require.NoError(t, err)

		n, err := store.ReapExpired(ctx, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Equal(t, 1, n)

		require.NoError(t, q.Fail(ctx, job, errors.New("boom"), true))
	})
}

func TestQueue_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := queue.NewMemoryStore()
	q := newQueue(t, store)

	id, err := q.Enqueue(ctx, "emails", nil, queue.WithDelay(time.Hour))
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, id))

	got, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, got.Status)

	require.ErrorIs(t, q.Cancel(ctx, id), queue.ErrNotCancellable)
	require.ErrorIs(t, q.Cancel(ctx, uuid.New()), queue.ErrJobNotFound)
}

func TestPoisonErrors(t *testing.T) {
	t.Parallel()

	base := errors.New("decode failed")
	wrapped := queue.Poison(base)

	assert.True(t, queue.IsPoison(wrapped))
	assert.True(t, errors.Is(wrapped, queue.ErrPoison))
	assert.True(t, errors.Is(wrapped, base))
	assert.False(t, queue.IsPoison(base))
	assert.False(t, queue.IsPoison(nil))
}
