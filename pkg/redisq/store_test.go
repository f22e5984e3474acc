package redisq_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/redisq"
)

// setupStore connects to the server named by TEST_REDIS_URL under a unique
// key prefix, so parallel tests never see each other's jobs. Tests are
// skipped when the variable is unset.
func setupStore(t *testing.T) *redisq.Store {
	t.Helper()

	connURL := os.Getenv("TEST_REDIS_URL")
	if connURL == "" {
		t.Skip("TEST_REDIS_URL is not set, skipping redis integration tests")
	}

	client, err := redisq.Connect(context.Background(), redisq.Config{
		ConnectionURL:  connURL,
		RetryAttempts:  1,
		RetryInterval:  time.Second,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	prefix := fmt.Sprintf("jobq_test_%s", uuid.NewString()[:8])
	store, err := redisq.New(client, prefix)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedJob(t *testing.T, store *redisq.Store, tag string, priority queue.Priority, runAt time.Time) *queue.Job {
	t.Helper()
	now := time.Now()
	job := &queue.Job{
		ID:          uuid.New(),
		Tag:         tag,
		Payload:     []byte(`{"k":"v"}`),
		Status:      queue.StatusAvailable,
		Priority:    priority,
		RunAt:       runAt,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestRedisStore_ClaimLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)
	owner := uuid.New()
	stranger := uuid.New()

	past := time.Now().Add(-time.Minute)
	low := seedJob(t, store, "emails", queue.PriorityLow, past)
	high := seedJob(t, store, "emails", queue.PriorityHigh, past.Add(time.Second))
	seedJob(t, store, "emails", queue.PriorityMax, time.Now().Add(time.Hour))

	first, err := store.ClaimNextJob(ctx, owner, []string{"emails"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, high.ID, first.ID, "priority wins over run_at")
	assert.Equal(t, queue.StatusProcessing, first.Status)
	require.NotNil(t, first.LockedBy)
	assert.Equal(t, owner, *first.LockedBy)
	require.NotNil(t, first.LeaseExpiresAt)

	second, err := store.ClaimNextJob(ctx, owner, []string{"emails"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, low.ID, second.ID)

	// Only the delayed job remains.
	_, err = store.ClaimNextJob(ctx, owner, []string{"emails"}, time.Minute)
	require.ErrorIs(t, err, queue.ErrNoJobToClaim)

	require.ErrorIs(t, store.CompleteJob(ctx, first.ID, stranger), queue.ErrLeaseConflict)
	require.NoError(t, store.CompleteJob(ctx, first.ID, owner))
	require.ErrorIs(t, store.CompleteJob(ctx, first.ID, owner), queue.ErrLeaseConflict)

	got, err := store.GetJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	assert.Nil(t, got.LockedBy)
	assert.Nil(t, got.LeaseExpiresAt)
}

func TestRedisStore_DelayedPromotion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)
	workerID := uuid.New()

	job := seedJob(t, store, "emails", queue.PriorityMedium, time.Now().Add(150*time.Millisecond))

	_, err := store.ClaimNextJob(ctx, workerID, []string{"emails"}, time.Minute)
	require.ErrorIs(t, err, queue.ErrNoJobToClaim)

	time.Sleep(200 * time.Millisecond)

	claimed, err := store.ClaimNextJob(ctx, workerID, []string{"emails"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestRedisStore_RetryThenDead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)
	workerID := uuid.New()

	seedJob(t, store, "emails", queue.PriorityMedium, time.Now().Add(-time.Second))

	job, err := store.ClaimNextJob(ctx, workerID, []string{"emails"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.RetryJob(ctx, job.ID, workerID, "flaky", time.Now().Add(-time.Second)))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRetrying, got.Status)
	assert.Equal(t, int8(1), got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "flaky", *got.LastError)

	job, err = store.ClaimNextJob(ctx, workerID, []string{"emails"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.DeadJob(ctx, job.ID, workerID, "gave up"))

	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDead, got.Status)
	assert.Equal(t, int8(2), got.Attempts)

	_, err = store.ClaimNextJob(ctx, workerID, []string{"emails"}, time.Minute)
	require.ErrorIs(t, err, queue.ErrNoJobToClaim)
}

func TestRedisStore_ReapExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)
	workerID := uuid.New()

	job := seedJob(t, store, "emails", queue.PriorityMedium, time.Now().Add(-time.Second))
	_, err := store.ClaimNextJob(ctx, workerID, []string{"emails"}, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	n, err := store.ReapExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusAvailable, got.Status)
	assert.Equal(t, 1, got.Reclaims)
	assert.Equal(t, int8(0), got.Attempts)

	require.ErrorIs(t, store.CompleteJob(ctx, job.ID, workerID), queue.ErrLeaseConflict)

	// Claimable again after the reap.
	reclaimed, err := store.ClaimNextJob(ctx, uuid.New(), []string{"emails"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.ID, reclaimed.ID)
}

func TestRedisStore_CancelMatrix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)
	workerID := uuid.New()

	pending := seedJob(t, store, "emails", queue.PriorityMedium, time.Now().Add(time.Hour))
	require.NoError(t, store.CancelJob(ctx, pending.ID))

	got, err := store.GetJob(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, got.Status)

	inFlight := seedJob(t, store, "emails", queue.PriorityMedium, time.Now().Add(-time.Second))
	_, err = store.ClaimNextJob(ctx, workerID, []string{"emails"}, time.Minute)
	require.NoError(t, err)
	require.ErrorIs(t, store.CancelJob(ctx, inFlight.ID), queue.ErrNotCancellable)

	require.ErrorIs(t, store.CancelJob(ctx, uuid.New()), queue.ErrJobNotFound)
}

func TestRedisStore_AdminOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	stale := &queue.Job{
		ID: uuid.New(), Tag: "emails", Status: queue.StatusDead, Priority: queue.PriorityMedium,
		RunAt: time.Now(), Attempts: 3, MaxAttempts: 3,
		CreatedAt: time.Now().Add(-72 * time.Hour), UpdatedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := &queue.Job{
		ID: uuid.New(), Tag: "emails", Status: queue.StatusDead, Priority: queue.PriorityMedium,
		RunAt: time.Now(), Attempts: 3, MaxAttempts: 3,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.ImportJob(ctx, stale))
	require.NoError(t, store.ImportJob(ctx, fresh))

	jobs, err := store.ListJobs(ctx, queue.StatusDead)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, stale.ID, jobs[0].ID, "oldest first")

	n, err := store.RequeueJobs(ctx, []queue.JobStatus{queue.StatusDead}, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusAvailable, got.Status)
	assert.Equal(t, int8(0), got.Attempts)

	// Requeued job is immediately claimable.
	claimed, err := store.ClaimNextJob(ctx, uuid.New(), []string{"emails"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, stale.ID, claimed.ID)

	n, err = store.DeleteJobs(ctx, []queue.JobStatus{queue.StatusDead}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetJob(ctx, fresh.ID)
	require.ErrorIs(t, err, queue.ErrJobNotFound)
}
