package pgq_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/pgq"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

// setupStore connects to the database named by TEST_PG_CONN_URL and starts
// from an empty jobs table. Tests are skipped when the variable is unset.
func setupStore(t *testing.T) *pgq.Store {
	t.Helper()

	connURL := os.Getenv("TEST_PG_CONN_URL")
	if connURL == "" {
		t.Skip("TEST_PG_CONN_URL is not set, skipping postgres integration tests")
	}

	ctx := context.Background()
	cfg := pgq.Config{
		ConnectionString: connURL,
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
		MigrationsTable:  "jobq_schema_migrations",
	}
	pool, err := pgq.Connect(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, pgq.Migrate(ctx, pool, cfg))

	_, err = pool.Exec(ctx, "TRUNCATE jobq_jobs")
	require.NoError(t, err)

	store, err := pgq.New(pool)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedJob(t *testing.T, store *pgq.Store, tag string, priority queue.Priority, runAt time.Time) *queue.Job {
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

func TestPGStore_ClaimLifecycle(t *testing.T) {
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

	second, err := store.ClaimNextJob(ctx, owner, []string{"emails"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, low.ID, second.ID)

	// Only the future-scheduled job remains; nothing claimable.
	_, err = store.ClaimNextJob(ctx, owner, []string{"emails"}, time.Minute)
	require.ErrorIs(t, err, queue.ErrNoJobToClaim)

	// Lease guards.
	require.ErrorIs(t, store.CompleteJob(ctx, first.ID, stranger), queue.ErrLeaseConflict)
	require.NoError(t, store.CompleteJob(ctx, first.ID, owner))
	require.ErrorIs(t, store.CompleteJob(ctx, first.ID, owner), queue.ErrLeaseConflict)

	// Retry, then dead.
	require.NoError(t, store.RetryJob(ctx, second.ID, owner, "flaky", time.Now().Add(-time.Second)))
	reclaimed, err := store.ClaimNextJob(ctx, owner, []string{"emails"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, second.ID, reclaimed.ID)
	assert.Equal(t, int8(1), reclaimed.Attempts)

	require.NoError(t, store.DeadJob(ctx, second.ID, owner, "gave up"))
	got, err := store.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDead, got.Status)
	assert.Equal(t, int8(2), got.Attempts)
}

func TestPGStore_ReapExpired(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	workerID := uuid.New()

	job := seedJob(t, store, "emails", queue.PriorityMedium, time.Now().Add(-time.Second))
	_, err := store.ClaimNextJob(ctx, workerID, []string{"emails"}, 10*time.Millisecond)
	require.NoError(t, err)

	n, err := store.ReapExpired(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusAvailable, got.Status)
	assert.Equal(t, 1, got.Reclaims)
	assert.Equal(t, int8(0), got.Attempts)

	require.ErrorIs(t, store.CompleteJob(ctx, job.ID, workerID), queue.ErrLeaseConflict)
}

func TestPGStore_AdminOperations(t *testing.T) {
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

	n, err = store.DeleteJobs(ctx, []queue.JobStatus{queue.StatusDead}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetJob(ctx, fresh.ID)
	require.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestPGStore_CancelMatrix(t *testing.T) {
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
