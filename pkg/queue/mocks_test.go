package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

// mockStore is a testify mock of queue.Store for exercising the facade's
// error handling without a real backend.
type mockStore struct {
	mock.Mock
}

func newMockStore(t *testing.T) *mockStore {
	t.Helper()
	m := &mockStore{}
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockStore) CreateJob(ctx context.Context, job *queue.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockStore) ClaimNextJob(ctx context.Context, workerID uuid.UUID, tags []string, lease time.Duration) (*queue.Job, error) {
	args := m.Called(ctx, workerID, tags, lease)
	if job := args.Get(0); job != nil {
		return job.(*queue.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) CompleteJob(ctx context.Context, jobID, workerID uuid.UUID) error {
	return m.Called(ctx, jobID, workerID).Error(0)
}

func (m *mockStore) RetryJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string, runAt time.Time) error {
	return m.Called(ctx, jobID, workerID, errMsg, runAt).Error(0)
}

func (m *mockStore) DeadJob(ctx context.Context, jobID, workerID uuid.UUID, errMsg string) error {
	return m.Called(ctx, jobID, workerID, errMsg).Error(0)
}

func (m *mockStore) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	return m.Called(ctx, jobID).Error(0)
}

func (m *mockStore) GetJob(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	args := m.Called(ctx, jobID)
	if job := args.Get(0); job != nil {
		return job.(*queue.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) DeleteJobs(ctx context.Context, statuses []queue.JobStatus, olderThan time.Time) (int, error) {
	args := m.Called(ctx, statuses, olderThan)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) ListJobs(ctx context.Context, status queue.JobStatus) ([]*queue.Job, error) {
	args := m.Called(ctx, status)
	if jobs := args.Get(0); jobs != nil {
		return jobs.([]*queue.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ImportJob(ctx context.Context, job *queue.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockStore) RequeueJobs(ctx context.Context, statuses []queue.JobStatus, olderThan time.Time) (int, error) {
	args := m.Called(ctx, statuses, olderThan)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}
