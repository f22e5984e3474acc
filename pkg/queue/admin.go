package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Admin bundles the operator-facing maintenance operations. They are
// synchronous, single-shot, and act only on terminal or stale job states, so
// they never interfere with in-flight claims.
type Admin struct {
	store  Store
	logger *slog.Logger
}

// AdminOption is a functional option for configuring Admin.
type AdminOption func(*adminOptions)

type adminOptions struct {
	logger *slog.Logger
}

// WithAdminLogger sets the logger for admin operations.
func WithAdminLogger(logger *slog.Logger) AdminOption {
	return func(o *adminOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewAdmin creates the admin surface over the store.
func NewAdmin(store Store, opts ...AdminOption) (*Admin, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	options := &adminOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	return &Admin{store: store, logger: options.logger}, nil
}

// Cancel cancels one job by id. Only available and retrying jobs can be
// cancelled; anything else is reported back to the operator.
func (a *Admin) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if err := a.store.CancelJob(ctx, jobID); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	a.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	return nil
}

// Tidy deletes completed and cancelled jobs older than the retention window.
func (a *Admin) Tidy(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	n, err := a.store.DeleteJobs(ctx, []JobStatus{StatusCompleted, StatusCancelled}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("tidy: %w", err)
	}
	a.logger.Info("tidy finished",
		slog.Int("deleted", n),
		slog.Time("cutoff", cutoff))
	return n, nil
}

// Purge deletes dead jobs older than maxAge. When dumpDir is non-empty the
// rows are exported to a dump file before deletion.
func (a *Admin) Purge(ctx context.Context, maxAge time.Duration, dumpDir string) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	if dumpDir != "" {
		jobs, err := a.store.ListJobs(ctx, StatusDead)
		if err != nil {
			return 0, fmt.Errorf("purge: list dead jobs: %w", err)
		}
		stale := make([]*Job, 0, len(jobs))
		for _, j := range jobs {
			if j.UpdatedAt.Before(cutoff) {
				stale = append(stale, j)
			}
		}
		if len(stale) > 0 {
			path, err := a.writeDump(stale, StatusDead, dumpDir)
			if err != nil {
				return 0, fmt.Errorf("purge: %w", err)
			}
			a.logger.Info("purged jobs exported", slog.String("path", path), slog.Int("count", len(stale)))
		}
	}

	n, err := a.store.DeleteJobs(ctx, []JobStatus{StatusDead}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	a.logger.Info("purge finished",
		slog.Int("deleted", n),
		slog.Time("cutoff", cutoff))
	return n, nil
}

// Dump exports every job with the given status into a JSON file inside
// folder and returns the file path and the number of jobs written.
func (a *Admin) Dump(ctx context.Context, status JobStatus, folder string) (string, int, error) {
	if !status.Valid() {
		return "", 0, fmt.Errorf("dump: %w: %q", ErrInvalidStatus, status)
	}
	jobs, err := a.store.ListJobs(ctx, status)
	if err != nil {
		return "", 0, fmt.Errorf("dump: %w", err)
	}
	path, err := a.writeDump(jobs, status, folder)
	if err != nil {
		return "", 0, fmt.Errorf("dump: %w", err)
	}
	a.logger.Info("jobs dumped",
		slog.String("status", string(status)),
		slog.String("path", path),
		slog.Int("count", len(jobs)))
	return path, len(jobs), nil
}

// Import reads a dump file and upserts every job it contains, preserving
// ids and state. Returns the number imported.
func (a *Admin) Import(ctx context.Context, file string) (int, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("import: read %s: %w", file, err)
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return 0, fmt.Errorf("import: decode %s: %w", file, err)
	}
	for i, job := range jobs {
		if job == nil || job.ID == uuid.Nil || job.Tag == "" || !job.Status.Valid() {
			return i, fmt.Errorf("import: malformed job record at index %d", i)
		}
		if err := a.store.ImportJob(ctx, job); err != nil {
			return i, fmt.Errorf("import job %s: %w", job.ID, err)
		}
	}
	a.logger.Info("jobs imported", slog.String("file", file), slog.Int("count", len(jobs)))
	return len(jobs), nil
}

// Requeue moves dead and retrying jobs last touched before fromAge back to
// available with attempts reset to zero, for manual recovery campaigns.
func (a *Admin) Requeue(ctx context.Context, fromAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-fromAge)
	n, err := a.store.RequeueJobs(ctx, []JobStatus{StatusDead, StatusRetrying}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue: %w", err)
	}
	a.logger.Info("requeue finished",
		slog.Int("requeued", n),
		slog.Time("cutoff", cutoff))
	return n, nil
}

func (a *Admin) writeDump(jobs []*Job, status JobStatus, folder string) (string, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create dump folder %s: %w", folder, err)
	}
	name := fmt.Sprintf("jobs_%s_%d.json", status, time.Now().Unix())
	path := filepath.Join(folder, name)
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write dump %s: %w", path, err)
	}
	return path, nil
}
