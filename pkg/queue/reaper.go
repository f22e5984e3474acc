package queue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Reaper periodically returns lease-expired processing jobs to the available
// pool. It runs independently of any dispatcher: this sweep is what turns a
// worker crash into a re-delivery instead of a lost job.
type Reaper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
}

// ReaperOption is a functional option for configuring a Reaper.
type ReaperOption func(*reaperOptions)

type reaperOptions struct {
	interval time.Duration
	logger   *slog.Logger
}

// WithReapInterval sets the sweep interval.
func WithReapInterval(d time.Duration) ReaperOption {
	return func(o *reaperOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithReaperLogger sets the logger for the reaper.
func WithReaperLogger(logger *slog.Logger) ReaperOption {
	return func(o *reaperOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewReaper creates a lease reaper over the store.
func NewReaper(store Store, opts ...ReaperOption) (*Reaper, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	options := &reaperOptions{
		interval: time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Reaper{
		store:    store,
		interval: options.interval,
		logger:   options.logger,
	}, nil
}

// Run sweeps on a fixed interval until ctx is cancelled. Sweep errors are
// logged and do not stop the loop.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("lease reaper started", slog.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("lease reaper stopped")
			return nil
		case <-ticker.C:
			n, err := r.store.ReapExpired(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("lease sweep failed", slog.String("error", err.Error()))
				}
				continue
			}
			if n > 0 {
				r.logger.Warn("reclaimed expired leases", slog.Int("count", n))
			}
		}
	}
}

// Runner is anything with a blocking Run, such as a Dispatcher or Reaper.
type Runner interface {
	Run(ctx context.Context) error
}

// RunAll runs every runner under one errgroup and blocks until all exit.
// The first error cancels the shared context.
func RunAll(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	return g.Wait()
}
