package queue

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring a Queue.
type Option func(*queueOptions)

type queueOptions struct {
	backoff            BackoffFunc
	logger             *slog.Logger
	defaultPriority    Priority
	defaultMaxAttempts int8
	claimAttempts      int
	claimRetryDelay    time.Duration
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(f BackoffFunc) Option {
	return func(o *queueOptions) {
		if f != nil {
			o.backoff = f
		}
	}
}

// WithLogger sets the logger for the queue facade.
func WithLogger(logger *slog.Logger) Option {
	return func(o *queueOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDefaultPriority sets the priority used when Enqueue gets none.
func WithDefaultPriority(p Priority) Option {
	return func(o *queueOptions) {
		if p.Valid() {
			o.defaultPriority = p
		}
	}
}

// WithDefaultMaxAttempts sets the attempt budget used when Enqueue gets none.
func WithDefaultMaxAttempts(n int8) Option {
	return func(o *queueOptions) {
		if n > 0 {
			o.defaultMaxAttempts = n
		}
	}
}

// WithClaimRetry bounds the internal retry of transient claim errors.
func WithClaimRetry(attempts int, delay time.Duration) Option {
	return func(o *queueOptions) {
		if attempts > 0 {
			o.claimAttempts = attempts
		}
		if delay > 0 {
			o.claimRetryDelay = delay
		}
	}
}

// EnqueueOption is a functional option for the Enqueue method.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    Priority
	maxAttempts int8
	delay       time.Duration
	runAt       *time.Time
}

// WithPriority sets the priority for the job.
func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = p
	}
}

// WithMaxAttempts sets the total attempt budget (1-10).
// Capped at 10 to prevent endless retry loops on persistent failures.
func WithMaxAttempts(n int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if n >= 1 && n <= 10 {
			o.maxAttempts = n
		}
	}
}

// WithDelay makes the job claimable only after the delay elapses.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithRunAt makes the job claimable only at the given time.
func WithRunAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.runAt = &t
	}
}
