package queue

import (
	"log/slog"
	"time"
)

// DispatcherOption is a functional option for configuring a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	pollInterval      time.Duration
	maxIdleInterval   time.Duration
	leaseDuration     time.Duration
	maxConcurrentJobs int
	tagLimits         map[string]int
	logger            *slog.Logger
}

// WithPollInterval sets the base interval between claim attempts.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMaxIdleInterval caps the jittered backoff applied after empty polls.
func WithMaxIdleInterval(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.maxIdleInterval = d
		}
	}
}

// WithLeaseDuration sets how long a claim holds a job before the reaper may
// reclaim it. Handlers also get this long to run.
func WithLeaseDuration(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.leaseDuration = d
		}
	}
}

// WithMaxConcurrentJobs sets the number of execution slots.
func WithMaxConcurrentJobs(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.maxConcurrentJobs = n
		}
	}
}

// WithTagLimit caps how many jobs of one tag may execute concurrently, so a
// slow tag cannot occupy every slot.
func WithTagLimit(tag string, n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if tag != "" && n > 0 {
			o.tagLimits[tag] = n
		}
	}
}

// WithDispatcherLogger sets the logger for the dispatcher.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
