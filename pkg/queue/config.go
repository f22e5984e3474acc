package queue

import "time"

// Config holds dispatcher and reaper settings sourced from the environment.
type Config struct {
	PollInterval      time.Duration `env:"JOBQ_POLL_INTERVAL" envDefault:"2s"`
	MaxIdleInterval   time.Duration `env:"JOBQ_MAX_IDLE_INTERVAL" envDefault:"30s"`
	LeaseDuration     time.Duration `env:"JOBQ_LEASE_DURATION" envDefault:"5m"`
	ReapInterval      time.Duration `env:"JOBQ_REAP_INTERVAL" envDefault:"1m"`
	MaxConcurrentJobs int           `env:"JOBQ_MAX_CONCURRENT_JOBS" envDefault:"10"`
}

// DispatcherOptions expands the configuration into dispatcher options, so a
// worker process can be tuned entirely from the environment:
//
//	var cfg queue.Config
//	_ = config.Load(&cfg)
//	d, _ := queue.NewDispatcher(q, cfg.DispatcherOptions()...)
func (c Config) DispatcherOptions() []DispatcherOption {
	return []DispatcherOption{
		WithPollInterval(c.PollInterval),
		WithMaxIdleInterval(c.MaxIdleInterval),
		WithLeaseDuration(c.LeaseDuration),
		WithMaxConcurrentJobs(c.MaxConcurrentJobs),
	}
}

// ReaperOptions expands the configuration into reaper options.
func (c Config) ReaperOptions() []ReaperOption {
	return []ReaperOption{WithReapInterval(c.ReapInterval)}
}
