package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Dispatcher is a worker pool that polls the queue, routes claimed jobs to
// registered handlers by tag, and reports the outcome back as ack or fail.
// Execution slots are independent: a long-running handler never blocks other
// slots' claim attempts.
type Dispatcher struct {
	queue    *Queue
	handlers map[string]Handler
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations

	tagLimits map[string]int
	tagActive map[string]int
	tagMu     sync.Mutex

	pollInterval    time.Duration
	maxIdleInterval time.Duration
	leaseDuration   time.Duration
	logger          *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewDispatcher creates a dispatcher over the queue facade.
func NewDispatcher(q *Queue, opts ...DispatcherOption) (*Dispatcher, error) {
	if q == nil {
		return nil, ErrQueueNil
	}

	options := &dispatcherOptions{
		pollInterval:      2 * time.Second,
		maxIdleInterval:   30 * time.Second,
		leaseDuration:     5 * time.Minute,
		maxConcurrentJobs: 10,
		tagLimits:         make(map[string]int),
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Dispatcher{
		queue:           q,
		handlers:        make(map[string]Handler),
		workerID:        uuid.New(),
		sem:             make(chan struct{}, options.maxConcurrentJobs),
		tagLimits:       options.tagLimits,
		tagActive:       make(map[string]int),
		pollInterval:    options.pollInterval,
		maxIdleInterval: options.maxIdleInterval,
		leaseDuration:   options.leaseDuration,
		logger:          options.logger,
	}, nil
}

// RegisterHandler registers a handler for its tag. The last registration
// for a tag wins.
func (d *Dispatcher) RegisterHandler(h Handler) error {
	if h == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[h.Tag()] = h
	return nil
}

// RegisterHandlers registers multiple handlers.
func (d *Dispatcher) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := d.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start begins claiming and executing jobs in the background.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	if len(d.handlers) == 0 {
		d.mu.Unlock()
		return ErrNoHandlers
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.stopping.Store(false)

	go d.run()

	d.logger.Info("dispatcher started",
		slog.String("worker_id", d.workerID.String()),
		slog.Int("max_concurrent", cap(d.sem)),
		slog.Duration("lease_duration", d.leaseDuration))

	return nil
}

// Stop gracefully shuts down the dispatcher, draining in-flight handlers.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}

	d.stopMu.Lock()
	d.stopping.Store(true)
	d.stopMu.Unlock()

	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	cancel()

	d.logger.Info("dispatcher stopping, waiting for in-flight jobs",
		slog.String("worker_id", d.workerID.String()))

	d.wg.Wait()

	d.logger.Info("dispatcher stopped",
		slog.String("worker_id", d.workerID.String()))

	return nil
}

// Run starts the dispatcher, blocks until ctx is cancelled, then drains.
// Suitable for errgroup and RunAll.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop()
}

// run is the claim loop. Claims happen inline so per-tag accounting stays
// race-free; execution happens in spawned goroutines. Empty polls back off
// with jitter up to maxIdleInterval to avoid a thundering-herd poll storm.
func (d *Dispatcher) run() {
	idle := d.pollInterval
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timer.C:
			if d.dispatchOne() {
				idle = d.pollInterval
			} else {
				idle = d.nextIdleDelay(idle)
			}
			timer.Reset(idle)
		}
	}
}

// nextIdleDelay doubles the idle delay up to maxIdleInterval and adds up to
// 25% jitter so co-located dispatchers fall out of phase.
func (d *Dispatcher) nextIdleDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > d.maxIdleInterval {
		next = d.maxIdleInterval
	}
	return next + time.Duration(rand.Float64()*0.25*float64(next))
}

// dispatchOne tries to claim and hand off a single job. Returns true when a
// job was claimed.
func (d *Dispatcher) dispatchOne() bool {
	select {
	case d.sem <- struct{}{}:
	default:
		return false // all slots busy
	}

	tags := d.eligibleTags()
	if len(tags) == 0 {
		<-d.sem
		return false
	}

	job, err := d.queue.ClaimNext(d.ctx, d.workerID, tags, d.leaseDuration)
	if err != nil {
		<-d.sem
		if !errors.Is(err, ErrNoJobToClaim) && d.ctx.Err() == nil {
			d.logger.Error("failed to claim job",
				slog.String("worker_id", d.workerID.String()),
				slog.String("error", err.Error()))
		}
		return false
	}

	d.incTagActive(job.Tag)

	// Use stopMu to ensure we don't add to WaitGroup after Stop() starts.
	d.stopMu.Lock()
	if d.stopping.Load() {
		d.stopMu.Unlock()
		d.decTagActive(job.Tag)
		<-d.sem
		return false
	}
	d.wg.Add(1)
	d.stopMu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		defer d.decTagActive(job.Tag)

		d.execute(job)
	}()

	return true
}

// eligibleTags returns registered tags whose per-tag limit has spare
// capacity, so one slow tag cannot starve the others.
func (d *Dispatcher) eligibleTags() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.tagMu.Lock()
	defer d.tagMu.Unlock()

	tags := make([]string, 0, len(d.handlers))
	for tag := range d.handlers {
		if limit, ok := d.tagLimits[tag]; ok && d.tagActive[tag] >= limit {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

func (d *Dispatcher) incTagActive(tag string) {
	d.tagMu.Lock()
	d.tagActive[tag]++
	d.tagMu.Unlock()
}

func (d *Dispatcher) decTagActive(tag string) {
	d.tagMu.Lock()
	d.tagActive[tag]--
	d.tagMu.Unlock()
}

// execute runs the handler for a claimed job and maps the outcome to ack or
// fail. A handler panic is a retryable failure; a poison error or a missing
// handler dead-letters the job.
func (d *Dispatcher) execute(job *Job) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				slog.String("worker_id", d.workerID.String()),
				slog.String("job_id", job.ID.String()),
				slog.String("tag", job.Tag),
				slog.Any("panic", r))
			d.report(job, fmt.Errorf("panic in handler: %v", r), true, time.Since(start))
		}
	}()

	d.mu.RLock()
	handler, ok := d.handlers[job.Tag]
	d.mu.RUnlock()

	if !ok {
		// Retrying cannot conjure a handler; dead-letter for the operator.
		d.logger.Error("no handler registered for tag",
			slog.String("worker_id", d.workerID.String()),
			slog.String("job_id", job.ID.String()),
			slog.String("tag", job.Tag))
		d.report(job, Poison(ErrHandlerNotFound), false, time.Since(start))
		return
	}

	// The execution context is bounded by the lease, not by the dispatcher
	// lifecycle, so graceful shutdown lets in-flight jobs finish.
	ctx, cancel := context.WithTimeout(context.Background(), d.leaseDuration)
	defer cancel()

	err := handler.Handle(ctx, job.Payload)
	duration := time.Since(start)

	if err != nil {
		d.logger.Error("job failed",
			slog.String("worker_id", d.workerID.String()),
			slog.String("job_id", job.ID.String()),
			slog.String("tag", job.Tag),
			slog.Int("attempts", int(job.Attempts)),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		d.report(job, err, true, duration)
		return
	}

	if ackErr := d.queue.Ack(context.Background(), job); ackErr != nil {
		d.logger.Error("failed to ack job",
			slog.String("job_id", job.ID.String()),
			slog.String("error", ackErr.Error()))
		return
	}

	d.logger.Info("job completed",
		slog.String("worker_id", d.workerID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("tag", job.Tag),
		slog.Duration("duration", duration))
}

func (d *Dispatcher) report(job *Job, cause error, retryable bool, duration time.Duration) {
	// Failure reporting uses a fresh context: the dispatcher context may
	// already be cancelled during shutdown.
	if err := d.queue.Fail(context.Background(), job, cause, retryable); err != nil {
		d.logger.Error("failed to report job failure",
			slog.String("job_id", job.ID.String()),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
	}
}

// WorkerID returns the identity this dispatcher claims jobs under.
func (d *Dispatcher) WorkerID() uuid.UUID { return d.workerID }
