// Package queue provides a durable background job queue with at-least-once
// delivery, lease-based crash recovery, retry with configurable backoff, and
// per-tag priority ordering.
//
// The package is organised around four components:
//
//   - Queue      — the facade all producers and workers use (Enqueue,
//     ClaimNext, Ack, Fail, Cancel)
//   - Dispatcher — a worker pool that claims jobs and routes them to
//     registered handlers by tag
//   - Reaper     — a background sweep that returns lease-expired jobs to the
//     available pool
//   - Admin      — operator-facing maintenance (tidy, purge, dump, import,
//     requeue)
//
// All persistence goes through the Store interface. Three production
// implementations exist — pgq (PostgreSQL, FOR UPDATE SKIP LOCKED), redisq
// (Redis lists/zsets with scripted atomic claims), and sqliteq (SQLite with
// an application-level lock table) — plus MemoryStore in this package for
// tests and local development. Each store guarantees the same externally
// observable semantics: no two concurrent claimers ever obtain the same job,
// and an abandoned claim becomes visible again once its lease expires.
//
// # Usage
//
//	store := queue.NewMemoryStore()
//	q, _ := queue.New(store)
//
//	id, _ := q.Enqueue(ctx, "email", payload,
//	    queue.WithPriority(queue.PriorityHigh),
//	    queue.WithDelay(time.Minute),
//	)
//
//	d, _ := queue.NewDispatcher(q,
//	    queue.WithMaxConcurrentJobs(8),
//	    queue.WithTagLimit("report", 1),
//	)
//	_ = d.RegisterHandler(queue.NewHandler("email", sendEmail))
//
//	r, _ := queue.NewReaper(store)
//	_ = queue.RunAll(ctx, d, r)
//
// Handlers must tolerate re-execution: a lease expiry never cancels the
// original handler, it only makes the job claimable by someone else.
package queue
