// Package redisq implements the queue.Store contract on Redis.
//
// Each job lives in a hash; per-tag ready and delayed zsets order claimable
// work; a global processing zset keyed by lease expiry drives the reaper;
// per-status zsets keyed by update time serve the admin operations. Every
// state transition that must be atomic — claim, ack, fail, reap, cancel,
// requeue — runs as a single server-side Lua script, so a crash between
// steps can't strand a job: an entry either stays visible to claimers or
// sits in the processing zset where the reaper will find it.
//
// Ready-zset scores encode (priority desc, run_at asc) in one float:
// (100 - priority) * 1e13 + run_at_unix_ms. Priorities are bounded 0..100
// and millisecond timestamps stay well below 1e13, so the two components
// never collide.
package redisq
