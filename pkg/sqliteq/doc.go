// Package sqliteq implements the queue.Store contract on SQLite for
// embedded and single-node deployments.
//
// SQLite has no row-level locking, so claim exclusivity comes from an
// application-level lock table: a claimer must first take ownership of the
// single jobq_lock row, then select and update the best eligible job in one
// transaction, then release the row. Lock acquisition busy-retries a bounded
// number of times and takes over locks held past a staleness window, so a
// claimer that dies mid-claim only stalls the queue briefly.
package sqliteq
