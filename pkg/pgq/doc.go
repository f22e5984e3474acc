// Package pgq implements the queue.Store contract on PostgreSQL.
//
// Claiming is a single UPDATE over a FOR UPDATE SKIP LOCKED subquery, which
// gives mutual exclusion across any number of worker processes without a
// separate coordination service: concurrent claimers simply skip rows
// another transaction already locked. All other operations are independent
// single-row statements.
//
// The schema is managed with embedded goose migrations; call Migrate once at
// startup.
package pgq
