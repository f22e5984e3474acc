// Package factory builds a queue.Store from environment configuration. It
// is the only place in the codebase that branches on the backend kind;
// everything above it speaks queue.Store.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrymomot/jobq/pkg/config"
	"github.com/dmitrymomot/jobq/pkg/pgq"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/redisq"
	"github.com/dmitrymomot/jobq/pkg/sqliteq"
)

// Backend identifiers accepted in JOBQ_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config selects the backend. Backend-specific settings are loaded lazily,
// so a Redis deployment never needs Postgres variables set.
type Config struct {
	Backend string `env:"JOBQ_BACKEND" envDefault:"memory"`
}

// NewStore builds the store named by JOBQ_BACKEND, connecting and migrating
// as the backend requires.
func NewStore(ctx context.Context) (queue.Store, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return NewStoreFor(ctx, cfg.Backend)
}

// NewStoreFor builds a store for an explicit backend name.
func NewStoreFor(ctx context.Context, backend string) (queue.Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendPostgres:
		var cfg pgq.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pgq.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pgq.Migrate(ctx, pool, cfg); err != nil {
			pool.Close()
			return nil, err
		}
		return pgq.New(pool)

	case BackendRedis:
		var cfg redisq.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := redisq.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return redisq.New(client, cfg.KeyPrefix)

	case BackendSQLite:
		var cfg sqliteq.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		db, err := sqliteq.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return sqliteq.New(db, cfg)

	case BackendMemory:
		return queue.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", backend)
	}
}
