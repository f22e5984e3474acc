package sqliteq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config contains SQLite parameters populated from the environment via
// pkg/config.
type Config struct {
	Path             string        `env:"JOBQ_SQLITE_PATH,required"`
	BusyTimeout      time.Duration `env:"JOBQ_SQLITE_BUSY_TIMEOUT" envDefault:"5s"`
	LockAttempts     int           `env:"JOBQ_SQLITE_LOCK_ATTEMPTS" envDefault:"10"`
	LockRetryDelay   time.Duration `env:"JOBQ_SQLITE_LOCK_RETRY_DELAY" envDefault:"25ms"`
	LockStaleTimeout time.Duration `env:"JOBQ_SQLITE_LOCK_STALE_TIMEOUT" envDefault:"30s"`
}

var (
	// ErrEmptyPath indicates a missing database file path.
	ErrEmptyPath = errors.New("empty sqlite database path")
	// ErrFailedToOpenDB indicates the database file could not be opened.
	ErrFailedToOpenDB = errors.New("failed to open sqlite database")
	// ErrFailedToApplyMigrations indicates schema setup failed.
	ErrFailedToApplyMigrations = errors.New("failed to apply sqlite migrations")
	// ErrLockTimeout indicates the claim lock could not be acquired within
	// the configured retry budget.
	ErrLockTimeout = errors.New("claim lock acquisition timed out")
)

// Open opens the database in WAL mode, verifies connectivity, and applies
// migrations. Connections are capped at one writer, which is how SQLite
// behaves anyway; the cap turns driver-level busy errors into queueing.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, ErrEmptyPath
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenDB, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrFailedToOpenDB, err)
	}

	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
