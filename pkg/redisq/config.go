package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config contains Redis connection parameters populated from the
// environment via pkg/config.
type Config struct {
	ConnectionURL  string        `env:"JOBQ_REDIS_URL,required"`
	KeyPrefix      string        `env:"JOBQ_REDIS_KEY_PREFIX" envDefault:"jobq"`
	RetryAttempts  int           `env:"JOBQ_REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"JOBQ_REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"JOBQ_REDIS_CONNECT_TIMEOUT" envDefault:"10s"`
}

var (
	// ErrFailedToParseRedisConnString indicates a malformed connection URL.
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	// ErrRedisNotReady indicates the server did not answer PING within the
	// configured retry budget.
	ErrRedisNotReady = errors.New("redis is not ready")
	// ErrEmptyConnectionURL indicates a missing connection URL.
	ErrEmptyConnectionURL = errors.New("empty redis connection url")
)

// Connect opens a Redis client and verifies the connection with PING,
// retrying on a fixed interval until the attempt budget is exhausted.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	client := redis.NewClient(opts)

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return client, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrRedisNotReady, fmt.Errorf("after %d attempts: %w", attempts, lastErr))
}
