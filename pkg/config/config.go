// Package config loads typed configuration structs from environment
// variables. A .env file in the working directory is loaded once, if
// present, before the first parse.
//
// Config structs declare their environment bindings with struct tags:
//
//	type WorkerConfig struct {
//	    PollInterval time.Duration `env:"JOBQ_POLL_INTERVAL" envDefault:"2s"`
//	    Backend      string        `env:"JOBQ_BACKEND,required"`
//	}
package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrNilPointer is returned when a nil pointer is passed to Load.
	ErrNilPointer = errors.New("nil pointer provided to config loader")

	// ErrParsingConfig is returned when environment variables cannot be
	// parsed into the config struct.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
)

var dotenvOnce sync.Once

// Load parses environment variables into the provided config struct.
// Missing .env files are not an error; only parse failures are reported.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		// The .env file is optional and only a development convenience.
		_ = godotenv.Load()
	})

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics on failure. Intended for
// configuration without which the process cannot start.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
