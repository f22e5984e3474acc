package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/queue/factory"
)

// rootFlags holds flags shared by every subcommand.
type rootFlags struct {
	backend string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "jobq",
		Short:         "Operator tooling for the jobq background job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.backend, "backend", "",
		"queue backend (postgres, redis, sqlite, memory); defaults to JOBQ_BACKEND")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false,
		"enable debug logging")

	cmd.AddCommand(newJobsCmd(flags))
	return cmd
}

func (f *rootFlags) logger() *slog.Logger {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// withAdmin builds the store for the selected backend, hands an Admin to fn,
// and closes the store afterwards.
func (f *rootFlags) withAdmin(ctx context.Context, fn func(ctx context.Context, admin *queue.Admin) error) error {
	var (
		store queue.Store
		err   error
	)
	if f.backend != "" {
		store, err = factory.NewStoreFor(ctx, f.backend)
	} else {
		store, err = factory.NewStore(ctx)
	}
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	admin, err := queue.NewAdmin(store, queue.WithAdminLogger(f.logger()))
	if err != nil {
		return err
	}
	return fn(ctx, admin)
}
