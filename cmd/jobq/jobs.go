package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

func newJobsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage job records",
	}
	cmd.AddCommand(
		newJobsCancelCmd(flags),
		newJobsTidyCmd(flags),
		newJobsPurgeCmd(flags),
		newJobsDumpCmd(flags),
		newJobsImportCmd(flags),
		newJobsRequeueCmd(flags),
	)
	return cmd
}

func newJobsCancelCmd(flags *rootFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a job that has not started running",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(name)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", name, err)
			}
			return flags.withAdmin(cmd.Context(), func(ctx context.Context, admin *queue.Admin) error {
				return admin.Cancel(ctx, jobID)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job id to cancel")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newJobsTidyCmd(flags *rootFlags) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "tidy",
		Short: "Delete completed and cancelled jobs past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withAdmin(cmd.Context(), func(ctx context.Context, admin *queue.Admin) error {
				n, err := admin.Tidy(ctx, retention)
				if err != nil {
					return err
				}
				cmd.Printf("deleted %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 7*24*time.Hour,
		"keep completed and cancelled jobs younger than this")
	return cmd
}

func newJobsPurgeCmd(flags *rootFlags) *cobra.Command {
	var (
		maxAge time.Duration
		dump   bool
		folder string
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead jobs older than --max-age, optionally exporting first",
		RunE: func(cmd *cobra.Command, args []string) error {
			dumpDir := ""
			if dump {
				dumpDir = folder
			}
			return flags.withAdmin(cmd.Context(), func(ctx context.Context, admin *queue.Admin) error {
				n, err := admin.Purge(ctx, maxAge, dumpDir)
				if err != nil {
					return err
				}
				cmd.Printf("purged %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 90*24*time.Hour,
		"delete dead jobs older than this")
	cmd.Flags().BoolVar(&dump, "dump", false,
		"export purged jobs to a file before deleting")
	cmd.Flags().StringVar(&folder, "folder", "./dumps",
		"folder for the export file when --dump is set")
	return cmd
}

func newJobsDumpCmd(flags *rootFlags) *cobra.Command {
	var (
		statusStr string
		folder    string
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Export all jobs with a given status to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := queue.ParseStatus(statusStr)
			if err != nil {
				return err
			}
			return flags.withAdmin(cmd.Context(), func(ctx context.Context, admin *queue.Admin) error {
				path, n, err := admin.Dump(ctx, status, folder)
				if err != nil {
					return err
				}
				cmd.Printf("wrote %d job(s) to %s\n", n, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statusStr, "status", "", "job status to export (e.g. dead)")
	cmd.Flags().StringVar(&folder, "folder", "./dumps", "destination folder")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newJobsImportCmd(flags *rootFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import jobs from a dump file, preserving ids and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withAdmin(cmd.Context(), func(ctx context.Context, admin *queue.Admin) error {
				n, err := admin.Import(ctx, file)
				if err != nil {
					return err
				}
				cmd.Printf("imported %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "dump file to import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newJobsRequeueCmd(flags *rootFlags) *cobra.Command {
	var fromAge time.Duration

	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Move stale dead and retrying jobs back to available",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withAdmin(cmd.Context(), func(ctx context.Context, admin *queue.Admin) error {
				n, err := admin.Requeue(ctx, fromAge)
				if err != nil {
					return err
				}
				cmd.Printf("requeued %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&fromAge, "from-age", time.Hour,
		"requeue jobs last touched longer ago than this")
	return cmd
}
