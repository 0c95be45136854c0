package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	zfshttp "github.com/vansante/go-bootenv/http"
	"github.com/vansante/go-bootenv/job"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var withJobs bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the boot environment HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			server, err := zfshttp.NewHTTP(ctx, a.engine, a.config.HTTP, a.logger)
			if err != nil {
				return fmt.Errorf("error starting HTTP server: %w", err)
			}
			if withJobs {
				runner, err := job.NewRunner(ctx, a.engine, a.config.Jobs, a.logger)
				if err != nil {
					return err
				}
				runner.Run()
			}

			go server.Serve()
			<-ctx.Done()

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&withJobs, "jobs", false, "Also run the policy jobs")
	return cmd
}

func newRunJobsCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run-jobs",
		Short: "Create and prune policy snapshots and volatile boot environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			runner, err := job.NewRunner(ctx, a.engine, a.config.Jobs, a.logger)
			if err != nil {
				return err
			}
			if once {
				return runner.RunOnce()
			}

			runner.Run()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run every job a single time and exit")
	return cmd
}
