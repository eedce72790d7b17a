package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, worker and status API",
		Long: `Run the periodic tick, the queue worker and the read-only status API
in one process until interrupted.

Examples:
  # SQLite in the current directory, status API on :8080
  cadence serve

  # Redis-backed store and queue on a custom port
  cadence serve --storage redis --addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().String("addr", ":8080", "status API listen address")
	cmd.Flags().Duration("tick-interval", 0, "tick interval (default from config)")
	_ = opts.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = opts.v.BindPFlag("schedule.tick_interval", cmd.Flags().Lookup("tick-interval"))
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts.logger.Info("cadence_started", "version", appVersion)
	return a.Serve(ctx)
}
