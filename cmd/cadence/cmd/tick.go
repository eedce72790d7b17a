package cmd

import (
	"github.com/spf13/cobra"
)

func newTickCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduling pass and exit",
		Long: `Start due check-ins, send reminders, finalize closed runs and expire
stale instances once. The pass summaries are printed as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sums, tickErr := a.Tick(ctx)
			if err := a.Drain(ctx); err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), sums); err != nil {
				return err
			}
			return tickErr
		},
	}
}
