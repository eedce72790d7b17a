package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrijr/cadence/internal/fanout"
	"github.com/petrijr/cadence/pkg/api"
)

func newDispatchCommand(opts *rootOptions) *cobra.Command {
	var (
		backlogFile string
		noDrain     bool
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Fan a stale-item backlog out to owners",
		Long: `Read a JSON array of assignment-group backlogs, split it into bounded
owner jobs and enqueue them. Unless --no-drain is set the jobs are
processed before the command exits.

Examples:
  cadence dispatch --backlog backlog.json

  # Enqueue only; a running 'cadence serve' on the same queue picks them up
  cadence dispatch --backlog backlog.json --no-drain`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backlog, err := readBacklog(backlogFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.Dispatch(ctx, backlog)
			if err != nil {
				return err
			}
			out := []api.RunSummary{*sum}
			if !noDrain {
				if err := a.Drain(ctx); err != nil {
					return err
				}
				out = append(out, a.Summaries.Recent(api.SummaryJob, sum.Counts["jobs"])...)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&backlogFile, "backlog", "", "backlog JSON file")
	cmd.Flags().BoolVar(&noDrain, "no-drain", false, "enqueue jobs without processing them")
	cmd.Flags().Int("owner-batch-limit", 0, "max items per owner job (default from config)")
	cmd.Flags().Int("owner-job-limit", 0, "max owner jobs per dispatch (default from config)")
	_ = cmd.MarkFlagRequired("backlog")
	_ = opts.v.BindPFlag("fanout.owner_batch_limit", cmd.Flags().Lookup("owner-batch-limit"))
	_ = opts.v.BindPFlag("fanout.owner_job_limit", cmd.Flags().Lookup("owner-job-limit"))
	return cmd
}

func readBacklog(path string) ([]fanout.GroupBacklog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading backlog: %w", err)
	}
	var backlog []fanout.GroupBacklog
	if err := json.Unmarshal(data, &backlog); err != nil {
		return nil, fmt.Errorf("parsing backlog %s: %w", path, err)
	}
	return backlog, nil
}
