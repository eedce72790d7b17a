package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/cadence/pkg/api"
)

func newInstancesCommand(opts *rootOptions) *cobra.Command {
	var (
		typ       string
		reference string
		states    []string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List workflow instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			listOpts := api.InstanceListOptions{
				Type:        api.WorkflowType(typ),
				ReferenceID: reference,
			}
			for _, s := range states {
				st := api.State(s)
				if !st.Valid() {
					return fmt.Errorf("unknown state %q", s)
				}
				listOpts.States = append(listOpts.States, st)
			}

			insts, err := a.Engine.List(ctx, listOpts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), insts)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATE\tVERSION\tUPDATED")
			for _, inst := range insts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					inst.ID, inst.Type, inst.State, inst.Version, inst.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "filter by workflow type (checkin, wizard)")
	cmd.Flags().StringVar(&reference, "reference", "", "filter by reference id")
	cmd.Flags().StringSliceVar(&states, "state", nil, "filter by state (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
