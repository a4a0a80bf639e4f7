package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/april-dev/sisyphus/internal/diffengine"
	"github.com/april-dev/sisyphus/internal/printer"
)

func newDiffCmd() *cobra.Command {
	var common commonFlags
	var filter filterFlags

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Print the plan that would bring the cluster to the monitored directory's desired state.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.validate(true); err != nil {
				return err
			}

			ctx := cmd.Context()
			o, cleanup, err := buildOrchestrator(ctx, common)
			if err != nil {
				return err
			}
			defer cleanup()

			streams := requireStreams(cmd)
			actions, changed, err := o.Diff(ctx, common.monitorDirectory, filter.partialKey())
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(streams.Out, "Nothing to do.")
				return nil
			}
			printer.PrintPlanSummary(streams.Out, actions)
			for _, a := range actions {
				if err := diffengine.PrintAction(streams.Out, a); err != nil {
					return err
				}
			}
			return nil
		},
	}

	addCommonFlags(cmd.Flags(), &common, true)
	addFilterFlags(cmd.Flags(), &filter)
	return cmd
}
