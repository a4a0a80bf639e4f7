package cmd

import (
	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	var common commonFlags
	var filter filterFlags

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile tracked database state with cluster reality, without writing to the cluster.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.validate(false); err != nil {
				return err
			}

			ctx := cmd.Context()
			o, cleanup, err := buildOrchestrator(ctx, common)
			if err != nil {
				return err
			}
			defer cleanup()

			return o.Refresh(ctx, filter.partialKey(), requireStreams(cmd))
		},
	}

	addCommonFlags(cmd.Flags(), &common, false)
	addFilterFlags(cmd.Flags(), &filter)
	return cmd
}
