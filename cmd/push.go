package cmd

import (
	"github.com/spf13/cobra"
)

func newPushCmd() *cobra.Command {
	var common commonFlags
	var filter filterFlags

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Diff the monitored directory against tracked state and, after confirmation, apply the plan.",
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

			return o.Push(ctx, common.monitorDirectory, filter.partialKey(), requireStreams(cmd))
		},
	}

	addCommonFlags(cmd.Flags(), &common, true)
	addFilterFlags(cmd.Flags(), &filter)
	return cmd
}
