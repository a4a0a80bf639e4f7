package cmd

import (
	"github.com/spf13/cobra"
)

func newForgetCmd() *cobra.Command {
	var common commonFlags
	var filter filterFlags

	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Stop tracking a single key, without touching the cluster.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.validate(false); err != nil {
				return err
			}
			key, err := filter.key()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			o, cleanup, err := buildOrchestrator(ctx, common)
			if err != nil {
				return err
			}
			defer cleanup()

			return o.Forget(ctx, key)
		},
	}

	addCommonFlags(cmd.Flags(), &common, false)
	addFilterFlags(cmd.Flags(), &filter)
	return cmd
}
