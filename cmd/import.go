package cmd

import (
	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	var common commonFlags
	var filter filterFlags

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Read a single object from the cluster, scrub its secret data, and start tracking it.",
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

			return o.Import(ctx, key)
		},
	}

	addCommonFlags(cmd.Flags(), &common, false)
	addFilterFlags(cmd.Flags(), &filter)
	return cmd
}
