package cmd

import (
	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericiooptions"
)

// NewRootCmd builds the engine's root cobra.Command: diff/push/import/
// forget/refresh against the tracked database and cluster state, plus the
// app run-config/run-image local-execution helpers. streams is propagated
// to every subcommand via cobra's own In/Out/Err chain.
func NewRootCmd(streams genericiooptions.IOStreams) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sisyphus",
		Short:         "Reconcile Kubernetes resources rendered from configuration images against a tracked database state.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetIn(streams.In)
	rootCmd.SetOut(streams.Out)
	rootCmd.SetErr(streams.ErrOut)

	rootCmd.AddCommand(
		newDiffCmd(),
		newPushCmd(),
		newImportCmd(),
		newForgetCmd(),
		newRefreshCmd(),
		newAppCmd(),
	)
	return rootCmd
}
