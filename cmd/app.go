package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/april-dev/sisyphus/internal/configimage"
	"github.com/april-dev/sisyphus/internal/localrun"
	"github.com/april-dev/sisyphus/internal/logging"
	"github.com/april-dev/sisyphus/internal/registry"
)

func newAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Evaluate a configuration program locally and run its binary as a subprocess.",
	}
	cmd.AddCommand(newRunConfigCmd(), newRunImageCmd())
	return cmd
}

func newRunConfigCmd() *cobra.Command {
	var directory, namespace string

	cmd := &cobra.Command{
		Use:                "run-config",
		Short:              "Evaluate a configuration program directly from a local directory and run it.",
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, extra []string) error {
			if directory == "" {
				return fmt.Errorf("--directory is required")
			}
			loaded, err := configimage.LoadFromDirectory(directory, namespace, namespace != "")
			if err != nil {
				return err
			}
			return runApplication(cmd, *loaded, namespace, extra)
		},
	}
	cmd.Flags().StringVar(&directory, "directory", "", "local directory holding index.json and the configuration program")
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace passed to the configuration program's ctx.namespace()")
	return cmd
}

func newRunImageCmd() *cobra.Command {
	var image, namespace string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run-image",
		Short: "Pull and unpack a configuration image, evaluate its program, and run it.",
		RunE: func(cmd *cobra.Command, extra []string) error {
			if image == "" {
				return fmt.Errorf("--image is required")
			}
			log, sync, err := logging.New(verbose)
			if err != nil {
				return err
			}
			defer sync()

			pool := registry.NewPool(log)
			loaded, err := configimage.Load(cmd.Context(), pool, log, image, namespace, namespace != "")
			if err != nil {
				return err
			}
			return runApplication(cmd, *loaded, namespace, extra)
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "configuration image reference")
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace passed to the configuration program's ctx.namespace()")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level structured logging")
	return cmd
}

func runApplication(cmd *cobra.Command, loaded configimage.Loaded, namespace string, extra []string) error {
	argv, err := localrun.RenderArgv(loaded.Application, extra)
	if err != nil {
		return err
	}
	env, err := localrun.RenderEnv(loaded.Application, namespace)
	if err != nil {
		return err
	}

	binaryRef := fmt.Sprintf("%s@%s", loaded.Index.BinaryRepository, loaded.Index.BinaryDigest)
	runner := localrun.ExecRunner{}
	code, err := runner.Run(cmd.Context(), binaryRef, argv, env)
	if err != nil {
		return err
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
