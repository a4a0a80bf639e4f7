package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/cli-runtime/pkg/genericiooptions"

	"github.com/april-dev/sisyphus/internal/executor"
	"github.com/april-dev/sisyphus/internal/logging"
	"github.com/april-dev/sisyphus/internal/objkey"
	"github.com/april-dev/sisyphus/internal/orchestrator"
	"github.com/april-dev/sisyphus/internal/registry"
	"github.com/april-dev/sisyphus/internal/store"
)

const defaultLabelNamespace = "april.dev"

// commonFlags holds the flags shared by every mutation subcommand, each
// falling back to its environment variable per spec.md §6 when unset.
type commonFlags struct {
	databaseURL      string
	monitorDirectory string
	labelNamespace   string
	verbose          bool
}

func addCommonFlags(f *pflag.FlagSet, c *commonFlags, needsMonitorDirectory bool) {
	f.StringVar(&c.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string (env DATABASE_URL)")
	if needsMonitorDirectory {
		f.StringVar(&c.monitorDirectory, "monitor-directory", os.Getenv("MONITOR_DIRECTORY"), "root of the monitored resource tree (env MONITOR_DIRECTORY)")
	}
	labelNamespace := os.Getenv("LABEL_NAMESPACE")
	if labelNamespace == "" {
		labelNamespace = defaultLabelNamespace
	}
	f.StringVar(&c.labelNamespace, "label-namespace", labelNamespace, "namespace prefix used for synthesized labels (env LABEL_NAMESPACE)")
	f.BoolVar(&c.verbose, "verbose", false, "enable debug-level structured logging")
}

func (c *commonFlags) validate(needsMonitorDirectory bool) error {
	if c.databaseURL == "" {
		return fmt.Errorf("--database-url (or DATABASE_URL) is required")
	}
	if needsMonitorDirectory && c.monitorDirectory == "" {
		return fmt.Errorf("--monitor-directory (or MONITOR_DIRECTORY) is required")
	}
	return nil
}

// filterFlags is the PartialKey CLI filter shared by diff/push/refresh
// (optional, narrows the plan) and import/forget (required, names exactly
// one key).
type filterFlags struct {
	apiVersion string
	cluster    string
	kind       string
	name       string
	namespace  string
	nsSet      bool
}

func addFilterFlags(f *pflag.FlagSet, ff *filterFlags) {
	f.StringVar(&ff.apiVersion, "api-version", "", "filter: exact apiVersion match")
	f.StringVar(&ff.cluster, "cluster", "", "filter: exact cluster (kubeconfig context) match")
	f.StringVar(&ff.kind, "kind", "", "filter: exact kind match")
	f.StringVar(&ff.name, "name", "", "filter: exact name match")
	f.StringVar(&ff.namespace, "namespace", "", "filter: exact namespace match")
}

func (ff *filterFlags) partialKey() objkey.PartialKey {
	var pk objkey.PartialKey
	if ff.apiVersion != "" {
		pk.APIVersion = &ff.apiVersion
	}
	if ff.cluster != "" {
		pk.Cluster = &ff.cluster
	}
	if ff.kind != "" {
		pk.Kind = &ff.kind
	}
	if ff.name != "" {
		pk.Name = &ff.name
	}
	if ff.namespace != "" {
		pk.Namespace = &ff.namespace
	}
	return pk
}

func (ff *filterFlags) key() (objkey.Key, error) {
	if ff.apiVersion == "" || ff.cluster == "" || ff.kind == "" || ff.name == "" {
		return objkey.Key{}, fmt.Errorf("--api-version, --cluster, --kind and --name are all required")
	}
	return objkey.Key{
		APIVersion: ff.apiVersion,
		Cluster:    ff.cluster,
		Kind:       ff.kind,
		Name:       ff.name,
		Namespace:  ff.namespace,
	}, nil
}

// buildOrchestrator wires an Orchestrator's collaborators the way every
// mutation subcommand needs them: a database connection, a per-cluster
// Kubernetes client cache, and a registry client pool, all sharing one
// structured logger.
func buildOrchestrator(ctx context.Context, c commonFlags) (*orchestrator.Orchestrator, func(), error) {
	log, sync, err := logging.New(c.verbose)
	if err != nil {
		return nil, func() {}, fmt.Errorf("initializing logging: %w", err)
	}

	st, err := store.Open(ctx, c.databaseURL)
	if err != nil {
		sync()
		return nil, func() {}, fmt.Errorf("connecting to database: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		sync()
		return nil, func() {}, fmt.Errorf("ensuring schema: %w", err)
	}

	clients := executor.NewClients(executor.DefaultConfigLoader, log)
	pool := registry.NewPool(log)

	cleanup := func() {
		_ = st.Close()
		sync()
	}

	return &orchestrator.Orchestrator{
		Clients:        clients,
		Store:          st,
		Registries:     pool,
		Log:            log,
		LabelNamespace: c.labelNamespace,
	}, cleanup, nil
}

func requireStreams(cmd *cobra.Command) genericiooptions.IOStreams {
	return genericiooptions.IOStreams{
		In:     cmd.InOrStdin(),
		Out:    cmd.OutOrStdout(),
		ErrOut: cmd.ErrOrStderr(),
	}
}
