// Package executor resolves per-cluster Kubernetes clients and carries out
// the create/patch/recreate/delete actions a diff plan calls for.
package executor

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/april-dev/sisyphus/internal/objkey"
)

// Manager is the field manager used for every server-side apply this
// package issues.
const Manager = "sisyphus"

// ConfigLoader resolves a kubeconfig context name to a rest.Config. The
// default loader reads the process's kubeconfig; tests supply a fake.
type ConfigLoader func(contextName string) (*rest.Config, error)

// DefaultConfigLoader builds a rest.Config for contextName from the
// kubeconfig the process would otherwise use (KUBECONFIG or
// ~/.kube/config), the same source clientcmd.BuildConfigFromFlags reads in
// a single-context program.
func DefaultConfigLoader(contextName string) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{CurrentContext: contextName}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

type clusterClient struct {
	dyn    dynamic.Interface
	mapper meta.RESTMapper
}

// Clients caches one dynamic client and REST mapper per kubeconfig context
// for the life of a run. Discovery runs at most once per cluster: the
// underlying mapper is a memory-cached deferred mapper built the first time
// a cluster is seen and reused for every later lookup against it.
type Clients struct {
	mu     sync.Mutex
	byName map[string]clusterClient
	load   ConfigLoader
	log    logr.Logger
}

// NewClients returns a Clients cache backed by load, which resolves a
// kubeconfig context name to a rest.Config.
func NewClients(load ConfigLoader, log logr.Logger) *Clients {
	return &Clients{byName: map[string]clusterClient{}, load: load, log: log}
}

func (c *Clients) forCluster(cluster string) (clusterClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.byName[cluster]; ok {
		return cc, nil
	}

	cfg, err := c.load(cluster)
	if err != nil {
		return clusterClient{}, fmt.Errorf("loading kubeconfig context %q: %w", cluster, err)
	}

	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return clusterClient{}, fmt.Errorf("building dynamic client for %q: %w", cluster, err)
	}

	disc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return clusterClient{}, fmt.Errorf("building discovery client for %q: %w", cluster, err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(disc))

	c.log.V(1).Info("discovered cluster", "cluster", cluster)

	cc := clusterClient{dyn: dyn, mapper: mapper}
	c.byName[cluster] = cc
	return cc, nil
}

// Resource resolves key to the dynamic.ResourceInterface that serves it,
// along with whether the RESTMapping says the kind is namespaced. It resets
// the cluster's mapper and retries once on a mapping miss, the same
// self-healing restmapper.Reset dance a single-cluster apply does.
func (c *Clients) Resource(key objkey.Key) (resource dynamic.NamespaceableResourceInterface, namespaced bool, err error) {
	cc, err := c.forCluster(key.Cluster)
	if err != nil {
		return nil, false, err
	}

	gv, err := schema.ParseGroupVersion(key.APIVersion)
	if err != nil {
		return nil, false, fmt.Errorf("parsing apiVersion %q: %w", key.APIVersion, err)
	}

	mapping, err := cc.mapper.RESTMapping(gv.WithKind(key.Kind).GroupKind(), gv.Version)
	if err != nil {
		cc.mapper.Reset()
		mapping, err = cc.mapper.RESTMapping(gv.WithKind(key.Kind).GroupKind(), gv.Version)
		if err != nil {
			return nil, false, fmt.Errorf("mapping %s %s in cluster %q: %w", key.APIVersion, key.Kind, key.Cluster, err)
		}
	}

	return cc.dyn.Resource(mapping.Resource), mapping.Scope.Name() == meta.RESTScopeNameNamespace, nil
}

// seed installs a preconstructed client/mapper pair for cluster, bypassing
// forCluster's discovery dial. Used by tests to exercise Resource/Execute
// against a fake dynamic client and a static REST mapper.
func (c *Clients) seed(cluster string, dyn dynamic.Interface, mapper meta.RESTMapper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[cluster] = clusterClient{dyn: dyn, mapper: mapper}
}

// SeedForTesting exposes seed to other packages' tests (the orchestrator
// package in particular), so they can drive a Clients against a fake
// dynamic client and a static REST mapper without a real cluster.
func (c *Clients) SeedForTesting(cluster string, dyn dynamic.Interface, mapper meta.RESTMapper) {
	c.seed(cluster, dyn, mapper)
}
