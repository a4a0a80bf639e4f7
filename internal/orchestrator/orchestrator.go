// Package orchestrator composes the other components into the diff, push,
// import, forget and refresh commands: one linear pipeline per command,
// with no internal state that outlives a single run.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/april-dev/sisyphus/internal/configimage"
	"github.com/april-dev/sisyphus/internal/executor"
	"github.com/april-dev/sisyphus/internal/ingest"
	"github.com/april-dev/sisyphus/internal/objkey"
	"github.com/april-dev/sisyphus/internal/registry"
	"github.com/april-dev/sisyphus/internal/render"
	"github.com/april-dev/sisyphus/internal/store"
)

// Orchestrator holds the long-lived, process-scoped collaborators every
// command's pipeline is built from.
type Orchestrator struct {
	Clients        *executor.Clients
	Store          *store.Store
	Registries     *registry.Pool
	Log            logr.Logger
	LabelNamespace string
}

// BuildWantSet walks monitorDirectory (C6), resolves each document into
// fully-qualified objects (C5, pulling configuration images through C3/C4
// as needed), and synthesizes a bare Namespace object for every referenced
// namespace that has none of its own.
func (o *Orchestrator) BuildWantSet(ctx context.Context, monitorDirectory string) (*objkey.Set, error) {
	result, err := ingest.Walk(monitorDirectory, false)
	if err != nil {
		return nil, err
	}

	set := objkey.NewSet()

	for _, res := range result.Global {
		if err := o.renderResource(ctx, set, res, true, ""); err != nil {
			return nil, fmt.Errorf("rendering global resource: %w", err)
		}
	}
	for ns, resources := range result.ByNamespace {
		for _, res := range resources {
			if err := o.renderResource(ctx, set, res, false, ns); err != nil {
				return nil, fmt.Errorf("rendering resource in namespace %q: %w", ns, err)
			}
		}
	}

	for _, key := range set.MissingNamespaces("v1") {
		ns := &unstructured.Unstructured{Object: map[string]interface{}{
			"apiVersion": "v1",
			"kind":       "Namespace",
			"metadata":   map[string]interface{}{"name": key.Name},
		}}
		if err := set.Put(key, ns); err != nil {
			return nil, err
		}
	}

	return set, nil
}

func (o *Orchestrator) renderResource(ctx context.Context, set *objkey.Set, res ingest.Resource, allowAnyNamespace bool, defaultNamespace string) error {
	switch {
	case res.KubernetesYaml != nil:
		doc := res.KubernetesYaml
		for _, cluster := range doc.Clusters {
			objs, err := render.RenderKubernetesYaml(*doc, cluster, allowAnyNamespace, defaultNamespace)
			if err != nil {
				return err
			}
			if err := putAll(set, objs); err != nil {
				return err
			}
		}
		return nil

	case res.SisyphusDeployment != nil:
		doc := res.SisyphusDeployment
		loaded, err := o.loadConfigImage(ctx, doc.Config, doc.Metadata.Namespace)
		if err != nil {
			return fmt.Errorf("loading configuration image for %q: %w", doc.Metadata.Name, err)
		}
		objs, err := render.RenderSisyphusDeployment(*doc, *loaded, o.LabelNamespace)
		if err != nil {
			return err
		}
		return putAll(set, objs)

	case res.SisyphusCronJob != nil:
		doc := res.SisyphusCronJob
		loaded, err := o.loadConfigImage(ctx, doc.Config, doc.Metadata.Namespace)
		if err != nil {
			return fmt.Errorf("loading configuration image for %q: %w", doc.Metadata.Name, err)
		}
		objs, err := render.RenderSisyphusCronJob(*doc, *loaded, o.LabelNamespace)
		if err != nil {
			return err
		}
		return putAll(set, objs)

	default:
		return fmt.Errorf("resource has no kind set")
	}
}

func (o *Orchestrator) loadConfigImage(ctx context.Context, cfg render.DeploymentConfig, namespace string) (*configimage.Loaded, error) {
	return configimage.Load(ctx, o.Registries, o.Log, cfg.Image, namespace, namespace != "")
}

func putAll(set *objkey.Set, objs map[objkey.Key]*unstructured.Unstructured) error {
	for key, obj := range objs {
		if err := set.Put(key, obj); err != nil {
			return err
		}
	}
	return nil
}
