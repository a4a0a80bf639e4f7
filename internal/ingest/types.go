// Package ingest walks a monitor-directory tree of namespace folders (plus
// the reserved "global" folder) and loads the higher-level documents each
// index.yaml declares, expanding SisyphusYaml indirection and
// KubernetesYaml sources recursively.
package ingest

import "github.com/april-dev/sisyphus/internal/render"

// resourceKey is the duplicate-detection key within one namespace folder:
// (apiVersion, kind, name), matching spec's "duplicate (api_version, kind,
// name) within one namespace is a hard error".
type resourceKey struct {
	APIVersion string
	Kind       string
	Name       string
}

// Resource is a decoded, fully-expanded document. Exactly one field is set.
type Resource struct {
	KubernetesYaml     *render.KubernetesYaml
	SisyphusDeployment *render.SisyphusDeployment
	SisyphusCronJob    *render.SisyphusCronJob
}

// sisyphusYaml is pure indirection: its Sources are recursively loaded as
// more documents and it never itself survives into a Result.
type sisyphusYaml struct {
	APIVersion string
	Metadata   render.Metadata
	Sources    []string
}

// envelope is decoded first from every document to discover its kind before
// committing to a concrete type.
type envelope struct {
	Kind string `json:"kind"`
}

// Result is the fully-expanded, duplicate-checked set of documents loaded
// from a monitor directory: one Resource set per namespace, plus the
// reserved "global" folder's cluster-scoped set.
type Result struct {
	Global      map[resourceKey]Resource
	ByNamespace map[string]map[resourceKey]Resource
}

const globalFolder = "global"
