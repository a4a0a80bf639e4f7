package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/april-dev/sisyphus/internal/objkey"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuildWantSetSynthesizesMissingNamespace(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "team-a", "index.yaml"), `
kind: KubernetesYaml
apiVersion: v1
metadata:
  name: web
clusters: ["c1"]
objects:
  - apiVersion: v1
    kind: ConfigMap
    metadata:
      name: settings
`)

	o := &Orchestrator{}
	set, err := o.BuildWantSet(context.Background(), root)
	require.NoError(t, err)

	cmKey := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "settings", Namespace: "team-a"}
	nsKey := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "team-a"}
	assert.Contains(t, set.ByKey, cmKey)
	assert.Contains(t, set.Namespaces, nsKey)
}

func TestBuildWantSetKeepsExplicitNamespaceObject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "global", "index.yaml"), `
kind: KubernetesYaml
apiVersion: v1
metadata:
  name: namespaces
clusters: ["c1"]
objects:
  - apiVersion: v1
    kind: Namespace
    metadata:
      name: team-a
`)
	writeFile(t, filepath.Join(root, "team-a", "index.yaml"), `
kind: KubernetesYaml
apiVersion: v1
metadata:
  name: web
clusters: ["c1"]
objects:
  - apiVersion: v1
    kind: ConfigMap
    metadata:
      name: settings
`)

	o := &Orchestrator{}
	set, err := o.BuildWantSet(context.Background(), root)
	require.NoError(t, err)

	nsKey := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "team-a"}
	require.Contains(t, set.Namespaces, nsKey)
	assert.Len(t, set.Namespaces, 1)
}
