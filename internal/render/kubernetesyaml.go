package render

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/april-dev/sisyphus/internal/objkey"
)

// RenderKubernetesYaml propagates a bag of already-resolved raw manifests
// into the key-indexed map, forbidding inline Namespace objects unless
// allowAnyNamespace, and defaulting each object's namespace to
// defaultNamespace when unset.
func RenderKubernetesYaml(doc KubernetesYaml, cluster string, allowAnyNamespace bool, defaultNamespace string) (map[objkey.Key]*unstructured.Unstructured, error) {
	out := map[objkey.Key]*unstructured.Unstructured{}

	for i := range doc.Objects {
		obj := doc.Objects[i].DeepCopy()
		kind := obj.GetKind()

		if kind == "Namespace" && !allowAnyNamespace {
			return nil, fmt.Errorf("object %q: inline Namespace objects are not allowed here", obj.GetName())
		}

		if obj.GetNamespace() == "" && kind != "Namespace" && defaultNamespace != "" {
			obj.SetNamespace(defaultNamespace)
		}

		key := objkey.Key{
			APIVersion: obj.GetAPIVersion(),
			Cluster:    cluster,
			Kind:       kind,
			Name:       obj.GetName(),
			Namespace:  obj.GetNamespace(),
		}
		out[key] = obj
	}
	return out, nil
}
