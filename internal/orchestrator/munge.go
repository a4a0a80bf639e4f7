package orchestrator

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/april-dev/sisyphus/internal/merge"
	"github.com/april-dev/sisyphus/internal/objkey"
)

// MungeOptions toggles the two independent rewrites MungeIgnoredFields can
// apply to a have/want pair before it reaches the diff engine. push runs
// with both set; refresh runs with only MungeSecretData, since refresh never
// writes anything back to the cluster and so has nothing to push through a
// managed-field projection.
type MungeOptions struct {
	MungeManagedFields bool
	MungeSecretData    bool
}

const secretPlaceholder = "c29tZSBzdHVmZg=="

// MungeIgnoredFields rewrites every have object that has a want counterpart
// so that the diff engine only ever sees drift this engine cares about:
// fields owned by other controllers (MungeManagedFields) and secret values
// (MungeSecretData) are suppressed rather than diffed.
func MungeIgnoredFields(have, want *objkey.Set, opts MungeOptions) error {
	for key, w := range want.ByKey {
		if h, ok := have.ByKey[key]; ok {
			if err := mungeSingle(h, w, key, opts); err != nil {
				return fmt.Errorf("munging %s: %w", key, err)
			}
		}
	}
	for key, w := range want.Namespaces {
		if h, ok := have.Namespaces[key]; ok {
			if err := mungeSingle(h, w, key, opts); err != nil {
				return fmt.Errorf("munging %s: %w", key, err)
			}
		}
	}
	return nil
}

func mungeSingle(have, want *unstructured.Unstructured, key objkey.Key, opts MungeOptions) error {
	if opts.MungeSecretData && key.Kind == "Secret" {
		mungeSecretData(have, want)
	}

	if opts.MungeManagedFields {
		if err := mungeManagedFields(have, want, key); err != nil {
			return err
		}
	}

	return nil
}

// mungeSecretData copies the live data values onto want so that secret
// contents dragged in from the cluster never show up as a diff; only the
// key set, not the values, is allowed to differ.
func mungeSecretData(have, want *unstructured.Unstructured) {
	haveData, _, _ := unstructured.NestedMap(have.Object, "data")
	wantData, found, _ := unstructured.NestedMap(want.Object, "data")
	if !found {
		return
	}
	for k := range wantData {
		if hv, ok := haveData[k]; ok {
			wantData[k] = hv
		}
	}
	_ = unstructured.SetNestedMap(want.Object, wantData, "data")
}

// mungeManagedFields rewrites want in place by merging it against have
// under this engine's own field-manager tree: fields want already sets win,
// fields want dropped but this engine used to own are cleared, and every
// other field is carried forward from have untouched. This is
// copy_unmanaged_fields, not the clear_unmanaged_fields stripper — the diff
// engine ends up comparing have against a want that already agrees with it
// on everything this engine doesn't manage, so only genuine drift in owned
// fields produces a patch.
func mungeManagedFields(have, want *unstructured.Unstructured, key objkey.Key) error {
	managedFields, _, _ := unstructured.NestedSlice(have.Object, "metadata", "managedFields")
	tree, err := merge.ExtractManagedTree(managedFields, Manager)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	stripSystemMetadata(have)

	merged, _ := merge.Merge(have.Object, want.Object, tree)
	mergedMap, ok := merged.(map[string]interface{})
	if !ok {
		mergedMap = map[string]interface{}{}
	}
	want.Object = mergedMap
	return nil
}

// stripSystemMetadata removes metadata the cluster assigns and this engine
// never tracks via SSA field ownership, so it neither leaks into a merged
// want nor shows up as spurious diff noise against it.
func stripSystemMetadata(obj *unstructured.Unstructured) {
	for _, field := range []string{"resourceVersion", "uid", "managedFields", "creationTimestamp", "generation"} {
		unstructured.RemoveNestedField(obj.Object, "metadata", field)
	}
}

// ScrubSecretData rewrites a freshly imported Secret's data in place so that
// real secret material never reaches the database. prior is the Secret's
// previously stored version, if any (nil on first import).
func ScrubSecretData(obj *unstructured.Unstructured, prior *unstructured.Unstructured) {
	if obj.GetKind() != "Secret" {
		return
	}

	data, _, _ := unstructured.NestedMap(obj.Object, "data")
	var priorData map[string]interface{}
	if prior != nil {
		priorData, _, _ = unstructured.NestedMap(prior.Object, "data")
	}

	for k := range data {
		if priorData != nil {
			if pv, ok := priorData[k]; ok {
				data[k] = pv
				continue
			}
		}
		data[k] = secretPlaceholder
	}
	if len(data) > 0 {
		_ = unstructured.SetNestedMap(obj.Object, data, "data")
	}

	stringData, found, _ := unstructured.NestedMap(obj.Object, "stringData")
	if !found {
		return
	}
	for k := range stringData {
		if _, ok := priorData[k]; ok {
			delete(stringData, k)
		}
	}
	if len(stringData) == 0 {
		unstructured.RemoveNestedField(obj.Object, "stringData")
		return
	}
	_ = unstructured.SetNestedMap(obj.Object, stringData, "stringData")
}
