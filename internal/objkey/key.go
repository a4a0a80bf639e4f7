// Package objkey implements the stable identity of a reconciled object and
// the in-memory containers that group such identities.
package objkey

import (
	"fmt"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/cli-utils/pkg/object"
)

// Key is the immutable quintuple that identifies an object across clusters:
// (api_version, cluster, kind, name, namespace). Cluster names a kubeconfig
// context; Namespace is empty for cluster-scoped objects.
type Key struct {
	APIVersion string
	Cluster    string
	Kind       string
	Name       string
	Namespace  string
}

// String renders the key the way log lines and error messages reference it.
func (k Key) String() string {
	ns := k.Namespace
	if ns == "" {
		ns = "(cluster)"
	}
	return fmt.Sprintf("%s/%s %s/%s@%s", k.APIVersion, k.Kind, ns, k.Name, k.Cluster)
}

// ObjMetadata adapts Key to cli-utils' object identity type, for code that
// prints or measures identities without caring about Cluster (cli-utils has
// no notion of which cluster an object lives in).
func (k Key) ObjMetadata() object.ObjMetadata {
	gv, _ := schema.ParseGroupVersion(k.APIVersion)
	return object.ObjMetadata{
		Namespace: k.Namespace,
		Name:      k.Name,
		GroupKind: schema.GroupKind{Group: gv.Group, Kind: k.Kind},
	}
}

// Less gives Key a total order so resource sets and plans iterate
// deterministically. Namespace-less (cluster-scoped) keys sort as if their
// namespace were the empty string, which already sorts before any non-empty
// namespace.
func (k Key) Less(other Key) bool {
	if k.Cluster != other.Cluster {
		return k.Cluster < other.Cluster
	}
	if k.APIVersion != other.APIVersion {
		return k.APIVersion < other.APIVersion
	}
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}
	if k.Namespace != other.Namespace {
		return k.Namespace < other.Namespace
	}
	return k.Name < other.Name
}

// PartialKey is a filter over Key: every non-nil field must match exactly,
// nil fields never exclude a key.
type PartialKey struct {
	APIVersion *string
	Cluster    *string
	Kind       *string
	Name       *string
	Namespace  *string
}

// Matches implements the filter semantics from the CLI surface: a key
// matches iff every set filter field equals the corresponding key field.
func (f PartialKey) Matches(k Key) bool {
	if f.APIVersion != nil && *f.APIVersion != k.APIVersion {
		return false
	}
	if f.Cluster != nil && *f.Cluster != k.Cluster {
		return false
	}
	if f.Kind != nil && *f.Kind != k.Kind {
		return false
	}
	if f.Name != nil && *f.Name != k.Name {
		return false
	}
	if f.Namespace != nil && *f.Namespace != k.Namespace {
		return false
	}
	return true
}

// IsEmpty reports whether the filter has no fields set, i.e. matches
// everything.
func (f PartialKey) IsEmpty() bool {
	return f.APIVersion == nil && f.Cluster == nil && f.Kind == nil && f.Name == nil && f.Namespace == nil
}
