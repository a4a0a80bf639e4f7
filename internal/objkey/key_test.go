package objkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func strptr(s string) *string { return &s }

func TestPartialKeyMatches(t *testing.T) {
	k := Key{APIVersion: "apps/v1", Cluster: "c1", Kind: "Deployment", Name: "web", Namespace: "ns1"}

	tests := []struct {
		name   string
		filter PartialKey
		want   bool
	}{
		{"empty filter matches all", PartialKey{}, true},
		{"full exact match", PartialKey{
			APIVersion: strptr("apps/v1"), Cluster: strptr("c1"), Kind: strptr("Deployment"),
			Name: strptr("web"), Namespace: strptr("ns1"),
		}, true},
		{"cluster mismatch fails", PartialKey{Cluster: strptr("c2")}, false},
		{"kind mismatch fails", PartialKey{Kind: strptr("Service")}, false},
		{"partial two-field match succeeds", PartialKey{Kind: strptr("Deployment"), Name: strptr("web")}, true},
		{"namespace mismatch fails", PartialKey{Namespace: strptr("ns2")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(k))
		})
	}
}

func TestPartialKeyMatchesClusterScoped(t *testing.T) {
	k := Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "ns1", Namespace: ""}
	assert.True(t, PartialKey{}.Matches(k))
	assert.True(t, PartialKey{Namespace: strptr("")}.Matches(k))
}

func TestKeyLessOrdersClusterScopedFirst(t *testing.T) {
	clusterScoped := Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "ns1", Namespace: ""}
	namespaced := Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "ns1", Namespace: "x"}
	assert.True(t, clusterScoped.Less(namespaced))
	assert.False(t, namespaced.Less(clusterScoped))
}

func TestKeyLessTotalOrder(t *testing.T) {
	a := Key{Cluster: "a", APIVersion: "v1", Kind: "Pod", Namespace: "ns", Name: "x"}
	b := Key{Cluster: "b", APIVersion: "v1", Kind: "Pod", Namespace: "ns", Name: "x"}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestSetPutRoutesNamespaces(t *testing.T) {
	s := NewSet()
	nsKey := Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "ns1"}
	depKey := Key{APIVersion: "apps/v1", Cluster: "c1", Kind: "Deployment", Name: "web", Namespace: "ns1"}

	require.NoError(t, s.Put(nsKey, &unstructured.Unstructured{}))
	require.NoError(t, s.Put(depKey, &unstructured.Unstructured{}))

	assert.Contains(t, s.Namespaces, nsKey)
	assert.Contains(t, s.ByKey, depKey)
	assert.NotContains(t, s.ByKey, nsKey)
}

func TestSetPutDuplicateKeyErrors(t *testing.T) {
	s := NewSet()
	k := Key{APIVersion: "apps/v1", Cluster: "c1", Kind: "Deployment", Name: "web", Namespace: "ns1"}
	require.NoError(t, s.Put(k, &unstructured.Unstructured{}))
	err := s.Put(k, &unstructured.Unstructured{})
	require.Error(t, err)
	var dup *DuplicateKeyError
	assert.ErrorAs(t, err, &dup)
}

func TestMissingNamespacesSynthesizesOnlyUndeclared(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Put(
		Key{APIVersion: "apps/v1", Cluster: "c1", Kind: "Deployment", Name: "web", Namespace: "ns1"},
		&unstructured.Unstructured{}))
	require.NoError(t, s.Put(
		Key{APIVersion: "apps/v1", Cluster: "c1", Kind: "Deployment", Name: "worker", Namespace: "ns2"},
		&unstructured.Unstructured{}))
	require.NoError(t, s.Put(
		Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "ns1"},
		&unstructured.Unstructured{}))

	missing := s.MissingNamespaces("v1")
	require.Len(t, missing, 1)
	assert.Equal(t, "ns2", missing[0].Name)
	assert.Equal(t, "Namespace", missing[0].Kind)
}

func TestSetFilterMatchesAcrossBothMaps(t *testing.T) {
	s := NewSet()
	depKey := Key{APIVersion: "apps/v1", Cluster: "c1", Kind: "Deployment", Name: "web", Namespace: "ns1"}
	otherKey := Key{APIVersion: "apps/v1", Cluster: "c1", Kind: "Deployment", Name: "worker", Namespace: "ns2"}
	nsKey := Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "ns1"}
	require.NoError(t, s.Put(depKey, &unstructured.Unstructured{}))
	require.NoError(t, s.Put(otherKey, &unstructured.Unstructured{}))
	require.NoError(t, s.Put(nsKey, &unstructured.Unstructured{}))

	filtered := s.Filter(PartialKey{Namespace: strptr("ns1")})
	assert.Contains(t, filtered.ByKey, depKey)
	assert.NotContains(t, filtered.ByKey, otherKey)
	assert.Contains(t, filtered.Namespaces, nsKey)
}

func TestObjMetadataSplitsGroupFromAPIVersion(t *testing.T) {
	deployment := Key{APIVersion: "apps/v1", Cluster: "c1", Kind: "Deployment", Name: "web", Namespace: "ns1"}
	om := deployment.ObjMetadata()
	assert.Equal(t, "apps", om.GroupKind.Group)
	assert.Equal(t, "Deployment", om.GroupKind.Kind)
	assert.Equal(t, "web", om.Name)
	assert.Equal(t, "ns1", om.Namespace)

	pod := Key{APIVersion: "v1", Cluster: "c1", Kind: "Pod", Name: "p", Namespace: "ns1"}
	assert.Equal(t, "", pod.ObjMetadata().GroupKind.Group)
}

func TestSetFilterEmptyKeepsEverything(t *testing.T) {
	s := NewSet()
	depKey := Key{APIVersion: "apps/v1", Cluster: "c1", Kind: "Deployment", Name: "web", Namespace: "ns1"}
	require.NoError(t, s.Put(depKey, &unstructured.Unstructured{}))

	filtered := s.Filter(PartialKey{})
	assert.Len(t, filtered.ByKey, 1)
}
