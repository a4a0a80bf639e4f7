package executor

import (
	"bytes"
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/meta/testrestmapper"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/dynamic/fake"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"

	"github.com/april-dev/sisyphus/internal/diffengine"
	"github.com/april-dev/sisyphus/internal/objkey"
	"github.com/april-dev/sisyphus/internal/store"
)

func testScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	return scheme
}

func newTestClients(t *testing.T, cluster string, objs ...runtime.Object) *Clients {
	t.Helper()
	scheme := testScheme()
	mapper := testrestmapper.TestOnlyStaticRESTMapper(scheme, scheme.PrioritizedVersionsAllGroups()...)
	dyn := fake.NewSimpleDynamicClient(scheme, objs...)
	c := NewClients(nil, logr.Discard())
	c.seed(cluster, dyn, mapper)
	return c
}

func configMap(ns, name string, data map[string]interface{}) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata":   map[string]interface{}{"name": name, "namespace": ns},
		"data":       data,
	}}
}

func TestResourceReportsNamespacedScope(t *testing.T) {
	clients := newTestClients(t, "c1")
	key := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "cfg", Namespace: "ns"}

	_, namespaced, err := clients.Resource(key)
	require.NoError(t, err)
	assert.True(t, namespaced)
}

func TestResourceReportsClusterScope(t *testing.T) {
	clients := newTestClients(t, "c1")
	key := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "ns1"}

	_, namespaced, err := clients.Resource(key)
	require.NoError(t, err)
	assert.False(t, namespaced)
}

func TestValidateScopesRejectsMissingNamespace(t *testing.T) {
	clients := newTestClients(t, "c1")
	actions := []diffengine.Action{
		{Kind: diffengine.ActionCreate, Key: objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "cfg"}},
	}
	err := ValidateScopes(clients, actions)
	assert.ErrorContains(t, err, "namespaced kind carries no namespace")
}

func TestValidateScopesRejectsExtraNamespace(t *testing.T) {
	clients := newTestClients(t, "c1")
	actions := []diffengine.Action{
		{Kind: diffengine.ActionCreate, Key: objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "Namespace", Name: "ns1", Namespace: "oops"}},
	}
	err := ValidateScopes(clients, actions)
	assert.ErrorContains(t, err, "cluster-scoped kind carries namespace")
}

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return store.NewForTesting(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestExecuteCreateAppliesAndInserts(t *testing.T) {
	clients := newTestClients(t, "c1")
	st, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO kubernetes_objects").WillReturnResult(sqlmock.NewResult(1, 1))

	key := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "cfg", Namespace: "ns"}
	actions := []diffengine.Action{
		{Kind: diffengine.ActionCreate, Key: key, Want: configMap("ns", "cfg", map[string]interface{}{"a": "1"})},
	}

	var out bytes.Buffer
	require.NoError(t, Execute(context.Background(), clients, st, actions, &out))
	require.NoError(t, mock.ExpectationsWereMet())

	fetched, namespaced, err := clients.Resource(key)
	require.NoError(t, err)
	require.True(t, namespaced)
	got, err := fetched.Namespace("ns").Get(context.Background(), "cfg", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cfg", got.GetName())
}

func TestExecuteDeletesAfterAllActionsWait(t *testing.T) {
	clients := newTestClients(t, "c1", configMap("ns", "cfg", nil))
	st, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM kubernetes_objects").WillReturnResult(sqlmock.NewResult(0, 1))

	key := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "cfg", Namespace: "ns"}
	actions := []diffengine.Action{
		{Kind: diffengine.ActionDelete, Key: key, Have: configMap("ns", "cfg", nil)},
	}

	var out bytes.Buffer
	require.NoError(t, Execute(context.Background(), clients, st, actions, &out))
	require.NoError(t, mock.ExpectationsWereMet())

	resource, _, err := clients.Resource(key)
	require.NoError(t, err)
	_, err = resource.Namespace("ns").Get(context.Background(), "cfg", metav1.GetOptions{})
	assert.Error(t, err)
}

func TestWaitLensOnlyCountsDeletesAndRecreates(t *testing.T) {
	actions := []diffengine.Action{
		{Kind: diffengine.ActionCreate, Key: objkey.Key{Kind: "ConfigMap", Name: "cfg", Namespace: "ns"}},
		{Kind: diffengine.ActionDelete, Key: objkey.Key{Kind: "Deployment", Name: "web", Namespace: "team-a"}},
	}
	lens := waitLens(actions)
	assert.Equal(t, len("team-a"), lens.NamespaceMaxLen)
	assert.Equal(t, len("Deployment/web"), lens.KindNameMaxLen)
}

func TestValidateScopesRunsBeforeAnyAction(t *testing.T) {
	clients := newTestClients(t, "c1")
	st, mock := newMockStore(t)

	actions := []diffengine.Action{
		{Kind: diffengine.ActionCreate, Key: objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "cfg"}},
	}

	var out bytes.Buffer
	err := Execute(context.Background(), clients, st, actions, &out)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
