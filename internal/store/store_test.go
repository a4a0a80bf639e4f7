package store

import (
	"context"
	"regexp"
	"testing"

	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/april-dev/sisyphus/internal/objkey"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return &Store{db: sqlx.NewDb(mockDB, "sqlmock")}, mock
}

func TestLoadAllDecodesYAMLIntoSet(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"api_version", "cluster", "kind", "name", "namespace", "yaml", "last_updated", "created"}).
		AddRow("v1", "c1", "ConfigMap", "settings", "team-a", "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: settings\n  namespace: team-a\n", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT api_version, cluster, kind, name, namespace, yaml, last_updated, created FROM kubernetes_objects")).
		WillReturnRows(rows)

	set, err := s.LoadAll(context.Background())
	require.NoError(t, err)

	key := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "settings", Namespace: "team-a"}
	obj, ok := set.ByKey[key]
	require.True(t, ok)
	assert.Equal(t, "settings", obj.GetName())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWritesFiveTupleAndYAML(t *testing.T) {
	s, mock := newMockStore(t)

	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata":   map[string]interface{}{"name": "settings", "namespace": "team-a"},
	}}
	key := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "settings", Namespace: "team-a"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kubernetes_objects (api_version, cluster, kind, name, namespace, yaml)")).
		WithArgs("v1", "c1", "ConfigMap", "settings", "team-a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Insert(context.Background(), key, obj))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUsesFiveTupleWhereClause(t *testing.T) {
	s, mock := newMockStore(t)

	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata":   map[string]interface{}{"name": "settings", "namespace": "team-a"},
	}}
	key := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "settings", Namespace: "team-a"}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE kubernetes_objects")).
		WithArgs(sqlmock.AnyArg(), "v1", "c1", "ConfigMap", "settings", "team-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Update(context.Background(), key, obj))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUsesFiveTupleWhereClause(t *testing.T) {
	s, mock := newMockStore(t)
	key := objkey.Key{APIVersion: "v1", Cluster: "c1", Kind: "ConfigMap", Name: "settings", Namespace: "team-a"}

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kubernetes_objects")).
		WithArgs("v1", "c1", "ConfigMap", "settings", "team-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Delete(context.Background(), key))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS kubernetes_objects")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
