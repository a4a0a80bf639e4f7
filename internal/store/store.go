// Package store persists the reconciler's view of the world in the
// kubernetes_objects table: one row per (api_version, cluster, kind, name,
// namespace), holding the server-returned object as YAML.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"github.com/april-dev/sisyphus/internal/objkey"
)

// Store wraps a connection pool to the kubernetes_objects table.
type Store struct {
	db *sqlx.DB
}

// Open connects using the pgx stdlib driver. Callers own the returned
// Store's lifetime and must Close it.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewForTesting wraps an already-open *sqlx.DB (typically a sqlmock
// connection) in a Store, for packages outside store that need to drive a
// Store through a mocked database without a real Postgres instance.
func NewForTesting(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS kubernetes_objects (
	api_version text NOT NULL,
	cluster     text NOT NULL,
	kind        text NOT NULL,
	name        text NOT NULL,
	namespace   text NOT NULL,
	yaml        text NOT NULL,
	last_updated timestamptz NOT NULL DEFAULT now(),
	created      timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (api_version, cluster, kind, name, namespace)
)`

// EnsureSchema creates the kubernetes_objects table if it does not already
// exist. Idempotent; safe to call on every run.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

type row struct {
	APIVersion  string    `db:"api_version"`
	Cluster     string    `db:"cluster"`
	Kind        string    `db:"kind"`
	Name        string    `db:"name"`
	Namespace   string    `db:"namespace"`
	YAML        string    `db:"yaml"`
	LastUpdated time.Time `db:"last_updated"`
	Created     time.Time `db:"created"`
}

// LoadAll returns every stored object as a resource Set, routed to
// namespaces/by_key the same way objkey.Set.Put does.
func (s *Store) LoadAll(ctx context.Context) (*objkey.Set, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT api_version, cluster, kind, name, namespace, yaml, last_updated, created FROM kubernetes_objects`)
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes_objects: %w", err)
	}

	set := objkey.NewSet()
	for _, r := range rows {
		obj := &unstructured.Unstructured{}
		if err := yaml.Unmarshal([]byte(r.YAML), &obj.Object); err != nil {
			return nil, fmt.Errorf("decoding stored yaml for %s/%s %q: %w", r.APIVersion, r.Kind, r.Name, err)
		}
		key := objkey.Key{APIVersion: r.APIVersion, Cluster: r.Cluster, Kind: r.Kind, Name: r.Name, Namespace: r.Namespace}
		if err := set.Put(key, obj); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func marshalYAML(obj *unstructured.Unstructured) (string, error) {
	b, err := yaml.Marshal(obj.Object)
	if err != nil {
		return "", fmt.Errorf("marshaling object to yaml: %w", err)
	}
	return string(b), nil
}

// Insert records a newly created object.
func (s *Store) Insert(ctx context.Context, key objkey.Key, obj *unstructured.Unstructured) error {
	y, err := marshalYAML(obj)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kubernetes_objects (api_version, cluster, kind, name, namespace, yaml)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.APIVersion, key.Cluster, key.Kind, key.Name, key.Namespace, y)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", key, err)
	}
	return nil
}

// Update overwrites a previously stored object's yaml and bumps
// last_updated to the server clock.
func (s *Store) Update(ctx context.Context, key objkey.Key, obj *unstructured.Unstructured) error {
	y, err := marshalYAML(obj)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE kubernetes_objects
		 SET last_updated = CURRENT_TIMESTAMP, yaml = $1
		 WHERE api_version = $2 AND cluster = $3 AND kind = $4 AND name = $5 AND namespace = $6`,
		y, key.APIVersion, key.Cluster, key.Kind, key.Name, key.Namespace)
	if err != nil {
		return fmt.Errorf("updating %s: %w", key, err)
	}
	return nil
}

// Delete removes a stored object's row.
func (s *Store) Delete(ctx context.Context, key objkey.Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kubernetes_objects
		 WHERE api_version = $1 AND cluster = $2 AND kind = $3 AND name = $4 AND namespace = $5`,
		key.APIVersion, key.Cluster, key.Kind, key.Name, key.Namespace)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
