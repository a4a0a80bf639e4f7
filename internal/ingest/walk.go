package ingest

import (
	"fmt"
	"os"
	"path/filepath"
)

// Walk loads every namespace subdirectory (plus the reserved "global"
// folder) under root, expanding each index.yaml's documents and
// indirections. Duplicate (apiVersion, kind, name) documents within a
// single folder are a hard error; folders are otherwise independent.
func Walk(root string, allowAnyNamespace bool) (*Result, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading monitor directory %s: %w", root, err)
	}

	result := &Result{
		Global:      map[resourceKey]Resource{},
		ByNamespace: map[string]map[resourceKey]Resource{},
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		dir := filepath.Join(root, name)

		docs, err := readDocuments(filepath.Join(dir, "index.yaml"))
		if err != nil {
			return nil, err
		}

		var target map[resourceKey]Resource
		if name == globalFolder {
			target = result.Global
		} else {
			target = map[resourceKey]Resource{}
			result.ByNamespace[name] = target
		}

		if err := processDocuments(dir, docs, allowAnyNamespace, target); err != nil {
			return nil, fmt.Errorf("namespace folder %q: %w", name, err)
		}
	}

	return result, nil
}
