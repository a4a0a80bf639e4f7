package objkey

import (
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Set is a pair of key-indexed object maps. ByKey holds everything that is
// not a Namespace; Namespaces holds cluster-scoped Namespace objects. The
// split exists so namespaces can be created before, and deleted after,
// everything that lives inside them.
type Set struct {
	ByKey      map[Key]*unstructured.Unstructured
	Namespaces map[Key]*unstructured.Unstructured
}

// NewSet returns an empty Set ready for use.
func NewSet() *Set {
	return &Set{
		ByKey:      map[Key]*unstructured.Unstructured{},
		Namespaces: map[Key]*unstructured.Unstructured{},
	}
}

// Put inserts obj under key, routing it to Namespaces when the key's kind is
// "Namespace". It returns an error if the key is already present in the
// target map, enforcing the "a key is unique in any resource set" invariant.
func (s *Set) Put(key Key, obj *unstructured.Unstructured) error {
	target := s.ByKey
	if key.Kind == "Namespace" {
		target = s.Namespaces
	}
	if _, exists := target[key]; exists {
		return &DuplicateKeyError{Key: key}
	}
	target[key] = obj
	return nil
}

// DuplicateKeyError reports that a key was inserted twice into the same
// resource set.
type DuplicateKeyError struct {
	Key Key
}

func (e *DuplicateKeyError) Error() string {
	return "duplicate key " + e.Key.String()
}

// SortedByKeyKeys returns the ByKey keys in total order, for deterministic
// traversal (diffing, printing).
func (s *Set) SortedByKeyKeys() []Key {
	return sortedKeys(s.ByKey)
}

// SortedNamespaceKeys returns the Namespaces keys in total order.
func (s *Set) SortedNamespaceKeys() []Key {
	return sortedKeys(s.Namespaces)
}

// Filter returns the subset of s whose keys match f, preserving the
// ByKey/Namespaces split. An empty filter returns every key.
func (s *Set) Filter(f PartialKey) *Set {
	out := NewSet()
	for k, v := range s.ByKey {
		if f.Matches(k) {
			out.ByKey[k] = v
		}
	}
	for k, v := range s.Namespaces {
		if f.Matches(k) {
			out.Namespaces[k] = v
		}
	}
	return out
}

func sortedKeys(m map[Key]*unstructured.Unstructured) []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Namespaces returned by referenced namespace names that have no explicit
// Namespace object yet, grouped per cluster; used by namespace synthesis.
func (s *Set) MissingNamespaces(labelAPIVersion string) []Key {
	seen := map[Key]bool{}
	for k := range s.Namespaces {
		seen[Key{APIVersion: k.APIVersion, Cluster: k.Cluster, Kind: "Namespace", Name: k.Name}] = true
	}
	var missing []Key
	added := map[Key]bool{}
	for k := range s.ByKey {
		if k.Namespace == "" {
			continue
		}
		nsKey := Key{APIVersion: labelAPIVersion, Cluster: k.Cluster, Kind: "Namespace", Name: k.Namespace}
		if seen[nsKey] || added[nsKey] {
			continue
		}
		added[nsKey] = true
		missing = append(missing, nsKey)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Less(missing[j]) })
	return missing
}
