package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jmap(pairs ...interface{}) map[string]interface{} {
	m := map[string]interface{}{}
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i].(string)] = pairs[i+1]
	}
	return m
}

func TestMergeScalarsReturnWant(t *testing.T) {
	got, removals := Merge(true, false, nil)
	assert.Equal(t, false, got)
	assert.Empty(t, removals)

	got, _ = Merge("a", "b", nil)
	assert.Equal(t, "b", got)

	got, _ = Merge(1.0, 2.0, nil)
	assert.Equal(t, 2.0, got)
}

func TestMergeStringNumberCoercion(t *testing.T) {
	got, _ := Merge("123", 456.0, nil)
	assert.Equal(t, "456", got)
}

func TestMergeExplicitClearOfOwnedField(t *testing.T) {
	have := jmap("key", "value")
	managed := jmap("f:key", jmap())
	got, removals := Merge(have, nil, managed)
	assert.Nil(t, got)
	assert.Empty(t, removals)
}

func TestMergeCannotClearUnownedField(t *testing.T) {
	have := jmap("key", "value")
	got, _ := Merge(have, nil, nil)
	assert.Equal(t, have, got)
}

func TestMergeObjectFullyOwnedReturnsWant(t *testing.T) {
	have := jmap("a", "old", "b", "old")
	want := jmap("a", "new", "b", "new")
	got, _ := Merge(have, want, jmap())
	assert.Equal(t, want, got)
}

func TestMergeObjectPartialOwnershipPreservesUnmanaged(t *testing.T) {
	have := jmap("managed_key", "old", "other_key", "keepme")
	want := jmap("managed_key", "new")
	managed := jmap("f:managed_key", jmap())

	got, _ := Merge(have, want, managed)
	gotMap := got.(map[string]interface{})
	assert.Equal(t, "new", gotMap["managed_key"])
	assert.Equal(t, "keepme", gotMap["other_key"])
}

func TestMergeObjectNullManagedUnionMerge(t *testing.T) {
	have := jmap("clusterIP", "10.0.0.1", "type", "ClusterIP")
	want := jmap("type", "NodePort")

	got, _ := Merge(have, want, nil)
	gotMap := got.(map[string]interface{})
	assert.Equal(t, "10.0.0.1", gotMap["clusterIP"])
	assert.Equal(t, "NodePort", gotMap["type"])
}

func TestMergeNestedObjectPreservesSiblings(t *testing.T) {
	have := jmap("outer", jmap("inner_a", "old", "inner_b", "keep"))
	want := jmap("outer", jmap("inner_a", "new"))

	got, _ := Merge(have, want, nil)
	outer := got.(map[string]interface{})["outer"].(map[string]interface{})
	assert.Equal(t, "new", outer["inner_a"])
	assert.Equal(t, "keep", outer["inner_b"])
}

func TestMergeArrayNullManagedPositional(t *testing.T) {
	have := []interface{}{1.0, 2.0, 3.0}
	want := []interface{}{9.0, 8.0}

	got, _ := Merge(have, want, nil)
	assert.Equal(t, []interface{}{9.0, 8.0}, got)
}

func TestMergeArrayNullRemovesUnownedElement(t *testing.T) {
	have := []interface{}{1.0, 2.0, 3.0}
	want := []interface{}{1.0, nil, 3.0}

	got, removals := Merge(have, want, nil)
	assert.Equal(t, []interface{}{1.0, 3.0}, got)
	assert.Equal(t, []string{"/1"}, removals)
}

func TestMergeArraySelfMarkerOwnsWholeArray(t *testing.T) {
	have := []interface{}{1.0, 2.0, 3.0}
	want := []interface{}{9.0}
	managed := jmap(".", jmap())

	got, _ := Merge(have, want, managed)
	assert.Equal(t, want, got)
}

func TestMergeArrayNestedInObjectFullOwnershipReplacesWhole(t *testing.T) {
	have := jmap("list", []interface{}{"a", "b"})
	want := jmap("list", []interface{}{"x"})
	managed := jmap("f:list", jmap())

	got, _ := Merge(have, want, managed)
	assert.Equal(t, want, got)
}

func TestMergeTypeMismatchReturnsWant(t *testing.T) {
	have := jmap("a", "b")
	want := []interface{}{"a", "b"}
	got, _ := Merge(have, want, nil)
	assert.Equal(t, want, got)

	have2 := []interface{}{"a"}
	want2 := jmap("a", "b")
	got2, _ := Merge(have2, want2, nil)
	assert.Equal(t, want2, got2)
}

// TestMergeEnvVarReplacePreservesSibling is the concrete scenario from
// §8 of the spec: replacing one selector-matched array element must not
// leak its sibling's unowned fields onto another element.
func TestMergeEnvVarReplacePreservesSibling(t *testing.T) {
	have := []interface{}{
		jmap("name", "A", "value", "old"),
		jmap("name", "B", "value", "old"),
	}
	want := []interface{}{
		jmap("name", "A", "valueFrom", jmap("secretKeyRef", jmap("name", "s", "key", "k"))),
		jmap("name", "B", "value", "old"),
	}
	managed := jmap(`k:{"name":"A"}`, jmap())

	got, _ := Merge(have, want, managed)
	gotArr := got.([]interface{})
	require := gotArr[0].(map[string]interface{})
	assert.NotContains(t, require, "value")
	assert.Equal(t, "A", require["name"])
	assert.Equal(t, jmap("name", "B", "value", "old"), gotArr[1])
}

// TestMergeArrayUnmatchedElementDoesNotInheritPositionalSibling guards
// against a regression where a want element with no matching selector was
// merged against whatever have element sat at the same index, leaking that
// unrelated sibling's unowned fields onto a brand-new entry.
func TestMergeArrayUnmatchedElementDoesNotInheritPositionalSibling(t *testing.T) {
	have := []interface{}{
		jmap("name", "A", "value", "old"),
		jmap("name", "B", "value", "old"),
	}
	want := []interface{}{
		jmap("name", "C", "valueFrom", jmap("secretKeyRef", jmap("name", "s", "key", "k"))),
		jmap("name", "A", "value", "old"),
		jmap("name", "B", "value", "old"),
	}
	managed := jmap(`k:{"name":"A"}`, jmap(), `k:{"name":"B"}`, jmap())

	got, _ := Merge(have, want, managed)
	gotArr := got.([]interface{})
	require.Len(t, gotArr, 3)
	newElem := gotArr[0].(map[string]interface{})
	assert.NotContains(t, newElem, "value")
	assert.Equal(t, "C", newElem["name"])
}

func TestMergeArraySelectorRespectsReorder(t *testing.T) {
	have := []interface{}{
		jmap("name", "item1", "extra", "keep1"),
		jmap("name", "item2", "extra", "keep2"),
	}
	want := []interface{}{
		jmap("name", "item2"),
		jmap("name", "item1"),
	}
	managed := jmap(
		`k:{"name":"item1"}`, jmap(),
		`k:{"name":"item2"}`, jmap(),
	)

	got, _ := Merge(have, want, managed)
	gotArr := got.([]interface{})
	assert.Equal(t, "item2", gotArr[0].(map[string]interface{})["name"])
	assert.Equal(t, "item1", gotArr[1].(map[string]interface{})["name"])
}

func TestMergeIdempotence(t *testing.T) {
	have := jmap("clusterIP", "10.0.0.1", "selector", jmap("app", "old"))
	want := jmap("selector", jmap("app", "new"))
	managed := jmap("f:selector", jmap("f:app", jmap()))

	once, _ := Merge(have, want, managed)
	twice, _ := Merge(have, once, managed)
	assert.Equal(t, once, twice)
}
