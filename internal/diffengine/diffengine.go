// Package diffengine computes the set of actions that carry a "have"
// resource set to a "want" resource set, and prints the textual diff an
// operator confirms before those actions are applied.
package diffengine

import (
	"encoding/json"
	"reflect"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/april-dev/sisyphus/internal/objkey"
)

// ActionKind distinguishes the four ways a key's state can move.
type ActionKind int

const (
	ActionCreate ActionKind = iota
	ActionPatch
	ActionRecreate
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionPatch:
		return "patch"
	case ActionRecreate:
		return "delete and recreate"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// PatchOp is a single RFC6902 JSON-Patch operation.
type PatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Action is one key's computed DiffAction, paired with the have/want
// objects it was derived from (both may be nil depending on Kind).
type Action struct {
	Kind  ActionKind
	Key   objkey.Key
	Have  *unstructured.Unstructured
	Want  *unstructured.Unstructured
	Patch []PatchOp
}

type recreateRule struct {
	apiVersion string
	kind       string
}

// recreateTable lists the (apiVersion, kind) pairs and path prefixes for
// which any patch operation rooted there means the API will reject the
// patch outright, forcing a delete-then-create instead.
var recreateTable = map[recreateRule][]string{
	{apiVersion: "apps/v1", kind: "Deployment"}: {"/spec/selector/"},
	{apiVersion: "batch/v1", kind: "Job"}:       {"/spec/template/"},
}

func requiresRecreate(apiVersion, kind string, ops []PatchOp) bool {
	prefixes, ok := recreateTable[recreateRule{apiVersion: apiVersion, kind: kind}]
	if !ok {
		return false
	}
	for _, op := range ops {
		if op.Op == "move" || op.Op == "copy" || op.Op == "test" {
			continue
		}
		for _, prefix := range prefixes {
			if len(op.Path) >= len(prefix) && op.Path[:len(prefix)] == prefix {
				return true
			}
		}
	}
	return false
}

// GenerateDiff walks want.namespaces then want.by_key, then the leftover
// have.by_key and have.namespaces, producing one Action per differing key.
// Unchanged keys produce no action. changed reports whether any action was
// produced.
func GenerateDiff(have, want *objkey.Set) (actions []Action, changed bool) {
	processed := map[objkey.Key]bool{}

	for _, key := range want.SortedNamespaceKeys() {
		w := want.Namespaces[key]
		h := have.Namespaces[key]
		processed[key] = true
		if a, ok := diffSingle(key, h, w); ok {
			actions = append(actions, a)
		}
	}

	for _, key := range want.SortedByKeyKeys() {
		w := want.ByKey[key]
		h := have.ByKey[key]
		processed[key] = true
		if a, ok := diffSingle(key, h, w); ok {
			actions = append(actions, a)
		}
	}

	for _, key := range have.SortedByKeyKeys() {
		if processed[key] {
			continue
		}
		if a, ok := diffSingle(key, have.ByKey[key], nil); ok {
			actions = append(actions, a)
		}
	}

	for _, key := range have.SortedNamespaceKeys() {
		if processed[key] {
			continue
		}
		if a, ok := diffSingle(key, have.Namespaces[key], nil); ok {
			actions = append(actions, a)
		}
	}

	return actions, len(actions) > 0
}

func diffSingle(key objkey.Key, have, want *unstructured.Unstructured) (Action, bool) {
	switch {
	case have == nil && want == nil:
		return Action{}, false

	case have == nil:
		return Action{Kind: ActionCreate, Key: key, Want: want}, true

	case want == nil:
		return Action{Kind: ActionDelete, Key: key, Have: have}, true

	default:
		if reflect.DeepEqual(have.Object, want.Object) {
			return Action{}, false
		}
		ops := diffObject("", have.Object, want.Object)
		if requiresRecreate(key.APIVersion, key.Kind, ops) || !verifyPatch(have, want, ops) {
			recreated := want.DeepCopy()
			recreated.SetResourceVersion("")
			recreated.SetUID("")
			return Action{Kind: ActionRecreate, Key: key, Have: have, Want: recreated, Patch: ops}, true
		}
		return Action{Kind: ActionPatch, Key: key, Have: have, Want: want, Patch: ops}, true
	}
}

// verifyPatch replays ops through the same RFC6902 library the server uses
// to apply a JSONPatchType request, confirming it actually turns have into
// want before committing to ActionPatch. A hand-rolled diff that drifts
// from what the library would produce falls back to a recreate rather than
// shipping a patch nobody has checked.
func verifyPatch(have, want *unstructured.Unstructured, ops []PatchOp) bool {
	haveJSON, err := have.MarshalJSON()
	if err != nil {
		return false
	}
	patchJSON, err := json.Marshal(ops)
	if err != nil {
		return false
	}
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return false
	}
	patched, err := patch.Apply(haveJSON)
	if err != nil {
		return false
	}
	var patchedObj unstructured.Unstructured
	if err := patchedObj.UnmarshalJSON(patched); err != nil {
		return false
	}
	return reflect.DeepEqual(patchedObj.Object, want.Object)
}

func escapePointer(token string) string {
	out := make([]byte, 0, len(token))
	for i := 0; i < len(token); i++ {
		switch token[i] {
		case '~':
			out = append(out, '~', '0')
		case '/':
			out = append(out, '~', '1')
		default:
			out = append(out, token[i])
		}
	}
	return string(out)
}

// diffObject produces a minimal-enough (not minimal) set of RFC6902
// operations turning have into want, recursing through nested objects so
// that recreate-prefix matching sees the deepest changed path.
func diffObject(path string, have, want map[string]interface{}) []PatchOp {
	var ops []PatchOp

	for k, wv := range want {
		childPath := path + "/" + escapePointer(k)
		hv, ok := have[k]
		if !ok {
			ops = append(ops, PatchOp{Op: "add", Path: childPath, Value: wv})
			continue
		}
		ops = append(ops, diffValue(childPath, hv, wv)...)
	}
	for k := range have {
		if _, ok := want[k]; !ok {
			ops = append(ops, PatchOp{Op: "remove", Path: path + "/" + escapePointer(k)})
		}
	}
	return ops
}

func diffValue(path string, have, want interface{}) []PatchOp {
	if reflect.DeepEqual(have, want) {
		return nil
	}
	hm, hok := have.(map[string]interface{})
	wm, wok := want.(map[string]interface{})
	if hok && wok {
		return diffObject(path, hm, wm)
	}
	return []PatchOp{{Op: "replace", Path: path, Value: want}}
}
