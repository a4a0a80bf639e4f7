// Package merge implements the managed-field merger (copy_unmanaged_fields):
// a recursive structural merge over arbitrary decoded JSON that honors
// Kubernetes Server-Side-Apply field ownership, so that resubmitting an
// object never clobbers fields this engine does not own.
package merge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Merge rewrites want so that every leaf this engine does not own (per
// managed) is carried over from have, and returns the list of JSON-Pointer
// paths where an unowned array element was explicitly dropped — these feed
// C8 as additional JSON-Patch remove operations.
func Merge(have, want, managed interface{}) (interface{}, []string) {
	return mergeValue(have, want, managed, "")
}

func mergeValue(have, want, managed interface{}, path string) (interface{}, []string) {
	if want == nil {
		if isManagedObject(managed) {
			return nil, nil
		}
		return deepCopy(have), nil
	}

	if ownsWhole(managed) {
		return deepCopy(want), nil
	}

	if haveStr, ok := have.(string); ok {
		if wantNum, ok2 := want.(float64); ok2 {
			_ = haveStr
			return formatNumber(wantNum), nil
		}
	}

	if haveObj, ok := have.(map[string]interface{}); ok {
		if wantObj, ok2 := want.(map[string]interface{}); ok2 {
			return mergeObjects(haveObj, wantObj, managed, path)
		}
		return deepCopy(want), nil
	}

	if haveArr, ok := have.([]interface{}); ok {
		if wantArr, ok2 := want.([]interface{}); ok2 {
			return mergeArrays(haveArr, wantArr, managed, path)
		}
		return deepCopy(want), nil
	}

	return deepCopy(want), nil
}

func mergeObjects(have, want map[string]interface{}, managed interface{}, path string) (interface{}, []string) {
	managedObj, managedIsSet := managed.(map[string]interface{})
	result := map[string]interface{}{}
	var removals []string
	used := map[string]bool{}

	for k, hv := range have {
		var subManaged interface{}
		if managedIsSet {
			subManaged = managedObj["f:"+k]
		}
		var wv interface{}
		if raw, ok := want[k]; ok {
			wv = raw
			used[k] = true
		}
		mergedVal, subRemovals := mergeValue(hv, wv, subManaged, path+"/"+escapePointer(k))
		removals = append(removals, subRemovals...)
		result[k] = mergedVal
	}

	for k, wv := range want {
		if used[k] {
			continue
		}
		result[k] = deepCopy(wv)
	}
	return result, removals
}

type arraySelector struct {
	key        string
	fields     map[string]interface{}
	subManaged interface{}
	used       bool
}

func mergeArrays(have, want []interface{}, managed interface{}, path string) (interface{}, []string) {
	result := make([]interface{}, 0, len(want))
	var removals []string

	managedObj, isManagedArray := managed.(map[string]interface{})
	var selectors []*arraySelector
	if isManagedArray {
		selectors = parseSelectors(managedObj)
	}

	for i, wv := range want {
		sel := matchSelector(selectors, wv)

		// No selector claims this want element: it isn't the same array
		// entry as whatever happens to sit at have[i], so it must merge
		// as a brand-new element rather than inherit a positional
		// sibling's unowned fields.
		if sel == nil {
			var positional interface{}
			if i < len(have) {
				positional = have[i]
			}
			if wv == nil && positional != nil {
				removals = append(removals, path+"/"+strconv.Itoa(i))
				continue
			}
			mergedVal, subRemovals := mergeValue(nil, wv, nil, path+"/"+strconv.Itoa(i))
			removals = append(removals, subRemovals...)
			result = append(result, mergedVal)
			continue
		}

		var hv interface{}
		if i < len(have) {
			hv = have[i]
		}
		mergedVal, subRemovals := mergeValue(hv, wv, sel.subManaged, path+"/"+strconv.Itoa(i))
		removals = append(removals, subRemovals...)
		result = append(result, mergedVal)
	}
	return result, removals
}

// parseSelectors extracts the "k:{...}" entries from an array-level managed
// map. Sorted by key so matching order is deterministic across runs.
func parseSelectors(managed map[string]interface{}) []*arraySelector {
	var keys []string
	for k := range managed {
		if strings.HasPrefix(k, "k:") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	selectors := make([]*arraySelector, 0, len(keys))
	for _, k := range keys {
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(k, "k:")), &fields); err != nil {
			continue
		}
		selectors = append(selectors, &arraySelector{key: k, fields: fields, subManaged: managed[k]})
	}
	return selectors
}

func matchSelector(selectors []*arraySelector, elem interface{}) *arraySelector {
	em, ok := elem.(map[string]interface{})
	if !ok {
		return nil
	}
	for _, s := range selectors {
		if s.used {
			continue
		}
		if selectorMatches(em, s.fields) {
			s.used = true
			return s
		}
	}
	return nil
}

func selectorMatches(elem, selector map[string]interface{}) bool {
	for k, v := range selector {
		ev, ok := elem[k]
		if !ok || !jsonEqual(ev, v) {
			return false
		}
	}
	return true
}

// ownsWhole reports whether managed marks full ownership of the current
// node: either an empty object, or an object carrying the "." self-marker.
func ownsWhole(managed interface{}) bool {
	m, ok := managed.(map[string]interface{})
	if !ok {
		return false
	}
	if len(m) == 0 {
		return true
	}
	_, hasDot := m["."]
	return hasDot
}

func isManagedObject(managed interface{}) bool {
	_, ok := managed.(map[string]interface{})
	return ok
}

func jsonEqual(a, b interface{}) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func escapePointer(tok string) string {
	tok = strings.ReplaceAll(tok, "~", "~0")
	tok = strings.ReplaceAll(tok, "/", "~1")
	return tok
}

func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			out[k] = deepCopy(sub)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			out[i] = deepCopy(sub)
		}
		return out
	default:
		return val
	}
}

// ExtractManagedTree finds the fieldsV1 tree owned by manager in a decoded
// metadata.managedFields list (as produced by unmarshalling an object's
// metadata into generic JSON), returning nil if the manager has no entry.
func ExtractManagedTree(managedFields []interface{}, manager string) (interface{}, error) {
	for _, raw := range managedFields {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if entry["manager"] != manager {
			continue
		}
		fieldsV1, ok := entry["fieldsV1"]
		if !ok {
			return nil, nil
		}
		fv, ok := fieldsV1.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("managed field entry for manager %q has non-object fieldsV1", manager)
		}
		return fv, nil
	}
	return nil, nil
}
