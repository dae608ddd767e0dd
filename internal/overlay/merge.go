package overlay

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/cameronsjo/rigger/internal/manifest"
)

// directiveKey carries strategic merge directives inside a fragment.
const directiveKey = "$patch"

// Directive values.
const (
	directiveDelete  = "delete"
	directiveReplace = "replace"
)

// StrategicMerge merges patch into base and returns a new map. base is not
// modified. Merge semantics:
//   - mappings merge recursively
//   - scalars replace, and a null value removes the key
//   - sequences replace wholesale, unless mergeKeys names a key for the
//     sequence's dotted field path; entries then merge by that key
//   - {$patch: delete} removes a mapping key or a keyed sequence entry
//   - {$patch: replace} replaces a mapping instead of merging it
func StrategicMerge(base, patch map[string]any, mergeKeys map[string]string) map[string]any {
	m := &merger{keys: mergeKeys}
	return m.mergeMaps(base, patch, "", "")
}

type merger struct {
	keys map[string]string
	// record receives every scalar the patch writes, keyed by a pointer
	// to the field.
	record func(pointer string, value any)
}

func (m *merger) mergeMaps(base, patch map[string]any, path, pointer string) map[string]any {
	result := copyMap(base)

	for _, key := range sortedKeys(patch) {
		if key == directiveKey {
			continue
		}
		patchValue := patch[key]

		currentPath := key
		if path != "" {
			currentPath = path + "." + key
		}
		currentPointer := pointer + "/" + escapePointer(key)

		if patchValue == nil {
			delete(result, key)
			continue
		}

		if patchMap, ok := patchValue.(map[string]any); ok {
			switch patchMap[directiveKey] {
			case directiveDelete:
				delete(result, key)
				continue
			case directiveReplace:
				result[key] = m.mergeMaps(nil, patchMap, currentPath, currentPointer)
				continue
			}

			// Both are maps - recursive merge
			if baseMap, ok := result[key].(map[string]any); ok {
				result[key] = m.mergeMaps(baseMap, patchMap, currentPath, currentPointer)
			} else {
				result[key] = m.mergeMaps(nil, patchMap, currentPath, currentPointer)
			}
			continue
		}

		if patchList, ok := patchValue.([]any); ok {
			if mergeKey, keyed := m.keys[currentPath]; keyed {
				baseList, _ := result[key].([]any)
				result[key] = m.mergeList(baseList, patchList, mergeKey, currentPath, currentPointer)
				continue
			}
			// Replace
			result[key] = manifest.DeepCopyValue(patchList)
			continue
		}

		m.write(currentPointer, patchValue)
		result[key] = patchValue
	}

	return result
}

// mergeList merges keyed entries of patch into base. Entries without the
// key are appended.
func (m *merger) mergeList(base, patch []any, mergeKey, path, pointer string) []any {
	result := make([]any, len(base), len(base)+len(patch))
	copy(result, base)

	for _, item := range patch {
		patchEntry, ok := item.(map[string]any)
		keyValue, hasKey := patchEntry[mergeKey]
		if !ok || !hasKey {
			result = append(result, manifest.DeepCopyValue(item))
			continue
		}

		entryPointer := fmt.Sprintf("%s[%s=%v]", pointer, mergeKey, keyValue)
		idx := indexByKey(result, mergeKey, keyValue)

		if patchEntry[directiveKey] == directiveDelete {
			if idx >= 0 {
				result = slices.Delete(result, idx, idx+1)
			}
			continue
		}

		if idx >= 0 {
			baseEntry, _ := result[idx].(map[string]any)
			result[idx] = m.mergeMaps(baseEntry, patchEntry, path, entryPointer)
		} else {
			result = append(result, m.mergeMaps(nil, patchEntry, path, entryPointer))
		}
	}

	return result
}

func (m *merger) write(pointer string, value any) {
	if m.record != nil {
		m.record(pointer, value)
	}
}

func indexByKey(list []any, key string, value any) int {
	want := fmt.Sprint(value)
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := entry[key]; ok && fmt.Sprint(v) == want {
			return i
		}
	}
	return -1
}

// escapePointer escapes a key for use in a JSON pointer.
func escapePointer(key string) string {
	return strings.ReplaceAll(strings.ReplaceAll(key, "~", "~0"), "/", "~1")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// copyMap creates a shallow copy of a map.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any, nil:
		return false
	default:
		return true
	}
}
