// Package merge implements the recursive merge semantics behind
// extendObject (§3, §9): maps merge key-wise, arrays and scalars are
// replaced wholesale, and an explicit null in the patch deletes the
// corresponding key in the result only when that key is listed in the
// caller-supplied preserveSettings list -- everywhere else null is
// stored as-is. No off-the-shelf merge library in the example corpus
// (mergo and friends) supports that conditional-on-a-caller-list delete
// rule, so it is hand-rolled here rather than bent to fit a library
// whose default semantics (overwrite-if-empty, or unconditional null
// handling) don't match.
package merge

// Deep recursively merges patch into base and returns the result. base
// and patch are not mutated; the returned value shares no map/slice
// backing arrays with either input.
//
// preserveSettings lists the dotted keys (evaluated at the top level of
// each object, by convention against common.<field>) for which an
// explicit null in patch deletes the key from the result instead of
// being stored literally. It is only consulted for the keys passed in;
// all other keys follow plain deep-merge rules.
func Deep(base, patch map[string]interface{}, preserveSettings []string) map[string]interface{} {
	result := cloneMap(base)
	mergeInto(result, patch, preserveSettings, "")
	return result
}

func mergeInto(dst map[string]interface{}, patch map[string]interface{}, preserve []string, prefix string) {
	for k, v := range patch {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		if v == nil {
			if contains(preserve, path) {
				delete(dst, k)
				continue
			}
			dst[k] = nil
			continue
		}

		if patchSub, ok := v.(map[string]interface{}); ok {
			baseSub, ok := dst[k].(map[string]interface{})
			if !ok || baseSub == nil {
				dst[k] = deepCloneValue(patchSub)
				continue
			}
			merged := cloneMap(baseSub)
			mergeInto(merged, patchSub, preserve, path)
			dst[k] = merged
			continue
		}

		// Arrays and scalars replace the existing value wholesale.
		dst[k] = deepCloneValue(v)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = deepCloneValue(item)
		}
		return out
	default:
		return v
	}
}
