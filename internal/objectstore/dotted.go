package objectstore

import "strings"

// dottedGet walks a dot-separated path through nested maps, returning
// the value found and whether the path existed at all (distinguishing
// "absent" from "present and nil").
func dottedGet(obj map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var cur interface{} = obj
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// dottedSet assigns value at path, creating intermediate maps as needed.
func dottedSet(obj map[string]interface{}, path string, value interface{}) {
	segments := strings.Split(path, ".")
	cur := obj
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
}

// dottedDelete removes path if it exists; it is a no-op on an absent path.
func dottedDelete(obj map[string]interface{}, path string) {
	segments := strings.Split(path, ".")
	cur := obj
	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
}
