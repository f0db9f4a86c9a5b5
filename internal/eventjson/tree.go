// Package eventjson provides generic helpers for walking arbitrary
// JSON payloads decoded onto map[string]any / []any, and for
// extracting a value along the first of several candidate paths — the
// shape every client schema version leans on.
package eventjson

import "strings"

// Get walks path (dot-separated, e.g. "data.user.id") against root,
// returning the value found and whether every segment resolved.
// Only object traversal is supported; arrays are not indexed.
func Get(root any, path string) (any, bool) {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := obj[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// FirstString tries each path in order and returns the first one that
// resolves to a non-empty (after trim) string. Mirrors the
// first-match-wins normalization rules every denormalized field uses.
func FirstString(root any, paths ...string) (string, bool) {
	for _, p := range paths {
		v, ok := Get(root, p)
		if !ok {
			continue
		}
		s, ok := AsTrimmedString(v)
		if ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// AsTrimmedString coerces v to a trimmed string when v is itself a
// string; non-string values (numbers, objects, nil) are not coerced,
// since client payloads use strings for every identifier field.
func AsTrimmedString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}
