// Package normalize turns the vendor's heterogeneous JSON payloads into
// uniform display structures and tolerates its field-name drift.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RootKey is the path used when a payload has no addressable structure.
const RootKey = "<root>"

// maxDepth bounds traversal so pathological or cyclic inputs degrade to
// the stringified fallback instead of exhausting the stack.
const maxDepth = 64

// Flatten converts a JSON-like value into a flat dotted-path map.
// Object keys join with "."; array elements append their index
// ("transactions.0.amount"). Scalars copy as-is, an empty object or
// array leaves a "{}" or "[]" marker at its path, and a scalar root
// lands under RootKey. Flatten is total: it never fails, and any input
// it cannot walk collapses to {RootKey: stringified payload}.
func Flatten(v any) map[string]any {
	out := make(map[string]any)
	if !walk(v, "", 0, out) {
		return map[string]any{RootKey: Stringify(v)}
	}
	return out
}

// FlattenJSON decodes raw JSON and flattens it. Undecodable input falls
// back to {RootKey: raw text}.
func FlattenJSON(raw json.RawMessage) map[string]any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{RootKey: strings.TrimSpace(string(raw))}
	}
	return Flatten(v)
}

func walk(v any, path string, depth int, out map[string]any) bool {
	if depth > maxDepth {
		return false
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			out[leaf(path)] = "{}"
			return true
		}
		for k, child := range t {
			if !walk(child, join(path, k), depth+1, out) {
				return false
			}
		}
		return true
	case []any:
		if len(t) == 0 {
			out[leaf(path)] = "[]"
			return true
		}
		for i, child := range t {
			if !walk(child, join(path, strconv.Itoa(i)), depth+1, out) {
				return false
			}
		}
		return true
	default:
		out[leaf(path)] = v
		return true
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func leaf(path string) string {
	if path == "" {
		return RootKey
	}
	return path
}

// Stringify renders a value for display: JSON when possible, the value's
// type when even marshalling fails. fmt is no fallback here: cyclic data
// that breaks json.Marshal sends fmt into the same cycle.
func Stringify(v any) string {
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("<unprintable %T>", v)
}
