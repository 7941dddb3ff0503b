// Package jsonwalk provides bounded traversal and loose coercion over
// decoded JSON payloads of unknown shape. Captured platform responses
// are adversarial input: deeply nested, inconsistently typed and
// occasionally huge, so every walk is node-capped and every accessor
// tolerates the wrong type.
package jsonwalk

import (
	"sort"
	"strconv"
	"strings"
)

// DefaultMaxNodes bounds a walk over an untrusted payload.
const DefaultMaxNodes = 4000

// Maps walks root depth-first and collects every JSON object it
// encounters, visiting at most maxNodes nodes. Child values are pushed
// in sorted key order so traversal stays deterministic.
func Maps(root any, maxNodes int) []map[string]any {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	var found []map[string]any
	stack := []any{root}
	visited := 0
	for len(stack) > 0 && visited < maxNodes {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++
		switch t := node.(type) {
		case map[string]any:
			found = append(found, t)
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				switch t[k].(type) {
				case map[string]any, []any:
					stack = append(stack, t[k])
				}
			}
		case []any:
			for _, item := range t {
				switch item.(type) {
				case map[string]any, []any:
					stack = append(stack, item)
				}
			}
		}
	}
	return found
}

// Truthy reports whether v is non-empty in the JavaScript sense: nil,
// false, zero, the empty string and empty containers are all false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}

// First returns the first truthy value among keys, or nil.
func First(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && Truthy(v) {
			return v
		}
	}
	return nil
}

// AsString renders v as a display string. Whole floats drop their
// fraction so numeric ids survive the float64 round-trip intact.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

// FirstString returns the first truthy value among keys rendered as a
// trimmed string.
func FirstString(m map[string]any, keys ...string) string {
	return strings.TrimSpace(AsString(First(m, keys...)))
}

// AsInt coerces v to an int. Floats truncate toward zero; strings must
// parse as plain integers. Anything else yields def.
func AsInt(v any, def int) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return n
	}
	return def
}

// FirstInt coerces the first truthy value among keys, yielding def when
// nothing coerces.
func FirstInt(m map[string]any, def int, keys ...string) int {
	return AsInt(First(m, keys...), def)
}

// AsBool interprets v as a boolean flag. Numbers compare against zero
// and a small set of string spellings is accepted; the second return
// reports whether v was recognizably boolean at all.
func AsBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	case int64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y":
			return true, true
		case "0", "false", "no", "n":
			return false, true
		}
	}
	return false, false
}

// AsMap returns v as a JSON object, or nil when it is anything else.
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// AsSlice returns v as a JSON array, or nil when it is anything else.
func AsSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
