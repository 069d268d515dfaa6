// Package params implements the three pure building blocks of rule evaluation:
// dotted-path resolution against a JSON-like payload, flat AND-semantics
// condition matching, and {{path}} template interpolation.
package params

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Resolve walks a dotted/bracket path ("a.b[0].c") through nested maps and
// slices. The second return is false whenever any segment is missing, out of
// bounds, or applied to the wrong shape; malformed paths never error.
func Resolve(root any, path string) (any, bool) {
	cur := root
	for _, seg := range splitPath(path) {
		if seg == "" {
			continue
		}
		if idxStr, ok := strings.CutSuffix(seg, "]"); ok {
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, false
			}
			seq, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(seq) {
				return nil, false
			}
			cur = seq[idx]
			continue
		}
		m, ok := cur.(map[string]any)
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

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '.' || r == '['
	})
}

// Match evaluates a flat condition map against a payload. Every path must
// resolve to a value strictly equal to the expected literal; an empty
// condition map matches vacuously.
func Match(conditions map[string]any, payload map[string]any) bool {
	for path, expected := range conditions {
		actual, ok := Resolve(payload, path)
		if !ok || !reflect.DeepEqual(actual, expected) {
			return false
		}
	}
	return true
}

var placeholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Interpolate expands {{path}} placeholders in string template values using
// the payload as substitution source. Absent paths become the empty string.
// List values get per-element scalar interpolation; everything else passes
// through untouched. Interpolation is deliberately shallow: nested maps are
// not descended into, since reaction parameter schemas are flat by convention.
func Interpolate(template map[string]any, payload map[string]any) map[string]any {
	out := make(map[string]any, len(template))
	for key, value := range template {
		switch v := value.(type) {
		case string:
			out[key] = interpolateString(v, payload)
		case []any:
			items := make([]any, len(v))
			for i, item := range v {
				if s, ok := item.(string); ok {
					items[i] = interpolateString(s, payload)
				} else {
					items[i] = item
				}
			}
			out[key] = items
		default:
			out[key] = value
		}
	}
	return out
}

func interpolateString(s string, payload map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		path := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := Resolve(payload, path)
		if !ok || v == nil {
			return ""
		}
		return stringify(v)
	})
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; render integral values without
		// the trailing ".0" a naive format would produce.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
