// Package parse provides the small value-handling helpers shared by the
// engine and the node executors: rendering arbitrary values as text,
// lenient JSON parsing for model output, and dotted-path extraction over
// decoded JSON structures.
package parse

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Stringify renders a value as text for prompt interpolation and join-mode
// merging. Strings pass through unchanged, scalars format naturally, and
// composite values serialise to indented JSON. On marshalling failure it
// falls back to fmt formatting rather than returning an error, so the result
// is always usable.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}

	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}

// LooseParse decodes a JSON document leniently: it first tries strict
// unmarshalling, then repairs the input (trailing commas, single quotes,
// unquoted keys, the usual model-output damage) and retries. It returns the
// decoded value as the natural map/slice/scalar shapes of encoding/json.
func LooseParse(content string) (any, error) {
	var result any
	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return result, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(content)
	if repairErr != nil {
		return nil, fmt.Errorf("content is not JSON and could not be repaired: %w", repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return nil, fmt.Errorf("repaired JSON still failed to parse: %w", err)
	}
	return result, nil
}

// ExtractPath resolves a dotted path like "user.addresses[0].city" against a
// decoded JSON value. Map segments use dot notation, slice segments use
// bracketed indexes. An empty path returns the value itself. Missing keys and
// out-of-range indexes return an error naming the failing segment.
func ExtractPath(v any, path string) (any, error) {
	if path == "" {
		return v, nil
	}

	current := v
	for _, segment := range splitPath(path) {
		if segment.index >= 0 {
			elements, ok := asSlice(current)
			if !ok {
				return nil, fmt.Errorf("path segment %q: value %T is not an array", segment.raw, current)
			}
			if segment.index >= len(elements) {
				return nil, fmt.Errorf("path segment %q: index out of range (length %d)", segment.raw, len(elements))
			}
			current = elements[segment.index]
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path segment %q: value %T is not an object", segment.raw, current)
		}
		value, ok := m[segment.key]
		if !ok {
			return nil, fmt.Errorf("path segment %q: key not found", segment.raw)
		}
		current = value
	}
	return current, nil
}

// pathSegment is one resolved step of a dotted path: either a map key or a
// slice index (index >= 0).
type pathSegment struct {
	raw   string
	key   string
	index int
}

func splitPath(path string) []pathSegment {
	segments := make([]pathSegment, 0)
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		// Peel bracket indexes off the end of the part: "items[0][1]"
		// yields the key "items" followed by two index segments.
		key := part
		var indexes []int
		for {
			open := strings.LastIndex(key, "[")
			if open < 0 || !strings.HasSuffix(key, "]") {
				break
			}
			idx, err := strconv.Atoi(key[open+1 : len(key)-1])
			if err != nil || idx < 0 {
				break
			}
			indexes = append([]int{idx}, indexes...)
			key = key[:open]
		}
		if key != "" {
			segments = append(segments, pathSegment{raw: part, key: key, index: -1})
		}
		for _, idx := range indexes {
			segments = append(segments, pathSegment{raw: part, index: idx})
		}
	}
	return segments
}

func asSlice(v any) ([]any, bool) {
	if elements, ok := v.([]any); ok {
		return elements, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, false
	}
	elements := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elements[i] = rv.Index(i).Interface()
	}
	return elements, true
}
