package engine

// Values flowing between nodes may be wrapped in a metadata envelope that
// records how a merger should treat them: a batch envelope flattens into its
// elements, a foreach-item envelope is always one accumulated item even when
// the item itself is an array. Regular executors receive unwrapped values;
// only merger accumulation inspects envelopes.
const (
	metaKey = "_meta"

	metaKindKey   = "kind"
	metaSourceKey = "sourceNodeId"
	metaIndexKey  = "index"

	metaKindBatch       = "batch"
	metaKindForeachItem = "foreachItem"

	batchItemsKey       = "items"
	foreachItemValueKey = "value"
)

// WrapBatch wraps an ordered item sequence in a batch envelope. Mergers
// flatten the envelope into its individual items; groups publish their
// per-item results this way.
func WrapBatch(items []any, sourceNodeID string) map[string]any {
	return map[string]any{
		metaKey: map[string]any{
			metaKindKey:   metaKindBatch,
			metaSourceKey: sourceNodeID,
		},
		batchItemsKey: items,
	}
}

// WrapForeachItem wraps a single iteration item in a foreach-item envelope.
// Mergers accumulate the envelope as exactly one item, protecting array-typed
// items from being flattened.
func WrapForeachItem(item any, index int, sourceNodeID string) map[string]any {
	return map[string]any{
		metaKey: map[string]any{
			metaKindKey:   metaKindForeachItem,
			metaSourceKey: sourceNodeID,
			metaIndexKey:  index,
		},
		foreachItemValueKey: item,
	}
}

// Unwrap strips a metadata envelope from a value. Batch envelopes unwrap to
// their item slice (each item unwrapped in turn), foreach-item envelopes to
// their inner value. Values without an envelope are returned unchanged.
func Unwrap(v any) any {
	meta, payload := envelopeOf(v)
	switch meta {
	case metaKindBatch:
		items, _ := payload.(map[string]any)[batchItemsKey].([]any)
		unwrapped := make([]any, 0, len(items))
		for _, item := range items {
			unwrapped = append(unwrapped, Unwrap(item))
		}
		return unwrapped
	case metaKindForeachItem:
		return payload.(map[string]any)[foreachItemValueKey]
	default:
		return v
	}
}

// envelopeOf returns the envelope kind ("" when the value carries none) and
// the value itself typed for payload access.
func envelopeOf(v any) (string, any) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", nil
	}
	meta, ok := m[metaKey].(map[string]any)
	if !ok {
		return "", nil
	}
	kind, _ := meta[metaKindKey].(string)
	return kind, v
}

// envelopeSource returns the originating node ID recorded in a value's
// envelope, or empty when the value carries none.
func envelopeSource(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	meta, ok := m[metaKey].(map[string]any)
	if !ok {
		return ""
	}
	source, _ := meta[metaSourceKey].(string)
	return source
}
