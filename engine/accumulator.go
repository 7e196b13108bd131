package engine

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/loomflow/loomflow/flow"
	"github.com/loomflow/loomflow/internal/parse"
)

// MergerMode selects how a merger computes its output from the accumulated
// input list.
type MergerMode string

const (
	// MergeConcat flattens the accumulated items into one ordered sequence.
	MergeConcat MergerMode = "concat"

	// MergeJoin stringifies each item and joins them with a separator.
	MergeJoin MergerMode = "join"

	// MergeObject builds a mapping keyed by property name, source node ID,
	// or positional fallback, in that precedence order.
	MergeObject MergerMode = "object"
)

// mergerConfig is the subset of a merger node's config the engine interprets.
type mergerConfig struct {
	Mode          MergerMode
	Separator     string
	PropertyNames []string
}

func decodeMergerConfig(cfg map[string]any) mergerConfig {
	mc := mergerConfig{Mode: MergeConcat, Separator: "\n"}
	if cfg == nil {
		return mc
	}
	if mode, ok := cfg["mode"].(string); ok && mode != "" {
		mc.Mode = MergerMode(mode)
	}
	if separator, ok := cfg["separator"].(string); ok {
		mc.Separator = separator
	}
	switch names := cfg["propertyNames"].(type) {
	case []string:
		mc.PropertyNames = names
	case []any:
		for _, name := range names {
			if s, ok := name.(string); ok {
				mc.PropertyNames = append(mc.PropertyNames, s)
			}
		}
	}
	return mc
}

// arrivingInput is one satisfied input edge of a merger at dispatch time,
// carrying the raw (possibly enveloped) upstream value.
type arrivingInput struct {
	EdgeID       string
	SourceNodeID string
	Value        any
}

// accumulator implements merger accumulation with a single-writer-per-node
// discipline: all read-classify-append-writeback cycles for one node run
// under that node's mutex, never as a closure over a stale snapshot.
type accumulator struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	consumed map[string]map[string]bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		locks:    make(map[string]*sync.Mutex),
		consumed: make(map[string]map[string]bool),
	}
}

func (a *accumulator) lockFor(nodeID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[nodeID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[nodeID] = lock
	}
	return lock
}

func (a *accumulator) consumedFor(nodeID string) map[string]bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	edges, ok := a.consumed[nodeID]
	if !ok {
		edges = make(map[string]bool)
		a.consumed[nodeID] = edges
	}
	return edges
}

// Reset clears only the given node's accumulation bookkeeping. The
// accumulated list itself lives on the node's state and is cleared by the
// caller through the store.
func (a *accumulator) Reset(nodeID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.consumed, nodeID)
}

// Accumulate merges the newly arrived inputs into the node's accumulated
// list, writes the list back, and computes the merger's output per its
// configured mode. The accumulated list persists across repeated dispatches
// within the same execution; inputs are deduplicated by edge so a
// re-dispatch only appends genuinely new arrivals.
func (a *accumulator) Accumulate(node flow.Node, ec ExecutionContext, arrivals []arrivingInput, store *Store) (any, error) {
	lock := a.lockFor(node.ID)
	lock.Lock()
	defer lock.Unlock()

	accumulated := append([]AccumulatedInput(nil), store.Get(node.ID).AccumulatedInputs...)
	consumed := a.consumedFor(node.ID)

	for _, in := range arrivals {
		if consumed[in.EdgeID] {
			continue
		}
		consumed[in.EdgeID] = true
		accumulated = append(accumulated, classifyInput(in)...)
	}

	if !store.Set(node.ID, ec.ExecutionID, Update{AccumulatedInputs: accumulated, HasAccumulated: true}) {
		return nil, fmt.Errorf("merger %q accumulation superseded by a newer run", node.ID)
	}

	return computeMergerOutput(decodeMergerConfig(node.Config), accumulated)
}

// classifyInput expands one arriving value into accumulated items:
// batch-tagged values flatten into their elements, foreach-item-tagged values
// count as exactly one item, bare arrays flatten (legacy behavior), and
// anything else is added as-is. Envelopes are stripped here so accumulated
// values are always plain.
func classifyInput(in arrivingInput) []AccumulatedInput {
	kind, _ := envelopeOf(in.Value)
	switch kind {
	case metaKindBatch:
		payload := in.Value.(map[string]any)
		items, _ := payload[batchItemsKey].([]any)
		source := envelopeSource(in.Value)
		if source == "" {
			source = in.SourceNodeID
		}
		out := make([]AccumulatedInput, 0, len(items))
		for _, item := range items {
			itemSource := envelopeSource(item)
			if itemSource == "" {
				itemSource = source
			}
			out = append(out, AccumulatedInput{Value: Unwrap(item), SourceNodeID: itemSource})
		}
		return out

	case metaKindForeachItem:
		source := envelopeSource(in.Value)
		if source == "" {
			source = in.SourceNodeID
		}
		return []AccumulatedInput{{Value: Unwrap(in.Value), SourceNodeID: source}}

	default:
		if elements, ok := bareSlice(in.Value); ok {
			out := make([]AccumulatedInput, 0, len(elements))
			for _, element := range elements {
				out = append(out, AccumulatedInput{Value: Unwrap(element), SourceNodeID: in.SourceNodeID})
			}
			return out
		}
		return []AccumulatedInput{{Value: in.Value, SourceNodeID: in.SourceNodeID}}
	}
}

// bareSlice reports whether the value is a flattenable sequence. Byte slices
// are opaque payloads, not sequences.
func bareSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	elements := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elements[i] = rv.Index(i).Interface()
	}
	return elements, true
}

// computeMergerOutput derives the merger's downstream-facing result from the
// accumulated list. Downstream nodes receive this computed output, never the
// raw newly-added input.
func computeMergerOutput(cfg mergerConfig, accumulated []AccumulatedInput) (any, error) {
	switch cfg.Mode {
	case MergeConcat:
		out := make([]any, 0, len(accumulated))
		for _, item := range accumulated {
			out = append(out, item.Value)
		}
		return out, nil

	case MergeJoin:
		parts := make([]string, 0, len(accumulated))
		for _, item := range accumulated {
			parts = append(parts, parse.Stringify(item.Value))
		}
		return strings.Join(parts, cfg.Separator), nil

	case MergeObject:
		out := make(map[string]any, len(accumulated))
		for i, item := range accumulated {
			key := ""
			if i < len(cfg.PropertyNames) {
				key = cfg.PropertyNames[i]
			}
			if key == "" {
				key = item.SourceNodeID
			}
			if key == "" {
				key = fmt.Sprintf("item_%d", i)
			}
			if _, taken := out[key]; taken {
				key = fmt.Sprintf("item_%d", i)
			}
			out[key] = item.Value
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown merger mode %q", cfg.Mode)
	}
}
