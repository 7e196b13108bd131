package flow

// Kind identifies the computation a node performs. The engine only inspects
// the kind to route dispatch; everything else about a node's behavior lives
// in its opaque Config and in the executor registered for the kind.
type Kind string

const (
	// KindLLM calls a language model provider with a templated prompt.
	KindLLM Kind = "llm"

	// KindAPI performs an HTTP request against an external service.
	KindAPI Kind = "api"

	// KindConditional evaluates a predicate over its input and activates
	// exactly one of its two output handles.
	KindConditional Kind = "conditional"

	// KindMerger accumulates values arriving from multiple upstream branches
	// into a single output. Merger dispatch is handled inside the engine.
	KindMerger Kind = "merger"

	// KindOutput renders or passes through its input as a terminal value.
	KindOutput Kind = "output"

	// KindInput produces a configured value, or the current iteration item
	// when executed inside a group.
	KindInput Kind = "input"

	// KindGroup iterates its internal subgraph once per item of a designated
	// source sequence. Group dispatch is handled inside the engine.
	KindGroup Kind = "group"
)

// Well-known handle names. A handle is a named port distinguishing multiple
// inputs or outputs on one node. Absent handles on an edge normalize to
// HandleOutput on the source side and HandleInput on the target side.
const (
	HandleOutput = "output"
	HandleInput  = "input"

	// HandleTrue and HandleFalse are the two output handles of a conditional
	// node. Exactly one of them is active after the conditional succeeds.
	HandleTrue  = "trueHandle"
	HandleFalse = "falseHandle"
)

// Node is a computation unit with an identity, a kind, and an opaque config
// that is passed through to the kind's executor untouched.
type Node struct {
	// ID uniquely identifies the node within a flow.
	ID string

	// Kind selects the executor responsible for this node.
	Kind Kind

	// Config holds kind-specific configuration. The engine never interprets
	// it, with two exceptions: merger mode settings and group iteration
	// settings, which belong to engine-internal node kinds.
	Config map[string]any

	// GroupID is the ID of the group node this node belongs to, or empty for
	// top-level nodes. Nodes sharing a GroupID form that group's internal
	// subgraph and are executed once per iterated item.
	GroupID string
}

// Edge is a directed link between two nodes. Handles disambiguate a
// conditional's two outputs and a merger's multiple inputs.
type Edge struct {
	ID           string
	Source       string
	SourceHandle string
	Target       string
	TargetHandle string
}

// EffectiveSourceHandle returns the edge's source handle, defaulting to
// HandleOutput when unset.
func (e Edge) EffectiveSourceHandle() string {
	if e.SourceHandle == "" {
		return HandleOutput
	}
	return e.SourceHandle
}

// EffectiveTargetHandle returns the edge's target handle, defaulting to
// HandleInput when unset.
func (e Edge) EffectiveTargetHandle() string {
	if e.TargetHandle == "" {
		return HandleInput
	}
	return e.TargetHandle
}
