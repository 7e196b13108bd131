package engine

import "github.com/google/uuid"

// Iteration carries the scoped per-item context published while a group's
// internal subgraph executes. Internal nodes may consume it for
// input-templating.
type Iteration struct {
	// Index is the zero-based position of the current item.
	Index int

	// Total is the number of items the group iterates over.
	Total int

	// Item is the current item itself.
	Item any
}

// ExecutionContext identifies one run or subgraph invocation. Late
// completions from a superseded context are detected through the store's
// generation stamping and discarded.
type ExecutionContext struct {
	// ExecutionID is unique per run or subgraph invocation.
	ExecutionID string

	// TriggerNodeID is the node the caller started the run from.
	TriggerNodeID string

	// IsSubExecution is true for group-internal per-item runs.
	IsSubExecution bool

	// Iteration is set only for group-internal runs.
	Iteration *Iteration
}

// NewExecutionContext creates a top-level execution context with a fresh
// execution ID.
func NewExecutionContext(triggerNodeID string) ExecutionContext {
	return ExecutionContext{
		ExecutionID:   uuid.NewString(),
		TriggerNodeID: triggerNodeID,
	}
}

// subContext derives a per-item execution context for a group-internal run.
func subContext(groupID string, index, total int, item any) ExecutionContext {
	return ExecutionContext{
		ExecutionID:    uuid.NewString(),
		TriggerNodeID:  groupID,
		IsSubExecution: true,
		Iteration: &Iteration{
			Index: index,
			Total: total,
			Item:  item,
		},
	}
}
