package engine

// Hooks are optional observability callbacks consumed by outer layers (a UI,
// progress reporting, logging sinks). All fields may be nil. Callbacks are
// invoked synchronously from engine goroutines and must return quickly.
type Hooks struct {
	// OnNodeStart fires when a node transitions to running.
	OnNodeStart func(nodeID string, ec ExecutionContext)

	// OnNodeComplete fires when a node reaches success, with its result.
	OnNodeComplete func(nodeID string, result any, ec ExecutionContext)

	// OnNodeError fires when a node reaches error status.
	OnNodeError func(nodeID string, err error, ec ExecutionContext)

	// OnIterationProgress fires after each group item completes, before
	// later items run. completed counts processed items including this one.
	OnIterationProgress func(groupID string, completed, total int, item GroupItemResult)
}

func (h Hooks) nodeStart(nodeID string, ec ExecutionContext) {
	if h.OnNodeStart != nil {
		h.OnNodeStart(nodeID, ec)
	}
}

func (h Hooks) nodeComplete(nodeID string, result any, ec ExecutionContext) {
	if h.OnNodeComplete != nil {
		h.OnNodeComplete(nodeID, result, ec)
	}
}

func (h Hooks) nodeError(nodeID string, err error, ec ExecutionContext) {
	if h.OnNodeError != nil {
		h.OnNodeError(nodeID, err, ec)
	}
}

func (h Hooks) iterationProgress(groupID string, completed, total int, item GroupItemResult) {
	if h.OnIterationProgress != nil {
		h.OnIterationProgress(groupID, completed, total, item)
	}
}
