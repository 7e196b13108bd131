package engine

import (
	"fmt"
	"sort"
)

// NodeExecutionError wraps the failure of a single node's executor. It is
// recorded on the node's state; it does not abort sibling branches.
type NodeExecutionError struct {
	NodeID string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q execution failed: %v", e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// DeadlockError is raised when the scheduler can make no further progress
// while pending nodes remain: nothing is in flight, nothing became ready, and
// nothing was newly skipped. It is fatal to the enclosing run.
type DeadlockError struct {
	// NodeIDs names the stuck nodes, sorted for stable output.
	NodeIDs []string
}

func (e *DeadlockError) Error() string {
	ids := append([]string(nil), e.NodeIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("execution deadlocked with pending nodes: %v", ids)
}

// LoopLimitExceededError is raised when the scheduler loop exceeds its safety
// cap. It indicates an engine bug, not a normal outcome, and is fatal to the
// enclosing run.
type LoopLimitExceededError struct {
	Limit int
}

func (e *LoopLimitExceededError) Error() string {
	return fmt.Sprintf("scheduler loop exceeded safety limit of %d iterations", e.Limit)
}

// IterationSourceError is raised when a group's designated source node failed
// or its result is not an ordered sequence of items.
type IterationSourceError struct {
	GroupID      string
	SourceNodeID string
	Err          error
}

func (e *IterationSourceError) Error() string {
	return fmt.Sprintf("group %q iteration source %q: %v", e.GroupID, e.SourceNodeID, e.Err)
}

func (e *IterationSourceError) Unwrap() error {
	return e.Err
}

// ExecutorNotFoundError is raised when a node's kind has no registered
// executor. The affected node ends in error status.
type ExecutorNotFoundError struct {
	NodeID string
	Kind   string
}

func (e *ExecutorNotFoundError) Error() string {
	return fmt.Sprintf("no executor registered for kind %q (node %q)", e.Kind, e.NodeID)
}
