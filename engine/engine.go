package engine

import (
	"context"
	"log/slog"

	"github.com/loomflow/loomflow/flow"
)

// Request carries everything a node executor receives for one dispatch.
type Request struct {
	// Node is the node being executed, including its opaque config.
	Node flow.Node

	// Inputs maps each target handle to the ordered list of values that
	// arrived on it. Values are stripped of metadata envelopes.
	Inputs map[string][]any

	// Context identifies the enclosing run and, for group-internal nodes,
	// the current iteration.
	Context ExecutionContext
}

// FirstInput returns the first value on the default input handle, or nil.
func (r Request) FirstInput() any {
	values := r.Inputs[flow.HandleInput]
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// Executor is the external collaborator that performs a node's actual work
// (an LLM call, an HTTP request, a predicate evaluation). Returning an error
// maps the node to error status; the run continues for independent branches.
// Expected domain failures may instead be described inside the returned
// value.
type Executor interface {
	Execute(ctx context.Context, req Request) (any, error)
}

// ExecutorFunc adapts an ordinary function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (any, error)

// Execute calls the underlying function.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// ConditionalResult is the contract a conditional node's executor fulfills:
// exactly one activated output handle plus the input value passed through
// unchanged. The scheduler records OutputHandle on the node's state, which
// drives downstream branch pruning.
type ConditionalResult struct {
	OutputHandle string
	Value        any
}

// Registry binds one executor per node kind. It is assembled once at engine
// construction; merger and group nodes are handled inside the engine and need
// no registry entry.
type Registry map[flow.Kind]Executor

// Engine executes node/edge graphs. It owns the node state store and the
// merger accumulator; the executors, logger, and hooks are injected at
// construction. An Engine is safe for sequential re-use across runs; a fresh
// top-level Run resets the state of the nodes it covers.
type Engine struct {
	registry    Registry
	store       *Store
	accumulator *accumulator
	logger      *slog.Logger
	hooks       Hooks
	maxParallel int
}

// New creates an Engine with the given executor registry.
func New(registry Registry, opts ...Option) *Engine {
	cfg := config{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Engine{
		registry:    registry,
		store:       NewStore(),
		accumulator: newAccumulator(),
		logger:      cfg.logger,
		hooks:       cfg.hooks,
		maxParallel: cfg.maxParallel,
	}
}

// Store exposes the engine's node state store. Every node's final status,
// result, and error are queryable here after a run completes.
func (e *Engine) Store() *Store {
	return e.store
}

// Run executes the graph formed by the given nodes and edges, starting from
// the supplied node IDs. Start IDs are seeded into the ready queue directly,
// bypassing their own dependencies: the caller decides the true entry points
// even when a start node nominally has upstream edges.
//
// Group-internal nodes (non-empty GroupID) are excluded from the top-level
// subset; they run inside their group's iteration.
//
// Run returns the mapping from node ID to result for every node that reached
// success. Individual node failures do not fail the run; deadlock and
// loop-limit errors do.
func (e *Engine) Run(ctx context.Context, nodes []flow.Node, edges []flow.Edge, startIDs []string) (map[string]any, error) {
	topLevel := make([]flow.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.GroupID == "" {
			topLevel = append(topLevel, n)
		}
	}
	graph := flow.NewGraph(topLevel, edges)

	trigger := ""
	if len(startIDs) > 0 {
		trigger = startIDs[0]
	}
	ec := NewExecutionContext(trigger)

	// A fresh run overwrites all prior state for the nodes it covers,
	// including group-internal nodes and merger accumulations.
	resetIDs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		resetIDs = append(resetIDs, n.ID)
		if n.Kind == flow.KindMerger {
			e.accumulator.Reset(n.ID)
		}
	}
	e.store.Reset(resetIDs...)
	e.store.RegisterExecution(ec.ExecutionID)

	r := &run{
		engine: e,
		nodes:  nodes,
		edges:  edges,
		logger: e.logger.With("executionId", ec.ExecutionID),
	}
	return r.execute(ctx, graph, startIDs, ec)
}
