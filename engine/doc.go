// Package engine executes node/edge flow graphs: correctly ordered,
// partially concurrent, partially failing runs over the data model defined
// in the flow package.
//
// The scheduler drives a wave-based loop: the caller's start nodes seed the
// first wave (bypassing their own dependencies), every node whose
// dependencies are satisfied dispatches concurrently, and each settlement
// triggers a fresh discovery pass over the remaining pending nodes. Nodes cut
// off by a failed dependency or by the untaken branch of a conditional are
// marked skipped permanently instead of waiting forever; a run that can make
// no further progress with pending nodes remaining fails with
// [DeadlockError].
//
// Three node kinds receive special treatment:
//   - Conditional executors return [ConditionalResult]; the activated handle
//     is recorded on the node's state and prunes the other branch.
//   - Merger nodes accumulate values across arrivals within one execution
//     and recompute their output per the configured mode (concat, join,
//     object).
//   - Group nodes iterate their internal subgraph once per item of a
//     designated source sequence, publishing a [GroupItemResult] per item as
//     it completes.
//
// All other kinds dispatch through the [Executor] registered for them. Every
// node's final status, result, and error remain queryable from the engine's
// [Store] after the run.
//
// Example:
//
//	eng := engine.New(executors.NewRegistry(executors.Config{}),
//	    engine.WithLogger(logger),
//	    engine.WithHooks(engine.Hooks{
//	        OnNodeComplete: func(nodeID string, result any, _ engine.ExecutionContext) {
//	            fmt.Println(nodeID, "done")
//	        },
//	    }))
//
//	results, err := eng.Run(ctx, nodes, edges, []string{"start"})
package engine
