package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/loomflow/loomflow/flow"
)

// loopLimitSlack is the constant part of the scheduler's iteration safety
// cap: 3×|subset| + loopLimitSlack. The cap guards against engine bugs, not
// normal outcomes.
const loopLimitSlack = 10

// run carries the per-invocation scheduling state. The full node and edge
// lists (including group-internal nodes filtered out of the top-level graph)
// are retained so that group iteration can build internal subgraphs.
type run struct {
	engine *Engine
	nodes  []flow.Node
	edges  []flow.Edge
	logger *slog.Logger
}

// settlement is the outcome of one node dispatch, delivered back to the
// scheduling loop by the dispatch goroutine.
type settlement struct {
	nodeID string
	result any
	err    error
}

// execute drives the wave-based scheduling loop over the given graph:
//
//  1. Seed the ready queue with the caller's start IDs, bypassing their own
//     dependencies.
//  2. Scan pending nodes; queue those whose dependencies are satisfied, and
//     permanently skip those cut off by a taken branch or failed dependency.
//  3. Dispatch the wave concurrently, then await settlements and repeat the
//     downstream discovery.
//  4. Detect deadlock when no progress is possible with pending nodes
//     remaining, and trip the loop safety cap if it is ever exceeded.
//
// It returns the node ID → result map for every node that reached success.
func (r *run) execute(ctx context.Context, g *flow.Graph, startIDs []string, ec ExecutionContext) (map[string]any, error) {
	e := r.engine
	e.store.RegisterExecution(ec.ExecutionID)

	queued := make(map[string]bool, g.Size())
	results := make(map[string]any)

	// arrival records the settlement order of completed nodes; merger
	// accumulation consumes inputs in this order, not topological order.
	arrival := make(map[string]int, g.Size())
	arrivalSeq := 0

	settleCh := make(chan settlement, g.Size())
	inflight := 0

	var sem chan struct{}
	if e.maxParallel > 0 {
		sem = make(chan struct{}, e.maxParallel)
	}

	wave := make([]string, 0, g.Size())
	for _, id := range startIDs {
		if _, ok := g.Node(id); ok && !queued[id] {
			queued[id] = true
			wave = append(wave, id)
		}
	}

	loopLimit := 3*g.Size() + loopLimitSlack
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if iteration > loopLimit {
			return nil, &LoopLimitExceededError{Limit: loopLimit}
		}

		skipped := 0
		for _, n := range g.Nodes() {
			if queued[n.ID] {
				continue
			}
			if e.store.Get(n.ID).Status != StatusPending {
				continue
			}
			switch resolveReadiness(g, e.store, n.ID) {
			case readyNow:
				queued[n.ID] = true
				wave = append(wave, n.ID)
			case skipNow:
				queued[n.ID] = true
				skipped++
				e.store.Set(n.ID, ec.ExecutionID, Update{Status: StatusSkipped})
				r.logger.Debug("node skipped", "nodeId", n.ID)
			}
		}

		for _, id := range wave {
			node, _ := g.Node(id)
			e.store.Set(id, ec.ExecutionID, Update{Status: StatusRunning})
			e.hooks.nodeStart(id, ec)
			r.logger.Debug("node dispatched", "nodeId", id, "kind", string(node.Kind))
			inflight++
			r.dispatch(ctx, g, node, ec, arrival, sem, settleCh)
		}
		wave = wave[:0]

		if inflight == 0 {
			if skipped > 0 {
				// Skips can cut off further downstream nodes; rescan.
				continue
			}
			if stuck := pendingNodeIDs(g, e.store, queued); len(stuck) > 0 {
				return nil, &DeadlockError{NodeIDs: stuck}
			}
			break
		}

		// Await at least one settlement, then drain whatever else has
		// already finished before the next discovery pass.
		s := <-settleCh
		inflight--
		arrivalSeq++
		arrival[s.nodeID] = arrivalSeq
		r.settle(s, ec, results)

		for drained := false; !drained; {
			select {
			case s := <-settleCh:
				inflight--
				arrivalSeq++
				arrival[s.nodeID] = arrivalSeq
				r.settle(s, ec, results)
			default:
				drained = true
			}
		}
	}

	return results, nil
}

// dispatch hands a node to its executor asynchronously. Mergers and groups
// are engine-internal: mergers go through the accumulator with an
// arrival-ordered input snapshot taken here, groups through the iteration
// controller.
func (r *run) dispatch(ctx context.Context, g *flow.Graph, node flow.Node, ec ExecutionContext, arrival map[string]int, sem chan struct{}, settleCh chan<- settlement) {
	e := r.engine

	switch node.Kind {
	case flow.KindMerger:
		arrivals := r.mergerArrivals(g, node, arrival)
		go func() {
			acquire(sem)
			defer release(sem)
			result, err := e.accumulator.Accumulate(node, ec, arrivals, e.store)
			settleCh <- settlement{nodeID: node.ID, result: result, err: err}
		}()

	case flow.KindGroup:
		// Groups do not occupy an executor slot; their internal nodes do.
		go func() {
			result, err := r.runGroup(ctx, node, ec)
			settleCh <- settlement{nodeID: node.ID, result: result, err: err}
		}()

	default:
		exec, ok := e.registry[node.Kind]
		if !ok {
			settleCh <- settlement{nodeID: node.ID, err: &ExecutorNotFoundError{NodeID: node.ID, Kind: string(node.Kind)}}
			return
		}
		req := Request{
			Node:    node,
			Inputs:  r.collectInputs(g, node),
			Context: ec,
		}
		go func() {
			acquire(sem)
			defer release(sem)
			result, err := exec.Execute(ctx, req)
			settleCh <- settlement{nodeID: node.ID, result: result, err: err}
		}()
	}
}

// settle records one dispatch outcome. Failures are captured on the node's
// state without re-throwing; the run continues. A write the store discards as
// stale belongs to a superseded run and never reaches the result map.
func (r *run) settle(s settlement, ec ExecutionContext, results map[string]any) {
	e := r.engine

	if s.err != nil {
		execErr := &NodeExecutionError{NodeID: s.nodeID, Err: s.err}
		e.store.Set(s.nodeID, ec.ExecutionID, Update{
			Status:   StatusError,
			Error:    s.err.Error(),
			HasError: true,
		})
		e.hooks.nodeError(s.nodeID, execErr, ec)
		r.logger.Warn("node failed", "nodeId", s.nodeID, "error", s.err)
		return
	}

	update := Update{Status: StatusSuccess, Result: s.result, HasResult: true}
	value := s.result
	if cr, ok := s.result.(ConditionalResult); ok {
		update.Result = cr.Value
		update.ActiveOutputHandle = cr.OutputHandle
		update.HasActiveHandle = true
		value = cr.Value
		r.logger.Debug("conditional resolved", "nodeId", s.nodeID, "handle", cr.OutputHandle)
	}

	if !e.store.Set(s.nodeID, ec.ExecutionID, update) {
		r.logger.Debug("stale completion discarded", "nodeId", s.nodeID, "executionId", ec.ExecutionID)
		return
	}
	results[s.nodeID] = value
	e.hooks.nodeComplete(s.nodeID, value, ec)
	r.logger.Debug("node completed", "nodeId", s.nodeID)
}

// collectInputs assembles the handle → ordered value list mapping for a
// node's dispatch from its successful predecessors. Edges from conditionals
// contribute only when they carry the activated handle. Values are stripped
// of metadata envelopes; mergers take the raw path via mergerArrivals
// instead.
func (r *run) collectInputs(g *flow.Graph, node flow.Node) map[string][]any {
	inputs := make(map[string][]any)
	for _, edge := range g.Incoming(node.ID) {
		state := r.engine.store.Get(edge.Source)
		if state.Status != StatusSuccess {
			continue
		}
		source, ok := g.Node(edge.Source)
		if ok && source.Kind == flow.KindConditional && edge.EffectiveSourceHandle() != state.ActiveOutputHandle {
			continue
		}
		handle := edge.EffectiveTargetHandle()
		inputs[handle] = append(inputs[handle], Unwrap(state.Result))
	}
	return inputs
}

// mergerArrivals snapshots the merger's satisfied input edges ordered by
// settlement arrival of their sources. Sources completed before this run
// (arrival order unknown) sort first, stably in edge order.
func (r *run) mergerArrivals(g *flow.Graph, node flow.Node, arrival map[string]int) []arrivingInput {
	type candidate struct {
		edge  flow.Edge
		order int
	}

	candidates := make([]candidate, 0)
	for _, edge := range g.Incoming(node.ID) {
		state := r.engine.store.Get(edge.Source)
		if state.Status != StatusSuccess {
			continue
		}
		source, ok := g.Node(edge.Source)
		if ok && source.Kind == flow.KindConditional && edge.EffectiveSourceHandle() != state.ActiveOutputHandle {
			continue
		}
		candidates = append(candidates, candidate{edge: edge, order: arrival[edge.Source]})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].order < candidates[j].order
	})

	arrivals := make([]arrivingInput, 0, len(candidates))
	for _, c := range candidates {
		state := r.engine.store.Get(c.edge.Source)
		arrivals = append(arrivals, arrivingInput{
			EdgeID:       c.edge.ID,
			SourceNodeID: c.edge.Source,
			Value:        state.Result,
		})
	}
	return arrivals
}

// pendingNodeIDs returns the sorted IDs of nodes still pending and never
// queued — the stuck set reported by DeadlockError.
func pendingNodeIDs(g *flow.Graph, store *Store, queued map[string]bool) []string {
	stuck := make([]string, 0)
	for _, n := range g.Nodes() {
		if queued[n.ID] {
			continue
		}
		if store.Get(n.ID).Status == StatusPending {
			stuck = append(stuck, n.ID)
		}
	}
	sort.Strings(stuck)
	return stuck
}

func acquire(sem chan struct{}) {
	if sem != nil {
		sem <- struct{}{}
	}
}

func release(sem chan struct{}) {
	if sem != nil {
		<-sem
	}
}
