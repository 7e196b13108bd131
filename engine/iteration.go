package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomflow/loomflow/flow"
)

// GroupItemResult is the per-item outcome published progressively while a
// group iterates. The group's own result is the ordered list of these,
// wrapped in a batch envelope.
type GroupItemResult struct {
	// Item is the source item this iteration processed.
	Item any `json:"item"`

	// NodeResults maps each internal node ID to its result for this item.
	NodeResults map[string]any `json:"nodeResults"`

	// FinalOutput is the designated output node's result, unwrapped.
	FinalOutput any `json:"finalOutput"`

	// ConditionalBranch names the handle an internal conditional activated,
	// when the group contains one.
	ConditionalBranch string `json:"conditionalBranch,omitempty"`

	// Status is "success" or "error". A failed item does not fail the group.
	Status Status `json:"status"`

	// Error carries the failure message when Status is StatusError.
	Error string `json:"error,omitempty"`
}

// groupConfig is the subset of a group node's config the engine interprets.
type groupConfig struct {
	SourceNodeID string
	OutputNodeID string
}

func decodeGroupConfig(cfg map[string]any) groupConfig {
	var gc groupConfig
	if cfg == nil {
		return gc
	}
	gc.SourceNodeID, _ = cfg["sourceNodeId"].(string)
	gc.OutputNodeID, _ = cfg["outputNodeId"].(string)
	return gc
}

// runGroup iterates a group node's internal subgraph once per item of its
// designated source node's result. Each item runs against freshly reset
// internal state under its own sub-execution context; item failures are
// recorded on the item and do not fail the group. The group's result is a
// batch envelope over the ordered per-item results, republished after every
// completed item so observers see progress before the group settles.
func (r *run) runGroup(ctx context.Context, group flow.Node, ec ExecutionContext) (any, error) {
	e := r.engine
	cfg := decodeGroupConfig(group.Config)
	if cfg.SourceNodeID == "" {
		return nil, &IterationSourceError{GroupID: group.ID, Err: errors.New("no source node configured")}
	}

	items, err := r.iterationItems(group.ID, cfg.SourceNodeID)
	if err != nil {
		return nil, err
	}

	members, memberEdges := r.groupMembers(group.ID)
	if len(members) == 0 {
		return WrapBatch(nil, group.ID), nil
	}
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID)
	}

	sub := flow.NewGraph(members, memberEdges)
	rootIDs := sub.Roots()

	total := len(items)
	itemResults := make([]any, 0, total)

	for index, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Every item starts from a clean slate: internal node states and
		// merger accumulations carry nothing over from the previous item.
		e.store.Reset(memberIDs...)
		for _, m := range members {
			if m.Kind == flow.KindMerger {
				e.accumulator.Reset(m.ID)
			}
		}

		sec := subContext(group.ID, index, total, item)
		itemLogger := r.logger.With("groupId", group.ID, "iteration", index)
		itemLogger.Debug("group iteration started", "total", total)

		itemRun := &run{engine: e, nodes: r.nodes, edges: r.edges, logger: itemLogger}
		nodeResults, runErr := itemRun.execute(ctx, sub, rootIDs, sec)

		result := r.itemResult(sub, cfg, item, nodeResults, runErr)
		itemResults = append(itemResults, result)
		if result.Status == StatusError {
			itemLogger.Warn("group iteration failed", "error", result.Error)
		} else {
			itemLogger.Debug("group iteration completed")
		}

		// Publish progressively so downstream observers can read partial
		// results while later items are still running.
		e.store.Set(group.ID, ec.ExecutionID, Update{
			Result:    WrapBatch(append([]any(nil), itemResults...), group.ID),
			HasResult: true,
		})
		e.hooks.iterationProgress(group.ID, index+1, total, result)
	}

	return WrapBatch(itemResults, group.ID), nil
}

// iterationItems resolves the group's source node result into the ordered
// item sequence to iterate over.
func (r *run) iterationItems(groupID, sourceNodeID string) ([]any, error) {
	state := r.engine.store.Get(sourceNodeID)
	if state.Status != StatusSuccess {
		return nil, &IterationSourceError{
			GroupID:      groupID,
			SourceNodeID: sourceNodeID,
			Err:          fmt.Errorf("source node finished with status %q", state.Status),
		}
	}

	unwrapped := Unwrap(state.Result)
	items, ok := bareSlice(unwrapped)
	if !ok {
		return nil, &IterationSourceError{
			GroupID:      groupID,
			SourceNodeID: sourceNodeID,
			Err:          fmt.Errorf("result %T is not an ordered item sequence", unwrapped),
		}
	}
	return items, nil
}

// groupMembers returns the nodes assigned to the group and the edges fully
// contained between them. Edges crossing the group boundary are not part of
// the internal subgraph; entry happens through the subgraph's roots.
func (r *run) groupMembers(groupID string) ([]flow.Node, []flow.Edge) {
	members := make([]flow.Node, 0)
	memberSet := make(map[string]bool)
	for _, n := range r.nodes {
		if n.GroupID == groupID {
			members = append(members, n)
			memberSet[n.ID] = true
		}
	}

	memberEdges := make([]flow.Edge, 0)
	for _, edge := range r.edges {
		if memberSet[edge.Source] && memberSet[edge.Target] {
			memberEdges = append(memberEdges, edge)
		}
	}
	return members, memberEdges
}

// itemResult assembles one iteration's GroupItemResult from the sub-run's
// outcome and the internal node states.
func (r *run) itemResult(sub *flow.Graph, cfg groupConfig, item any, nodeResults map[string]any, runErr error) GroupItemResult {
	e := r.engine

	result := GroupItemResult{
		Item:        item,
		NodeResults: nodeResults,
		Status:      StatusSuccess,
	}

	for _, n := range sub.Nodes() {
		state := e.store.Get(n.ID)
		if n.Kind == flow.KindConditional && state.ActiveOutputHandle != "" {
			result.ConditionalBranch = state.ActiveOutputHandle
		}
		if state.Status == StatusError && result.Error == "" {
			result.Status = StatusError
			result.Error = state.Error
		}
	}
	if runErr != nil {
		result.Status = StatusError
		result.Error = runErr.Error()
	}

	outputID := cfg.OutputNodeID
	if outputID == "" {
		outputID = r.defaultOutputNode(sub)
	}
	if value, ok := nodeResults[outputID]; ok {
		result.FinalOutput = Unwrap(value)
	}
	return result
}

// defaultOutputNode picks the group's implicit output when none is
// configured: the first leaf of the internal subgraph in node order.
func (r *run) defaultOutputNode(sub *flow.Graph) string {
	for _, n := range sub.Nodes() {
		if len(sub.Outgoing(n.ID)) == 0 {
			return n.ID
		}
	}
	return ""
}
