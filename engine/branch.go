package engine

import "github.com/loomflow/loomflow/flow"

// readiness is the outcome of resolving a pending node's dependencies.
type readiness int

const (
	// notReady means at least one dependency has not reached a terminal
	// state yet; the node stays pending for a later wave.
	notReady readiness = iota

	// readyNow means every dependency is satisfied and the node can be
	// dispatched.
	readyNow

	// skipNow means the node can never become ready in this run: a
	// dependency failed or was skipped, or every edge from a completed
	// conditional bypasses this node. The node is marked skipped
	// permanently rather than left pending forever.
	skipNow
)

// resolveReadiness decides whether a pending node can be dispatched. A node
// is ready iff every edge targeting it has a source in success state, and for
// any conditional source, at least one of its edges to this node carries the
// source handle the conditional activated. This is what prunes dead branches:
// nodes reachable only through the untaken branch resolve to skipNow.
func resolveReadiness(g *flow.Graph, store *Store, nodeID string) readiness {
	incoming := g.Incoming(nodeID)
	if len(incoming) == 0 {
		return readyNow
	}

	edgesBySource := make(map[string][]flow.Edge)
	for _, e := range incoming {
		edgesBySource[e.Source] = append(edgesBySource[e.Source], e)
	}

	result := readyNow
	for source, edges := range edgesBySource {
		state := store.Get(source)
		switch state.Status {
		case StatusError, StatusSkipped:
			return skipNow
		case StatusSuccess:
			sourceNode, ok := g.Node(source)
			if !ok || sourceNode.Kind != flow.KindConditional {
				continue
			}
			matched := false
			for _, e := range edges {
				if e.EffectiveSourceHandle() == state.ActiveOutputHandle {
					matched = true
					break
				}
			}
			if !matched {
				return skipNow
			}
		default:
			// Keep scanning the remaining sources: a terminal failure or
			// branch mismatch elsewhere still forces a permanent skip.
			result = notReady
		}
	}
	return result
}
