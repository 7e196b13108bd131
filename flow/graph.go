package flow

import (
	"fmt"
	"sort"
)

// Graph provides adjacency and dependency queries over a node subset and an
// edge subset. Edges whose endpoints are not both inside the node subset are
// excluded from adjacency (but retained for Validate, which treats a dangling
// endpoint as a structural error when validating a complete flow).
//
// A Graph is immutable after construction and safe for concurrent reads.
type Graph struct {
	nodes     map[string]Node
	nodeOrder []string

	// allEdges keeps the caller-supplied edges for validation.
	allEdges []Edge

	// incoming and outgoing only contain edges restricted to the subset.
	incoming map[string][]Edge
	outgoing map[string][]Edge

	duplicateIDs []string
}

// NewGraph builds a Graph from the given node and edge subsets. It is a pure
// function of its inputs: no validation failures are raised here, so that
// subgraphs (where edges naturally cross the boundary) can be constructed
// freely. Use Validate to check a complete flow for structural errors.
func NewGraph(nodes []Node, edges []Edge) *Graph {
	g := &Graph{
		nodes:     make(map[string]Node, len(nodes)),
		nodeOrder: make([]string, 0, len(nodes)),
		allEdges:  edges,
		incoming:  make(map[string][]Edge),
		outgoing:  make(map[string][]Edge),
	}

	for _, n := range nodes {
		if _, exists := g.nodes[n.ID]; exists {
			g.duplicateIDs = append(g.duplicateIDs, n.ID)
			continue
		}
		g.nodes[n.ID] = n
		g.nodeOrder = append(g.nodeOrder, n.ID)
	}

	for _, e := range edges {
		_, hasSource := g.nodes[e.Source]
		_, hasTarget := g.nodes[e.Target]
		if !hasSource || !hasTarget {
			continue
		}
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	}

	return g
}

// Node returns the node with the given ID and whether it is in the subset.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	nodes := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Size returns the number of nodes in the subset.
func (g *Graph) Size() int {
	return len(g.nodes)
}

// Incoming returns the edges targeting the given node, restricted to the
// subset, in edge insertion order.
func (g *Graph) Incoming(id string) []Edge {
	return g.incoming[id]
}

// Outgoing returns the edges originating from the given node, restricted to
// the subset, in edge insertion order.
func (g *Graph) Outgoing(id string) []Edge {
	return g.outgoing[id]
}

// Predecessors returns the IDs of the direct dependencies of the given node:
// sources of edges targeting it within the subset. A source appearing on
// multiple edges is reported once.
func (g *Graph) Predecessors(id string) []string {
	return uniqueEndpoints(g.incoming[id], func(e Edge) string { return e.Source })
}

// Successors returns the IDs of the direct dependents of the given node:
// targets of edges originating from it within the subset. A target appearing
// on multiple edges is reported once.
func (g *Graph) Successors(id string) []string {
	return uniqueEndpoints(g.outgoing[id], func(e Edge) string { return e.Target })
}

// Roots returns the IDs of nodes with no incoming edge within the subset,
// in insertion order.
func (g *Graph) Roots() []string {
	roots := make([]string, 0)
	for _, id := range g.nodeOrder {
		if len(g.incoming[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Subgraph returns a new Graph restricted to the given node IDs. Edges are
// further restricted to those with both endpoints in the new subset. IDs not
// present in the receiver are ignored.
func (g *Graph) Subgraph(ids []string) *Graph {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}

	nodes := make([]Node, 0, len(ids))
	for _, id := range g.nodeOrder {
		if keep[id] {
			nodes = append(nodes, g.nodes[id])
		}
	}
	return NewGraph(nodes, g.allEdges)
}

// Validate checks the graph as a complete flow: node IDs must be unique,
// every edge endpoint must reference an existing node, and the graph must be
// acyclic. Cycle detection uses Kahn's algorithm; the error names the nodes
// left unprocessed.
func (g *Graph) Validate() error {
	if len(g.duplicateIDs) > 0 {
		return fmt.Errorf("duplicate node IDs: %v", g.duplicateIDs)
	}

	for _, e := range g.allEdges {
		if _, ok := g.nodes[e.Source]; !ok {
			return fmt.Errorf("edge %q references non-existent source node %q", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return fmt.Errorf("edge %q references non-existent target node %q", e.ID, e.Target)
		}
	}

	if cycleNodes := g.findCycle(); len(cycleNodes) > 0 {
		return fmt.Errorf("cycle detected in graph involving nodes: %v", cycleNodes)
	}

	return nil
}

// findCycle runs Kahn's algorithm over the restricted adjacency and returns
// the IDs of nodes that could not be topologically ordered, sorted for a
// stable error message. An empty result means the graph is acyclic.
func (g *Graph) findCycle() []string {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.Predecessors(id))
	}

	queue := make([]string, 0)
	for _, id := range g.nodeOrder {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, succ := range g.Successors(id) {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if processed == len(g.nodes) {
		return nil
	}

	cycleNodes := make([]string, 0)
	for id, degree := range inDegree {
		if degree > 0 {
			cycleNodes = append(cycleNodes, id)
		}
	}
	sort.Strings(cycleNodes)
	return cycleNodes
}

func uniqueEndpoints(edges []Edge, endpoint func(Edge) string) []string {
	seen := make(map[string]bool, len(edges))
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		id := endpoint(e)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
