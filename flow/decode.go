package flow

import (
	"encoding/json"
	"fmt"
	"io"
)

// fileNode mirrors the canvas export format for a node. Positional and visual
// fields (position, width, selected, ...) are intentionally not declared:
// execution ignores them entirely.
type fileNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	ParentID string         `json:"parentId"`
}

type fileEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
}

type file struct {
	Nodes []fileNode `json:"nodes"`
	Edges []fileEdge `json:"edges"`
}

// Decode reads a flow file (ordered node list plus edge list) and returns the
// node and edge subsets in file order. Node order is preserved because it
// determines deterministic tie-breaking in the engine's wave scans.
func Decode(r io.Reader) ([]Node, []Edge, error) {
	var f file
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, nil, fmt.Errorf("failed to decode flow: %w", err)
	}

	nodes := make([]Node, 0, len(f.Nodes))
	for _, fn := range f.Nodes {
		if fn.ID == "" {
			return nil, nil, fmt.Errorf("flow contains a node without an id")
		}
		nodes = append(nodes, Node{
			ID:      fn.ID,
			Kind:    Kind(fn.Type),
			Config:  fn.Data,
			GroupID: fn.ParentID,
		})
	}

	edges := make([]Edge, 0, len(f.Edges))
	for _, fe := range f.Edges {
		if fe.Source == "" || fe.Target == "" {
			return nil, nil, fmt.Errorf("edge %q is missing an endpoint", fe.ID)
		}
		edges = append(edges, Edge{
			ID:           fe.ID,
			Source:       fe.Source,
			SourceHandle: fe.SourceHandle,
			Target:       fe.Target,
			TargetHandle: fe.TargetHandle,
		})
	}

	return nodes, edges, nil
}
