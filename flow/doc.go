// Package flow defines the data model of a flow: nodes, edges, kinds, and
// handle names, plus the immutable [Graph] that answers adjacency and
// dependency queries over a node subset.
//
// A Graph is a pure function of the nodes and edges it was built from, so
// subgraphs where edges cross the boundary can be constructed freely; use
// [Graph.Validate] to check a complete flow for duplicate IDs, dangling edge
// endpoints, and cycles. [Decode] reads the JSON document the visual editor
// exports, ignoring positional data.
package flow
