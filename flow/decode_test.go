package flow

import (
	"strings"
	"testing"
)

const sampleFlow = `{
  "nodes": [
    {"id": "in", "type": "input", "position": {"x": 0, "y": 0}, "data": {"value": "hello"}},
    {"id": "llm", "type": "llm", "data": {"model": "gpt-4o-mini", "prompt": "{{.input}}"}},
    {"id": "worker", "type": "llm", "parentId": "grp", "data": {}},
    {"id": "grp", "type": "group", "data": {"sourceNodeId": "in"}}
  ],
  "edges": [
    {"id": "e1", "source": "in", "target": "llm"},
    {"id": "e2", "source": "llm", "sourceHandle": "output", "target": "grp", "targetHandle": "input"}
  ]
}`

func TestDecode(t *testing.T) {
	nodes, edges, err := Decode(strings.NewReader(sampleFlow))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	if len(nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(nodes))
	}
	if nodes[0].ID != "in" || nodes[0].Kind != KindInput {
		t.Errorf("expected first node (in, input), got (%s, %s)", nodes[0].ID, nodes[0].Kind)
	}
	if value := nodes[0].Config["value"]; value != "hello" {
		t.Errorf("expected config value hello, got %v", value)
	}
	if nodes[2].GroupID != "grp" {
		t.Errorf("expected parentId to map to GroupID, got %q", nodes[2].GroupID)
	}
	if nodes[1].GroupID != "" {
		t.Errorf("expected top-level node to have empty GroupID, got %q", nodes[1].GroupID)
	}

	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	if edges[1].SourceHandle != "output" || edges[1].TargetHandle != "input" {
		t.Errorf("expected handles preserved, got %+v", edges[1])
	}
}

func TestDecodeRejectsAnonymousNode(t *testing.T) {
	_, _, err := Decode(strings.NewReader(`{"nodes": [{"type": "input"}], "edges": []}`))
	if err == nil {
		t.Fatal("expected error for node without id")
	}
}

func TestDecodeRejectsDanglingEdgeEndpoint(t *testing.T) {
	_, _, err := Decode(strings.NewReader(`{"nodes": [], "edges": [{"id": "e1", "source": "a"}]}`))
	if err == nil || !strings.Contains(err.Error(), "e1") {
		t.Fatalf("expected error naming edge e1, got %v", err)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, _, err := Decode(strings.NewReader(`{"nodes": [`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
