package executors

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loomflow/loomflow/engine"
	"github.com/loomflow/loomflow/flow"
)

func httpRequest(cfg map[string]any, input any) engine.Request {
	req := engine.Request{
		Node:   flow.Node{ID: "call", Kind: flow.KindAPI, Config: cfg},
		Inputs: map[string][]any{},
	}
	if input != nil {
		req.Inputs[flow.HandleInput] = []any{input}
	}
	return req
}

func newHTTPExecutorForTest() *HTTPExecutor {
	return NewHTTPExecutor(Config{})
}

func TestHTTPExecuteDecodesJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"answer": 42}`)
	}))
	defer server.Close()

	result, err := newHTTPExecutorForTest().Execute(context.Background(),
		httpRequest(map[string]any{"url": server.URL}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["answer"] != float64(42) {
		t.Errorf("expected decoded JSON, got %v", result)
	}
}

func TestHTTPExecutePlainTextPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "just text")
	}))
	defer server.Close()

	result, err := newHTTPExecutorForTest().Execute(context.Background(),
		httpRequest(map[string]any{"url": server.URL}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "just text" {
		t.Errorf("expected raw body, got %v", result)
	}
}

func TestHTTPExecuteTemplatesURLBodyHeaders(t *testing.T) {
	var got struct {
		path   string
		method string
		body   string
		header string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		got.path = r.URL.Path
		got.method = r.Method
		got.body = string(payload)
		got.header = r.Header.Get("X-Token")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{}`)
	}))
	defer server.Close()

	cfg := map[string]any{
		"method":  "post",
		"url":     server.URL + "/things/{{.input}}",
		"body":    `{"echo": "{{.input}}"}`,
		"headers": map[string]any{"X-Token": "secret-{{.input}}"},
	}
	if _, err := newHTTPExecutorForTest().Execute(context.Background(), httpRequest(cfg, "abc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.method != http.MethodPost {
		t.Errorf("expected POST, got %s", got.method)
	}
	if got.path != "/things/abc" {
		t.Errorf("expected templated path, got %s", got.path)
	}
	if got.body != `{"echo": "abc"}` {
		t.Errorf("expected templated body, got %s", got.body)
	}
	if got.header != "secret-abc" {
		t.Errorf("expected templated header, got %s", got.header)
	}
}

func TestHTTPExecuteNonSuccessStatusFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newHTTPExecutorForTest().Execute(context.Background(),
		httpRequest(map[string]any{"url": server.URL}, nil))
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestHTTPExecuteMissingURLFails(t *testing.T) {
	_, err := newHTTPExecutorForTest().Execute(context.Background(), httpRequest(nil, nil))
	if err == nil {
		t.Fatal("expected error for missing url")
	}
}

const samplePage = `<html><body>
<h1 id="title">Page Title</h1>
<div class="entry"><a href="/one">First</a></div>
<div class="entry"><a href="/two">Second</a></div>
<p>Some <b>bold</b> prose.</p>
</body></html>`

func htmlServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, samplePage)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPExecuteMarkdownConversion(t *testing.T) {
	server := htmlServer(t)

	result, err := newHTTPExecutorForTest().Execute(context.Background(),
		httpRequest(map[string]any{"url": server.URL, "convertToMarkdown": true}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	markdown, ok := result.(string)
	if !ok {
		t.Fatalf("expected markdown string, got %T", result)
	}
	if !strings.Contains(markdown, "# Page Title") {
		t.Errorf("expected heading converted, got %q", markdown)
	}
	if !strings.Contains(markdown, "**bold**") {
		t.Errorf("expected bold converted, got %q", markdown)
	}
}

func TestHTTPExecuteExtractionRules(t *testing.T) {
	server := htmlServer(t)

	cfg := map[string]any{
		"url": server.URL,
		"extract": []any{
			map[string]any{"name": "title", "selector": "#title"},
			map[string]any{"name": "entries", "selector": "div.entry", "multiple": true},
			map[string]any{"name": "links", "selector": "a", "target": "attribute", "attribute": "href", "multiple": true},
			map[string]any{"name": "firstEntryHtml", "selector": ".entry", "target": "html"},
			map[string]any{"name": "missing", "selector": "#nope"},
		},
	}

	result, err := newHTTPExecutorForTest().Execute(context.Background(), httpRequest(cfg, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected extraction map, got %T", result)
	}

	if out["title"] != "Page Title" {
		t.Errorf("expected id selector to find the title, got %v", out["title"])
	}

	entries, ok := out["entries"].([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %v", out["entries"])
	}
	if entries[0] != "First" || entries[1] != "Second" {
		t.Errorf("expected entry texts, got %v", entries)
	}

	links, ok := out["links"].([]any)
	if !ok || len(links) != 2 || links[0] != "/one" || links[1] != "/two" {
		t.Errorf("expected hrefs extracted, got %v", out["links"])
	}

	fragment, ok := out["firstEntryHtml"].(string)
	if !ok || !strings.Contains(fragment, `<a href="/one">`) {
		t.Errorf("expected html target to render the element, got %v", out["firstEntryHtml"])
	}

	if out["missing"] != nil {
		t.Errorf("expected nil for unmatched single rule, got %v", out["missing"])
	}
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		raw  string
		want selector
	}{
		{"div", selector{tag: "div"}},
		{"#main", selector{id: "main"}},
		{".card", selector{class: "card"}},
		{"div.card", selector{tag: "div", class: "card"}},
		{"h1#title", selector{tag: "h1", id: "title"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := parseSelector(tt.raw); got != tt.want {
				t.Errorf("parseSelector(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}
