package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/loomflow/loomflow/engine"
)

// maxResponseBytes caps how much of an HTTP response body is read.
const maxResponseBytes = 10 << 20

// HTTPExecutor runs api nodes: a templated HTTP request whose response is
// decoded as JSON when the server says so, optionally converted from HTML to
// Markdown, or mined with extraction rules.
type HTTPExecutor struct {
	client *http.Client
	logger *slog.Logger
}

var _ engine.Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates the api node executor from the shared config.
func NewHTTPExecutor(cfg Config) *HTTPExecutor {
	cfg = cfg.withDefaults()
	return &HTTPExecutor{client: cfg.HTTPClient, logger: cfg.Logger}
}

// extractionRule mines one named value out of an HTML response. Selector
// supports tag, #id, .class, and tag.class forms.
type extractionRule struct {
	Name      string
	Selector  string
	Target    string // "text" (default), "html", or "attribute"
	Attribute string
	Multiple  bool
}

type httpConfig struct {
	Method            string
	URL               string
	Headers           map[string]string
	Body              string
	ConvertToMarkdown bool
	Extract           []extractionRule
}

func decodeHTTPConfig(cfg map[string]any) httpConfig {
	hc := httpConfig{Method: http.MethodGet, Headers: map[string]string{}}
	if cfg == nil {
		return hc
	}
	if method, ok := cfg["method"].(string); ok && method != "" {
		hc.Method = strings.ToUpper(method)
	}
	hc.URL, _ = cfg["url"].(string)
	hc.Body, _ = cfg["body"].(string)
	hc.ConvertToMarkdown, _ = cfg["convertToMarkdown"].(bool)
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for name, value := range headers {
			if s, ok := value.(string); ok {
				hc.Headers[name] = s
			}
		}
	}
	if rules, ok := cfg["extract"].([]any); ok {
		for _, raw := range rules {
			rule, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			er := extractionRule{Target: "text"}
			er.Name, _ = rule["name"].(string)
			er.Selector, _ = rule["selector"].(string)
			if target, ok := rule["target"].(string); ok && target != "" {
				er.Target = target
			}
			er.Attribute, _ = rule["attribute"].(string)
			er.Multiple, _ = rule["multiple"].(bool)
			if er.Name != "" && er.Selector != "" {
				hc.Extract = append(hc.Extract, er)
			}
		}
	}
	return hc
}

// Execute performs the configured HTTP request. URL, headers, and body are
// rendered as templates over the node's input and iteration context.
func (x *HTTPExecutor) Execute(ctx context.Context, req engine.Request) (any, error) {
	cfg := decodeHTTPConfig(req.Node.Config)
	data := templateData(req)

	url, err := renderTemplate(cfg.URL, data)
	if err != nil {
		return nil, fmt.Errorf("rendering url: %w", err)
	}
	if url == "" {
		return nil, fmt.Errorf("api node requires a url")
	}
	body, err := renderTemplate(cfg.Body, data)
	if err != nil {
		return nil, fmt.Errorf("rendering body: %w", err)
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, cfg.Method, url, reader)
	if err != nil {
		return nil, err
	}
	for name, value := range cfg.Headers {
		rendered, err := renderTemplate(value, data)
		if err != nil {
			return nil, fmt.Errorf("rendering header %q: %w", name, err)
		}
		request.Header.Set(name, rendered)
	}
	if body != "" && request.Header.Get("Content-Type") == "" {
		request.Header.Set("Content-Type", "application/json")
	}

	x.logger.Debug("http call", "nodeId", req.Node.ID, "method", cfg.Method, "url", url)

	response, err := x.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("http request returned status %d: %s", response.StatusCode, snippet(payload))
	}

	return x.interpret(cfg, response.Header.Get("Content-Type"), payload)
}

// interpret shapes the response body per the node's config and the server's
// content type: extraction rules first, then Markdown conversion, then JSON
// decoding, then the raw text.
func (x *HTTPExecutor) interpret(cfg httpConfig, contentType string, payload []byte) (any, error) {
	if len(cfg.Extract) > 0 {
		return extractFromHTML(payload, cfg.Extract)
	}
	if cfg.ConvertToMarkdown {
		markdown, err := htmltomarkdown.ConvertString(string(payload))
		if err != nil {
			return nil, fmt.Errorf("converting html to markdown: %w", err)
		}
		return markdown, nil
	}
	if strings.Contains(contentType, "application/json") {
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("decoding json response: %w", err)
		}
		return decoded, nil
	}
	return string(payload), nil
}

func snippet(payload []byte) string {
	const max = 200
	if len(payload) > max {
		return string(payload[:max]) + "..."
	}
	return string(payload)
}

// extractFromHTML applies the extraction rules to the document and returns
// the rule name → extracted value mapping. Single-valued rules yield the
// first match or nil; multiple-valued rules yield every match.
func extractFromHTML(payload []byte, rules []extractionRule) (any, error) {
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	out := make(map[string]any, len(rules))
	for _, rule := range rules {
		matches := findMatches(doc, parseSelector(rule.Selector))
		values := make([]any, 0, len(matches))
		for _, node := range matches {
			values = append(values, extractValue(node, rule))
			if !rule.Multiple {
				break
			}
		}
		if rule.Multiple {
			out[rule.Name] = values
		} else if len(values) > 0 {
			out[rule.Name] = values[0]
		} else {
			out[rule.Name] = nil
		}
	}
	return out, nil
}

// selector is the parsed form of a rule selector: any combination of a tag
// name, an id, and a single class.
type selector struct {
	tag   string
	id    string
	class string
}

func parseSelector(raw string) selector {
	var sel selector
	rest := strings.TrimSpace(raw)
	if hash := strings.Index(rest, "#"); hash >= 0 {
		sel.tag = rest[:hash]
		sel.id = rest[hash+1:]
		return sel
	}
	if dot := strings.Index(rest, "."); dot >= 0 {
		sel.tag = rest[:dot]
		sel.class = rest[dot+1:]
		return sel
	}
	sel.tag = rest
	return sel
}

func (s selector) matches(node *html.Node) bool {
	if node.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && node.Data != s.tag {
		return false
	}
	if s.id != "" && attrValue(node, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, class := range strings.Fields(attrValue(node, "class")) {
			if class == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func findMatches(root *html.Node, sel selector) []*html.Node {
	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if sel.matches(node) {
			matches = append(matches, node)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return matches
}

func extractValue(node *html.Node, rule extractionRule) any {
	switch rule.Target {
	case "html":
		var out bytes.Buffer
		if err := html.Render(&out, node); err != nil {
			return nil
		}
		return out.String()
	case "attribute":
		return attrValue(node, rule.Attribute)
	default:
		return strings.TrimSpace(textContent(node))
	}
}

func attrValue(node *html.Node, name string) string {
	for _, attr := range node.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}

func textContent(node *html.Node) string {
	if node.Type == html.TextNode {
		return node.Data
	}
	var out strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		out.WriteString(textContent(child))
	}
	return out.String()
}
