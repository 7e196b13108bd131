// Package executors provides the built-in node executor implementations
// (LLM calls, HTTP calls, conditional predicates, input/output plumbing)
// and assembles them into the engine's kind-dispatch registry. Merger and
// group nodes are handled inside the engine and have no executor here.
package executors

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/loomflow/loomflow/engine"
	"github.com/loomflow/loomflow/flow"
)

// Config carries the shared collaborators and credentials the built-in
// executors need. Zero values select sane defaults.
type Config struct {
	// OpenAIKey authenticates llm nodes with provider "openai".
	OpenAIKey string

	// OpenAIBaseURL overrides the OpenAI API endpoint. Useful for
	// OpenAI-compatible gateways and tests.
	OpenAIBaseURL string

	// OllamaBaseURL locates the Ollama server for llm nodes with provider
	// "ollama". Defaults to http://localhost:11434.
	OllamaBaseURL string

	// HTTPClient is used by api nodes and the Ollama provider. Defaults to
	// a client with a 60 second timeout.
	HTTPClient *http.Client

	// Logger receives executor-level diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.OllamaBaseURL == "" {
		c.OllamaBaseURL = "http://localhost:11434"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// NewRegistry builds the engine registry covering every built-in node kind.
func NewRegistry(cfg Config) engine.Registry {
	cfg = cfg.withDefaults()
	return engine.Registry{
		flow.KindLLM:         NewLLMExecutor(cfg),
		flow.KindAPI:         NewHTTPExecutor(cfg),
		flow.KindConditional: NewConditionalExecutor(),
		flow.KindInput:       NewInputExecutor(),
		flow.KindOutput:      NewOutputExecutor(),
	}
}
