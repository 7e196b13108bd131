package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/template"

	"github.com/sashabaranov/go-openai"

	"github.com/loomflow/loomflow/engine"
	"github.com/loomflow/loomflow/internal/parse"
)

// LLMExecutor runs llm nodes against a configured provider. Two providers
// are supported: "openai" (chat completions through the OpenAI API or any
// compatible gateway) and "ollama" (the local /api/generate endpoint).
type LLMExecutor struct {
	openaiClient  *openai.Client
	ollamaBaseURL string
	httpClient    *http.Client
	logger        *slog.Logger
}

var _ engine.Executor = (*LLMExecutor)(nil)

// NewLLMExecutor creates the llm node executor from the shared config.
func NewLLMExecutor(cfg Config) *LLMExecutor {
	cfg = cfg.withDefaults()

	clientConfig := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}
	clientConfig.HTTPClient = cfg.HTTPClient

	return &LLMExecutor{
		openaiClient:  openai.NewClientWithConfig(clientConfig),
		ollamaBaseURL: strings.TrimRight(cfg.OllamaBaseURL, "/"),
		httpClient:    cfg.HTTPClient,
		logger:        cfg.Logger,
	}
}

// llmConfig is the node config an llm node carries.
type llmConfig struct {
	Provider     string
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float32
	HasTemp      bool
}

func decodeLLMConfig(cfg map[string]any) llmConfig {
	lc := llmConfig{Provider: "openai"}
	if cfg == nil {
		return lc
	}
	if provider, ok := cfg["provider"].(string); ok && provider != "" {
		lc.Provider = provider
	}
	lc.Model, _ = cfg["model"].(string)
	lc.Prompt, _ = cfg["prompt"].(string)
	lc.SystemPrompt, _ = cfg["systemPrompt"].(string)
	if temp, ok := cfg["temperature"].(float64); ok {
		lc.Temperature = float32(temp)
		lc.HasTemp = true
	}
	return lc
}

// Execute renders the node's prompt template over the incoming value and the
// iteration context, then completes it with the configured provider. The
// result is the completion text.
func (x *LLMExecutor) Execute(ctx context.Context, req engine.Request) (any, error) {
	cfg := decodeLLMConfig(req.Node.Config)
	if cfg.Model == "" {
		return nil, errors.New("llm node requires a model")
	}

	prompt, err := renderTemplate(cfg.Prompt, templateData(req))
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}
	if prompt == "" {
		prompt = parse.Stringify(req.FirstInput())
	}

	x.logger.Debug("llm call", "nodeId", req.Node.ID, "provider", cfg.Provider, "model", cfg.Model)

	switch cfg.Provider {
	case "openai":
		return x.completeOpenAI(ctx, cfg, prompt)
	case "ollama":
		return x.completeOllama(ctx, cfg, prompt)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func (x *LLMExecutor) completeOpenAI(ctx context.Context, cfg llmConfig, prompt string) (any, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: cfg.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	request := openai.ChatCompletionRequest{
		Model:    cfg.Model,
		Messages: messages,
	}
	if cfg.HasTemp {
		request.Temperature = cfg.Temperature
	}

	response, err := x.openaiClient.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("openai completion returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}

// ollamaGenerateRequest is the non-streaming /api/generate request body.
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (x *LLMExecutor) completeOllama(ctx context.Context, cfg llmConfig, prompt string) (any, error) {
	body := ollamaGenerateRequest{
		Model:  cfg.Model,
		Prompt: prompt,
		System: cfg.SystemPrompt,
		Stream: false,
	}
	if cfg.HasTemp {
		body.Options = map[string]any{"temperature": cfg.Temperature}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding ollama request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, x.ollamaBaseURL+"/api/generate", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := x.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer response.Body.Close()

	var decoded ollamaGenerateResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding ollama response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("ollama: %s", decoded.Error)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", response.StatusCode)
	}
	return decoded.Response, nil
}

// ListModels returns the model identifiers the given provider offers.
func (x *LLMExecutor) ListModels(ctx context.Context, provider string) ([]string, error) {
	switch provider {
	case "openai":
		list, err := x.openaiClient.ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("openai model listing: %w", err)
		}
		names := make([]string, 0, len(list.Models))
		for _, model := range list.Models {
			names = append(names, model.ID)
		}
		return names, nil

	case "ollama":
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, x.ollamaBaseURL+"/api/tags", nil)
		if err != nil {
			return nil, err
		}
		response, err := x.httpClient.Do(request)
		if err != nil {
			return nil, fmt.Errorf("ollama model listing: %w", err)
		}
		defer response.Body.Close()

		var decoded struct {
			Models []struct {
				Name string `json:"name"`
			} `json:"models"`
		}
		if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("decoding ollama model listing: %w", err)
		}
		names := make([]string, 0, len(decoded.Models))
		for _, model := range decoded.Models {
			names = append(names, model.Name)
		}
		return names, nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// templateData builds the interpolation scope shared by the templated
// executors: the first input value plus the iteration context when the node
// runs inside a group.
func templateData(req engine.Request) map[string]any {
	data := map[string]any{
		"input":  req.FirstInput(),
		"inputs": req.Inputs,
	}
	if it := req.Context.Iteration; it != nil {
		data["item"] = it.Item
		data["index"] = it.Index
		data["total"] = it.Total
	}
	return data
}

// renderTemplate executes a text/template over the data. An empty template
// renders to the empty string without error.
func renderTemplate(tmpl string, data map[string]any) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	parsed, err := template.New("node").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := parsed.Execute(&out, data); err != nil {
		return "", err
	}
	return out.String(), nil
}
