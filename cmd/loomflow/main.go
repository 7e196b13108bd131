// Command loomflow executes and validates flow definition files.
//
// A flow file is the JSON document the visual editor exports: a list of
// nodes (with kind and config) and a list of edges. `loomflow run` executes
// it against the built-in node executors; `loomflow validate` checks its
// structure without executing anything.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/loomflow/loomflow/engine"
	"github.com/loomflow/loomflow/executors"
	"github.com/loomflow/loomflow/flow"
)

func main() {
	// A missing .env is fine; environment variables still apply.
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "loomflow",
		Short:         "Execute and validate node-graph flow files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(logger), newValidateCmd(), newModelsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loadFlow(path string) ([]flow.Node, []flow.Edge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	nodes, edges, err := flow.Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return nodes, edges, nil
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var startIDs []string
	var input string

	cmd := &cobra.Command{
		Use:   "run <flow.json>",
		Short: "Execute a flow file and print the final node states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, edges, err := loadFlow(args[0])
			if err != nil {
				return err
			}
			if err := flow.NewGraph(nodes, edges).Validate(); err != nil {
				return err
			}

			if input != "" {
				nodes = overrideInputs(nodes, input)
			}
			starts := startIDs
			if len(starts) == 0 {
				starts = defaultStarts(nodes, edges)
			}
			if len(starts) == 0 {
				return fmt.Errorf("flow has no start nodes; use --start")
			}

			eng := engine.New(executors.NewRegistry(executors.Config{
				OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
				OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
				OllamaBaseURL: os.Getenv("OLLAMA_BASE_URL"),
				Logger:        logger,
			}), engine.WithLogger(logger))

			results, err := eng.Run(context.Background(), nodes, edges, starts)
			if err != nil {
				return err
			}
			return printReport(cmd, eng.Store().Snapshot(), results)
		},
	}
	cmd.Flags().StringSliceVar(&startIDs, "start", nil, "node IDs to start from (default: graph roots)")
	cmd.Flags().StringVar(&input, "input", "", "value injected into top-level input nodes")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <flow.json>",
		Short: "Check a flow file for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, edges, err := loadFlow(args[0])
			if err != nil {
				return err
			}
			if err := flow.NewGraph(nodes, edges).Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d nodes, %d edges, ok\n", args[0], len(nodes), len(edges))
			return nil
		},
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models <openai|ollama>",
		Short: "List the models an llm provider offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec := executors.NewLLMExecutor(executors.Config{
				OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
				OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
				OllamaBaseURL: os.Getenv("OLLAMA_BASE_URL"),
			})
			models, err := exec.ListModels(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, model := range models {
				fmt.Fprintln(cmd.OutOrStdout(), model)
			}
			return nil
		},
	}
}

func topLevel(nodes []flow.Node) []flow.Node {
	top := make([]flow.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.GroupID == "" {
			top = append(top, n)
		}
	}
	return top
}

// defaultStarts picks the top-level nodes with no incoming edges.
func defaultStarts(nodes []flow.Node, edges []flow.Edge) []string {
	return flow.NewGraph(topLevel(nodes), edges).Roots()
}

// overrideInputs sets the given value on every top-level input node.
func overrideInputs(nodes []flow.Node, value string) []flow.Node {
	out := make([]flow.Node, len(nodes))
	copy(out, nodes)
	for i, n := range out {
		if n.Kind != flow.KindInput || n.GroupID != "" {
			continue
		}
		cfg := make(map[string]any, len(n.Config)+1)
		for k, v := range n.Config {
			cfg[k] = v
		}
		cfg["value"] = value
		out[i].Config = cfg
	}
	return out
}

type nodeReport struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func printReport(cmd *cobra.Command, states map[string]engine.NodeState, results map[string]any) error {
	report := make(map[string]nodeReport, len(states))
	for id, state := range states {
		entry := nodeReport{Status: string(state.Status), Error: state.Error}
		if value, ok := results[id]; ok {
			entry.Result = value
		}
		report[id] = entry
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
