package executors

import (
	"context"
	"fmt"

	"github.com/loomflow/loomflow/engine"
	"github.com/loomflow/loomflow/internal/parse"
)

// InputExecutor runs input nodes. A top-level input node returns its
// configured value; inside an iterating group it returns the current item,
// wrapped so that array-typed items survive merger accumulation as a single
// item.
type InputExecutor struct{}

var _ engine.Executor = (*InputExecutor)(nil)

// NewInputExecutor creates the input node executor.
func NewInputExecutor() *InputExecutor {
	return &InputExecutor{}
}

// Execute returns the node's value for this run.
func (x *InputExecutor) Execute(ctx context.Context, req engine.Request) (any, error) {
	if it := req.Context.Iteration; it != nil {
		return engine.WrapForeachItem(it.Item, it.Index, req.Node.ID), nil
	}
	if req.Node.Config != nil {
		if value, ok := req.Node.Config["value"]; ok {
			return value, nil
		}
	}
	return req.FirstInput(), nil
}

// OutputExecutor runs output nodes: the terminal projection of a flow. With
// a template configured it renders the template over its input; otherwise
// the input passes through unchanged.
type OutputExecutor struct{}

var _ engine.Executor = (*OutputExecutor)(nil)

// NewOutputExecutor creates the output node executor.
func NewOutputExecutor() *OutputExecutor {
	return &OutputExecutor{}
}

// Execute renders the node's optional template, defaulting to passthrough.
func (x *OutputExecutor) Execute(ctx context.Context, req engine.Request) (any, error) {
	tmpl := ""
	if req.Node.Config != nil {
		tmpl, _ = req.Node.Config["template"].(string)
	}
	if tmpl == "" {
		return req.FirstInput(), nil
	}

	data := templateData(req)
	data["text"] = parse.Stringify(req.FirstInput())
	rendered, err := renderTemplate(tmpl, data)
	if err != nil {
		return nil, fmt.Errorf("rendering output template: %w", err)
	}
	return rendered, nil
}
