package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/loomflow/loomflow/engine"
	"github.com/loomflow/loomflow/flow"
	"github.com/loomflow/loomflow/internal/parse"
)

// ConditionalExecutor evaluates a predicate over a node's input and
// activates exactly one of the two branch handles. The input value passes
// through unchanged to whichever branch was taken.
type ConditionalExecutor struct{}

var _ engine.Executor = (*ConditionalExecutor)(nil)

// NewConditionalExecutor creates the conditional node executor.
func NewConditionalExecutor() *ConditionalExecutor {
	return &ConditionalExecutor{}
}

type conditionalConfig struct {
	Operator string
	Path     string
	Operand  any
}

func decodeConditionalConfig(cfg map[string]any) conditionalConfig {
	cc := conditionalConfig{Operator: "exists"}
	if cfg == nil {
		return cc
	}
	if operator, ok := cfg["operator"].(string); ok && operator != "" {
		cc.Operator = operator
	}
	cc.Path, _ = cfg["path"].(string)
	cc.Operand = cfg["value"]
	return cc
}

// Execute resolves the configured path against the input, applies the
// operator, and returns a ConditionalResult carrying the taken handle.
// A path that cannot be resolved is treated as a non-existent value, not an
// error, so "exists" predicates can probe optional fields.
func (x *ConditionalExecutor) Execute(ctx context.Context, req engine.Request) (any, error) {
	cfg := decodeConditionalConfig(req.Node.Config)
	input := req.FirstInput()

	subject, pathErr := parse.ExtractPath(input, cfg.Path)
	if pathErr != nil {
		subject = nil
	}

	outcome, err := evaluate(cfg.Operator, subject, cfg.Operand, pathErr == nil)
	if err != nil {
		return nil, err
	}

	handle := flow.HandleFalse
	if outcome {
		handle = flow.HandleTrue
	}
	return engine.ConditionalResult{OutputHandle: handle, Value: input}, nil
}

func evaluate(operator string, subject, operand any, resolved bool) (bool, error) {
	switch operator {
	case "exists":
		return resolved && subject != nil, nil
	case "eq":
		return looseEqual(subject, operand), nil
	case "neq":
		return !looseEqual(subject, operand), nil
	case "contains":
		return contains(subject, operand), nil
	case "gt", "gte", "lt", "lte":
		left, leftOK := asFloat(subject)
		right, rightOK := asFloat(operand)
		if !leftOK || !rightOK {
			return false, fmt.Errorf("operator %q requires numeric operands, got %T and %T", operator, subject, operand)
		}
		switch operator {
		case "gt":
			return left > right, nil
		case "gte":
			return left >= right, nil
		case "lt":
			return left < right, nil
		default:
			return left <= right, nil
		}
	default:
		return false, fmt.Errorf("unknown conditional operator %q", operator)
	}
}

// looseEqual compares across the numeric representations JSON decoding
// produces, then falls back to deep equality.
func looseEqual(a, b any) bool {
	if left, ok := asFloat(a); ok {
		if right, ok := asFloat(b); ok {
			return left == right
		}
	}
	return reflect.DeepEqual(a, b)
}

// contains checks substring membership for strings and element membership
// for slices.
func contains(subject, operand any) bool {
	switch t := subject.(type) {
	case string:
		return strings.Contains(t, parse.Stringify(operand))
	case []any:
		for _, element := range t {
			if looseEqual(element, operand) {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
