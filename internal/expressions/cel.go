package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/flowmap/pkg/schema"
)

// CELEngine implements the Engine interface using Google's Common Expression Language.
// It evaluates boolean item filters such as
// `item.type == "ACTION" && item.minutes >= 60`.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// celVariables are the top-level names a filter may reference:
//   - item: map(string, dyn), see ItemEnv
//   - map:  map(string, dyn), id, name and metadata of the enclosing map
var celVariables = []string{"item", "map"}

// NewCELEngine creates a new CEL expression engine with a sandboxed environment.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(celVariables)+1)
	opts = append(opts, cel.CrossTypeNumericComparisons(true))
	for _, name := range celVariables {
		opts = append(opts, cel.Variable(name, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates it
// against the provided data. Missing variables default to empty maps.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(celVariables))
	for _, key := range celVariables {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

// Match reports whether item satisfies the boolean filter expression.
// A non-boolean result is an EXPRESSION_ERROR.
func (e *CELEngine) Match(ctx context.Context, expression string, item schema.WorkItem, m *schema.WorkflowMap) (bool, error) {
	data := map[string]any{"item": ItemEnv(item)}
	if m != nil {
		metadata := m.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		data["map"] = map[string]any{"id": m.ID, "name": m.Name, "metadata": metadata}
	}

	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"filter %q must evaluate to a bool, got %T", expression, out).
			WithItem(item.ID)
	}
	return ok, nil
}

// FilterMap returns a copy of m holding only the items that match
// expression. Relationships are kept as they are; those that now dangle are
// ignored by every analysis.
func (e *CELEngine) FilterMap(ctx context.Context, expression string, m *schema.WorkflowMap) (*schema.WorkflowMap, error) {
	out := *m
	out.Items = make([]schema.WorkItem, 0, len(m.Items))
	for _, item := range m.Items {
		ok, err := e.Match(ctx, expression, item, m)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, item)
		}
	}
	return &out, nil
}

var _ Engine = (*CELEngine)(nil)
