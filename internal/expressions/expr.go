package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/pkg/schema"
)

// ExprEngine implements the Engine interface using expr-lang/expr. It derives
// grouping keys for breakdowns, e.g. `stage + "/" + department` or
// `minutes > 480 ? "long" : "short"`.
// Thread-safe: compiled *vm.Program objects are cached and reused across goroutines.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate compiles (or retrieves from cache) an Expr expression and evaluates it
// against the provided data. Every key of data is a top-level variable.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	prg, err := e.getOrCompile(expression, env)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
// env fixes the variable types; item environments all share one shape.
func (e *ExprEngine) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
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

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// Classify evaluates expression against one item and renders the result as a
// breakdown key. nil becomes the empty key.
func (e *ExprEngine) Classify(ctx context.Context, expression string, item schema.WorkItem) (string, error) {
	out, err := e.Evaluate(ctx, expression, ItemEnv(item))
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", nil
	}
	if s, ok := out.(string); ok {
		return s, nil
	}
	return fmt.Sprint(out), nil
}

// BreakdownBy sums item durations per key computed by expression. The first
// evaluation error aborts the breakdown.
func (e *ExprEngine) BreakdownBy(ctx context.Context, expression string, items []schema.WorkItem) (map[string]float64, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty group_by expression")
	}

	var firstErr error
	totals := engine.BreakdownBy(items, func(w schema.WorkItem) string {
		if firstErr != nil {
			return ""
		}
		key, err := e.Classify(ctx, expression, w)
		if err != nil {
			firstErr = schema.NewErrorf(schema.ErrCodeExpression,
				"group_by %q failed on item %s: %s", expression, w.ID, err.Error()).
				WithItem(w.ID).WithCause(err)
		}
		return key
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return totals, nil
}

var _ Engine = (*ExprEngine)(nil)
