package expressions

import (
	"context"
	"fmt"
)

// Engine evaluates expressions against work item or report data.
// Three implementations: Expr (classification keys), CEL (item filters),
// GoJQ (report queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines bundles one engine of each kind. All of them cache compiled
// programs, so one Engines value should be shared across callers.
type Engines struct {
	Expr *ExprEngine
	CEL  *CELEngine
	JQ   *GoJQEngine
}

// NewEngines builds the three engines.
func NewEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("init CEL engine: %w", err)
	}
	return &Engines{
		Expr: NewExprEngine(),
		CEL:  celEngine,
		JQ:   NewGoJQEngine(),
	}, nil
}
