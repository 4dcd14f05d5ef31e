package expressions

import "context"

// Engine evaluates rule-step expressions against the execution context.
// Two implementations: CEL (default) and Expr.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
