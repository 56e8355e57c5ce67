package guardrail

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/marginops/dealguard/internal/domain"
)

// newEnv creates the CEL environment for custom rules. The variables are
// the request attributes admins can write expressions against.
func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("requested_discount", cel.DoubleType),
		cel.Variable("estimated_margin", cel.DoubleType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("item_count", cel.IntType),
		cel.Variable("customer_segment", cel.StringType),
		cel.Variable("salesperson_role", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// compileExpression compiles a custom rule expression. The expression must
// return bool, int, or double; a true or nonzero result is a violation.
func compileExpression(env *cel.Env, ruleID, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", ruleID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", ruleID, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", ruleID, err)
	}
	return program, nil
}

// activation builds the CEL variable bindings for one request. A nil margin
// binds as 0.0; expressions that care about unknown margins should pair with
// a minimum_margin rule instead.
func activation(ec *domain.EvaluationContext) map[string]any {
	req := ec.Request

	var margin float64
	if req.EstimatedMarginPct != nil {
		margin = *req.EstimatedMarginPct
	}

	var segment string
	if ec.Customer != nil {
		segment = ec.Customer.Segment
	}

	return map[string]any{
		"requested_discount": req.RequestedDiscountPct,
		"estimated_margin":   margin,
		"amount":             req.TotalValue(),
		"item_count":         int64(len(req.Items)),
		"customer_segment":   segment,
		"salesperson_role":   req.SalespersonRole,
	}
}

// isViolation converts a CEL result into a violation flag. Bool true and
// any nonzero numeric count as violations.
func isViolation(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v) != 0
	case types.Int:
		return int64(v) != 0
	default:
		return false
	}
}
