// Package policy evaluates configurable business rules written in CEL.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// ReturnFacts are the variables visible to a return eligibility expression.
type ReturnFacts struct {
	Reason        string
	PackageStatus string
	DaysSincePack int64
	Quantity      int64
}

// ReturnPolicy decides whether a return may be initiated.
//
// Example expressions:
//
//	true
//	reason != "customer_request" || days_since_pack <= 30
//	package_status == "delivered" && quantity <= 10
type ReturnPolicy struct {
	expr string
	prg  cel.Program
}

// NewReturnPolicy compiles expr. An empty expression allows everything.
func NewReturnPolicy(expr string) (*ReturnPolicy, error) {
	if expr == "" {
		expr = "true"
	}

	env, err := cel.NewEnv(
		cel.Variable("reason", cel.StringType),
		cel.Variable("package_status", cel.StringType),
		cel.Variable("days_since_pack", cel.IntType),
		cel.Variable("quantity", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile return policy %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("return policy %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build return policy program: %w", err)
	}
	return &ReturnPolicy{expr: expr, prg: prg}, nil
}

// MustReturnPolicy is NewReturnPolicy that panics on error. Use for constants and tests.
func MustReturnPolicy(expr string) *ReturnPolicy {
	p, err := NewReturnPolicy(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Expression returns the source expression.
func (p *ReturnPolicy) Expression() string { return p.expr }

// Allow evaluates the policy against facts.
func (p *ReturnPolicy) Allow(f ReturnFacts) (bool, error) {
	out, _, err := p.prg.Eval(map[string]any{
		"reason":          f.Reason,
		"package_status":  f.PackageStatus,
		"days_since_pack": f.DaysSincePack,
		"quantity":        f.Quantity,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate return policy: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("return policy produced %T, want bool", out.Value())
	}
	return allowed, nil
}
