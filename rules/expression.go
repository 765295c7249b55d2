package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// expressionCostLimit bounds the work a single expression may do
const expressionCostLimit = 1000000

type compiledExpression struct {
	source  string
	program cel.Program
}

// ExpressionGate compiles and evaluates the optional CEL expression on a rule.
// Expressions see four variables: data (the event payload), event (event type),
// entity (entity kind) and entity_id.
type ExpressionGate struct {
	env      *cel.Env
	programs map[string]compiledExpression // ruleID -> compiled program
	mu       sync.RWMutex
}

// NewExpressionGate creates the CEL environment used for rule expressions
func NewExpressionGate() (*ExpressionGate, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event", cel.StringType),
		cel.Variable("entity", cel.StringType),
		cel.Variable("entity_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ExpressionGate{
		env:      env,
		programs: make(map[string]compiledExpression),
	}, nil
}

// Check compiles an expression without caching it
func (g *ExpressionGate) Check(expression string) (cel.Program, error) {
	ast, issues := g.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", ast.OutputType())
	}

	prog, err := g.env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// Compile compiles and caches the expression for ruleID.
// An empty expression removes any cached program.
func (g *ExpressionGate) Compile(ruleID, expression string) error {
	if expression == "" {
		g.Forget(ruleID)
		return nil
	}

	prog, err := g.Check(expression)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.programs[ruleID] = compiledExpression{source: expression, program: prog}
	g.mu.Unlock()
	return nil
}

// Forget drops the cached program for ruleID
func (g *ExpressionGate) Forget(ruleID string) {
	g.mu.Lock()
	delete(g.programs, ruleID)
	g.mu.Unlock()
}

// Allows reports whether the rule's expression holds for the event.
// Rules without an expression always pass. A cached program compiled from a
// stale expression is recompiled first. Non-boolean results count as false.
func (g *ExpressionGate) Allows(rule *Rule, ev Event) (bool, error) {
	if rule.Expression == "" {
		return true, nil
	}

	g.mu.RLock()
	compiled, ok := g.programs[rule.ID]
	g.mu.RUnlock()

	if !ok || compiled.source != rule.Expression {
		if err := g.Compile(rule.ID, rule.Expression); err != nil {
			return false, err
		}
		g.mu.RLock()
		compiled = g.programs[rule.ID]
		g.mu.RUnlock()
	}

	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := compiled.program.Eval(map[string]any{
		"data":      data,
		"event":     string(ev.Type),
		"entity":    string(ev.EntityType),
		"entity_id": ev.EntityID,
	})
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}

	matched, _ := out.Value().(bool)
	return matched, nil
}
