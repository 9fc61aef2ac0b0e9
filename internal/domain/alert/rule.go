package alert

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"medledger/internal/core/apperror"
	"medledger/internal/core/types"
)

// Rule variables exposed to threshold CEL expressions. Quantities are
// presented as doubles in stock units.
const (
	ruleVarQuantity     = "quantity"
	ruleVarReorderPoint = "reorder_point"
	ruleVarMinimum      = "minimum"
	ruleVarMaximum      = "maximum"
)

var ruleEnvOnce = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(ruleVarQuantity, cel.DoubleType),
		cel.Variable(ruleVarReorderPoint, cel.DoubleType),
		cel.Variable(ruleVarMinimum, cel.DoubleType),
		cel.Variable(ruleVarMaximum, cel.DoubleType),
	)
})

// Rule is a compiled threshold trigger expression.
type Rule struct {
	source  string
	program cel.Program
}

// CompileRule parses and type-checks a CEL trigger expression. The
// expression must evaluate to bool.
func CompileRule(source string) (*Rule, error) {
	env, err := ruleEnvOnce()
	if err != nil {
		return nil, fmt.Errorf("build rule environment: %w", err)
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, apperror.NewValidation("invalid threshold rule").
			WithDetail("rule", source).
			WithDetail("error", issues.Err().Error())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, apperror.NewValidation("threshold rule must evaluate to bool").
			WithDetail("rule", source).
			WithDetail("type", ast.OutputType().String())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build rule program: %w", err)
	}
	return &Rule{source: source, program: program}, nil
}

// Eval reports whether the rule fires for the observed quantity.
func (r *Rule) Eval(quantity types.Quantity, t *Threshold) (bool, error) {
	out, _, err := r.program.Eval(map[string]any{
		ruleVarQuantity:     quantity.Float64(),
		ruleVarReorderPoint: t.ReorderPoint.Float64(),
		ruleVarMinimum:      t.MinimumQuantity.Float64(),
		ruleVarMaximum:      t.MaximumQuantity.Float64(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate rule %q: %w", r.source, err)
	}
	fired, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q returned %T, want bool", r.source, out.Value())
	}
	return fired, nil
}

// ruleCache holds compiled rules keyed by source text so each
// expression is compiled once per process.
type ruleCache struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

func newRuleCache() *ruleCache {
	return &ruleCache{rules: make(map[string]*Rule)}
}

func (c *ruleCache) get(source string) (*Rule, error) {
	c.mu.RLock()
	r, ok := c.rules[source]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}

	r, err := CompileRule(source)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.rules[source] = r
	c.mu.Unlock()
	return r, nil
}
