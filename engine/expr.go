package engine

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/weavegraph/weavegraph/errs"
)

// exprCondition is the fallback condition evaluator for a node's
// expression-string form. It compiles a restricted subset of expr-lang:
// boolean and arithmetic operators plus dotted variable membership — no
// function calls, no assignments, no access outside the supplied
// variables, keeping condition expressions pure and deterministic. Grounded
// on the compile/cache pattern of expression/expr_adapter.go but
// deliberately stripped of its custom function environment.
type exprCondition struct {
	mu    sync.Mutex
	cache map[string]*vm.Program
}

func newExprCondition() *exprCondition {
	return &exprCondition{cache: make(map[string]*vm.Program)}
}

// Evaluate compiles (or reuses a cached compile of) expression against
// variables and returns its boolean result.
func (e *exprCondition) Evaluate(expression string, variables map[string]any) (bool, error) {
	e.mu.Lock()
	program, ok := e.cache[expression]
	e.mu.Unlock()

	if !ok {
		compiled, err := expr.Compile(expression, expr.Env(variables), expr.AsBool(), expr.DisableAllBuiltins(), expr.Optimize(true))
		if err != nil {
			return false, errs.New(errs.KindHandlerError, "condition expression %q failed to compile: %v", expression, err)
		}
		e.mu.Lock()
		e.cache[expression] = compiled
		e.mu.Unlock()
		program = compiled
	}

	out, err := expr.Run(program, variables)
	if err != nil {
		return false, errs.New(errs.KindHandlerError, "condition expression %q failed to evaluate: %v", expression, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, errs.New(errs.KindHandlerError, "condition expression %q did not produce a boolean", expression)
	}
	return result, nil
}

// Env here is always the flat variable map produced by
// ExecutionContext.Variables — no function entries are ever added to it,
// and expr-lang's builtin functions are disabled at compile time, so the
// expression has no function to call.
