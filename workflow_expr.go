package main

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/dop251/goja"
)

// ========================================
// Expression evaluation - 条件表达式求值
// ========================================
// Loop nodes with type "condition" carry a JS expression evaluated against
// the run variables, e.g. `retries < 3 && !done`. Evaluation runs in an
// embedded goja VM; each evaluator owns one VM guarded by a mutex since
// goja runtimes are not safe for concurrent use.

// ExprEvaluator evaluates workflow expressions against run variables.
type ExprEvaluator struct {
	mu sync.Mutex
	vm *goja.Runtime
}

// NewExprEvaluator creates an evaluator with a fresh VM.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{vm: goja.New()}
}

// EvalBool evaluates the expression with the given variables bound as
// globals and coerces the result to a boolean.
func (e *ExprEvaluator) EvalBool(expr string, vars map[string]interface{}) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Bind variables fresh for every evaluation; stale globals from a
	// previous run must not leak into this one.
	globals := e.vm.GlobalObject()
	for _, key := range globals.Keys() {
		_ = e.vm.GlobalObject().Delete(key)
	}
	for k, v := range vars {
		if err := e.vm.Set(k, v); err != nil {
			return false, fmt.Errorf("failed to bind variable %q: %w", k, err)
		}
	}

	val, err := e.vm.RunString(expr)
	if err != nil {
		return false, fmt.Errorf("expression %q failed: %w", expr, err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return false, nil
	}
	return val.ToBoolean(), nil
}

// ========================================
// Variable templating
// ========================================

var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// ExpandVariables replaces {{name}} placeholders with the stringified value
// from the variables map. Unknown placeholders are left untouched so the
// failure surfaces at the device layer with the literal text visible.
func ExpandVariables(s string, vars map[string]interface{}) string {
	if s == "" || len(vars) == 0 {
		return s
	}
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return match
	})
}
