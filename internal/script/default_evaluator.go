package script

import (
	"encoding/json"

	"github.com/dop251/goja"
	"github.com/expr-lang/expr"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
)

// DefaultEvaluator pairs a goja VM (for full script execution) with
// expr-lang's compiler (for cheap boolean evaluation), grounded on
// bittoy-rule's GojaJsEngine and ExprFilterNode respectively.
type DefaultEvaluator struct {
	vm *goja.Runtime
}

// NewDefaultEvaluator returns an evaluator backed by a fresh goja runtime.
func NewDefaultEvaluator() *DefaultEvaluator {
	return &DefaultEvaluator{vm: goja.New()}
}

// EvaluateCondition compiles and runs expr via expr-lang, requiring a
// boolean result, mirroring ExprFilterNode.Init's use of
// expr.Compile(..., expr.AsBool()).
func (e *DefaultEvaluator) EvaluateCondition(exprSrc string, vars map[string]interface{}) (bool, error) {
	program, err := expr.Compile(exprSrc, expr.Env(vars), expr.AsBool())
	if err != nil {
		return false, berrors.Wrap(berrors.KindConfigInvalid, err, "compiling condition %q", exprSrc)
	}
	out, err := expr.Run(program, vars)
	if err != nil {
		return false, berrors.Wrap(berrors.KindConfigInvalid, err, "evaluating condition %q", exprSrc)
	}
	result, ok := out.(bool)
	if !ok {
		return false, berrors.New(berrors.KindConfigInvalid, "condition %q did not evaluate to a boolean", exprSrc)
	}
	return result, nil
}

// ExecuteQuery runs scriptSrc in the goja runtime with vars exposed as
// global bindings, then JSON-encodes the script's return value.
func (e *DefaultEvaluator) ExecuteQuery(scriptSrc string, vars map[string]interface{}) (string, error) {
	for name, value := range vars {
		if err := e.vm.Set(name, value); err != nil {
			return "", berrors.Wrap(berrors.KindConfigInvalid, err, "binding variable %q", name)
		}
	}
	value, err := e.vm.RunString(scriptSrc)
	if err != nil {
		return "", berrors.Wrap(berrors.KindConfigInvalid, err, "executing script")
	}
	out, err := json.Marshal(value.Export())
	if err != nil {
		return "", berrors.Wrap(berrors.KindConfigInvalid, err, "marshaling script result")
	}
	return string(out), nil
}
