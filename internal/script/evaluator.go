// Package script implements the Script Manager (specification §4.4): an
// adapter over the external script evaluator named in specification §1,
// used both standalone (set/unset variable, evaluate, query) and internally
// by the Configuration Pipeline for script-template expansion and
// conditional-section filtering (§4.2 steps 1 and 4).
//
// The default Evaluator is grounded on bittoy-rule's two scripting
// libraries: github.com/dop251/goja (utils/js/js_engine.go) for full
// template evaluation, and github.com/expr-lang/expr
// (components/transform/expr_filter_node.go) for cheap boolean condition
// evaluation — the same split the original C++ implementation makes between
// general Jx9 script execution and boolean `__if__` evaluation.
package script

// Evaluator is the opaque external script evaluator contract. A single
// Evaluator instance is not concurrently usable (specification §4.4); the
// Manager built on top of it serializes access with a mutex.
type Evaluator interface {
	// EvaluateCondition evaluates expr as a boolean, with vars bound into
	// its environment.
	EvaluateCondition(expr string, vars map[string]interface{}) (bool, error)
	// ExecuteQuery runs scriptSrc as a full script with vars bound into its
	// environment and returns its JSON-encodable return value serialized to
	// a string.
	ExecuteQuery(scriptSrc string, vars map[string]interface{}) (string, error)
}
