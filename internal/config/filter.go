package config

import "github.com/bedrock-hpc/bedrock/internal/berrors"

// conditionEvaluator is the narrow slice of script.Manager the pipeline
// needs, kept as a local interface so this package does not import
// internal/script (avoiding a dependency cycle risk and keeping the
// pipeline testable with a stub).
type conditionEvaluator interface {
	EvaluateCondition(exprSrc string, extra map[string]interface{}) (bool, error)
}

// Evaluator is the full script-evaluator slice the Pipeline needs: boolean
// condition evaluation for __if__ filtering plus full script execution for
// script-template expansion (specification §4.2 step 1). Satisfied by
// *script.Manager without this package importing internal/script.
type Evaluator interface {
	conditionEvaluator
	ExecuteQuery(scriptSrc string, extra map[string]interface{}) (string, error)
}

// filterConditional implements specification §4.2 step 4: any node
// containing key "__if__" has its value evaluated as a script boolean;
// truthy keeps the node (minus "__if__"), falsy removes it. Returns the
// filtered node and whether it survives.
func filterConditional(node interface{}, ev conditionEvaluator) (interface{}, bool, error) {
	switch v := node.(type) {
	case map[string]interface{}:
		if cond, ok := v["__if__"]; ok {
			condStr, ok := cond.(string)
			if !ok {
				return nil, false, berrors.New(berrors.KindConfigInvalid, "__if__ must be a string expression")
			}
			keep, err := ev.EvaluateCondition(condStr, nil)
			if err != nil {
				return nil, false, berrors.Wrap(berrors.KindConfigInvalid, err, "evaluating __if__ %q", condStr)
			}
			if !keep {
				return nil, false, nil
			}
			delete(v, "__if__")
		}
		out := make(map[string]interface{}, len(v))
		for key, child := range v {
			filtered, keep, err := filterConditional(child, ev)
			if err != nil {
				return nil, false, err
			}
			if keep {
				out[key] = filtered
			}
		}
		return out, true, nil

	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, child := range v {
			filtered, keep, err := filterConditional(child, ev)
			if err != nil {
				return nil, false, err
			}
			if keep {
				out = append(out, filtered)
			}
		}
		return out, true, nil

	default:
		return v, true, nil
	}
}

// selectByRank implements the top-level process-selection rule of
// specification §4.2 step 4: an array of length N at the top level, with N
// equal to the process count, selects the element at this process's rank; a
// length-1 array collapses to its element; any other multi-element array is
// a fatal ambiguity.
func selectByRank(doc interface{}, rank, processCount int) (interface{}, error) {
	arr, ok := doc.([]interface{})
	if !ok {
		return doc, nil
	}
	switch {
	case len(arr) == 1:
		return arr[0], nil
	case len(arr) == processCount:
		if rank < 0 || rank >= len(arr) {
			return nil, berrors.New(berrors.KindConfigInvalid, "rank %d out of range for %d-element top-level array", rank, len(arr))
		}
		return arr[rank], nil
	default:
		return nil, berrors.New(berrors.KindConfigInvalid, "ambiguous top-level array: %d elements for %d processes", len(arr), processCount)
	}
}

// expandSimplifiedForms implements specification §4.2 step 3 /
// §9 "Dependency flags": a bare string supplied where a dependency array is
// expected is promoted to a singleton array. It walks the "dependencies"
// object under every entry of "providers" and "clients".
func expandSimplifiedForms(doc map[string]interface{}) {
	for _, section := range []string{"providers", "clients"} {
		entries, _ := doc[section].([]interface{})
		for _, entry := range entries {
			obj, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			deps, ok := obj["dependencies"].(map[string]interface{})
			if !ok {
				continue
			}
			for slot, value := range deps {
				if s, ok := value.(string); ok {
					deps[slot] = []interface{}{s}
				}
			}
		}
	}
}
