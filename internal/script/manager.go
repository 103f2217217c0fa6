package script

import (
	"encoding/json"
	"sync"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
)

// Manager is the Script Manager (specification §4.4): it wraps an Evaluator
// with a persistent variable set, thread-safe via a single lock since a
// given evaluator instance is not concurrently usable.
type Manager struct {
	mu        sync.Mutex
	evaluator Evaluator
	variables map[string]interface{}
}

// NewManager wraps evaluator in a Manager with an empty variable set.
func NewManager(evaluator Evaluator) *Manager {
	return &Manager{evaluator: evaluator, variables: make(map[string]interface{})}
}

// SetVariable installs name bound to the JSON value encoded in valueJSON.
func (m *Manager) SetVariable(name, valueJSON string) error {
	var decoded interface{}
	if err := json.Unmarshal([]byte(valueJSON), &decoded); err != nil {
		return berrors.Wrap(berrors.KindConfigInvalid, err, "decoding variable %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variables[name] = decoded
	return nil
}

// UnsetVariable removes a previously installed variable. It is a no-op if
// the variable was never set.
func (m *Manager) UnsetVariable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.variables, name)
}

func (m *Manager) snapshotVars() map[string]interface{} {
	out := make(map[string]interface{}, len(m.variables))
	for k, v := range m.variables {
		out[k] = v
	}
	return out
}

// EvaluateCondition evaluates expr as a boolean against the manager's
// currently installed variables merged with extra (extra wins on conflict).
func (m *Manager) EvaluateCondition(exprSrc string, extra map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vars := m.snapshotVars()
	for k, v := range extra {
		vars[k] = v
	}
	return m.evaluator.EvaluateCondition(exprSrc, vars)
}

// ExecuteQuery runs scriptSrc against the manager's currently installed
// variables merged with extra.
func (m *Manager) ExecuteQuery(scriptSrc string, extra map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vars := m.snapshotVars()
	for k, v := range extra {
		vars[k] = v
	}
	return m.evaluator.ExecuteQuery(scriptSrc, vars)
}
