package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvaluator struct {
	lastVars map[string]interface{}
}

func (r *recordingEvaluator) EvaluateCondition(expr string, vars map[string]interface{}) (bool, error) {
	r.lastVars = vars
	return vars["ok"] == true, nil
}

func (r *recordingEvaluator) ExecuteQuery(scriptSrc string, vars map[string]interface{}) (string, error) {
	r.lastVars = vars
	return scriptSrc, nil
}

func TestSetVariableAndEvaluateCondition(t *testing.T) {
	ev := &recordingEvaluator{}
	m := NewManager(ev)

	require.NoError(t, m.SetVariable("ok", "true"))

	result, err := m.EvaluateCondition("ok", nil)
	require.NoError(t, err)
	assert.True(t, result)
	assert.Equal(t, true, ev.lastVars["ok"])
}

func TestUnsetVariableRemovesBinding(t *testing.T) {
	ev := &recordingEvaluator{}
	m := NewManager(ev)
	require.NoError(t, m.SetVariable("ok", "true"))
	m.UnsetVariable("ok")

	_, err := m.EvaluateCondition("ok", nil)
	require.NoError(t, err)
	_, present := ev.lastVars["ok"]
	assert.False(t, present)
}

func TestExtraVarsOverridePersistentOnes(t *testing.T) {
	ev := &recordingEvaluator{}
	m := NewManager(ev)
	require.NoError(t, m.SetVariable("ok", "false"))

	_, err := m.EvaluateCondition("ok", map[string]interface{}{"ok": true})
	require.NoError(t, err)
	assert.Equal(t, true, ev.lastVars["ok"])
}

func TestSetVariableRejectsInvalidJSON(t *testing.T) {
	m := NewManager(&recordingEvaluator{})
	err := m.SetVariable("bad", "{not json")
	require.Error(t, err)
}

func TestExecuteQueryDelegates(t *testing.T) {
	ev := &recordingEvaluator{}
	m := NewManager(ev)
	require.NoError(t, m.SetVariable("x", "1"))

	out, err := m.ExecuteQuery("return x", nil)
	require.NoError(t, err)
	assert.Equal(t, "return x", out)
	assert.Equal(t, float64(1), ev.lastVars["x"])
}
