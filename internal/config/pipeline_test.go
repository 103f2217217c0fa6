package config

import (
	"strings"
	"testing"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEvaluator evaluates "true"/"false" literally and treats
// ExecuteQuery's script source as a raw JSON passthrough, since the
// pipeline tests exercise filtering/normalization, not real scripting.
type stubEvaluator struct {
	queryResult string
	queryErr    error
}

func (s stubEvaluator) EvaluateCondition(exprSrc string, extra map[string]interface{}) (bool, error) {
	switch strings.TrimSpace(exprSrc) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, berrors.New(berrors.KindConfigInvalid, "stub only understands true/false, got %q", exprSrc)
	}
}

func (s stubEvaluator) ExecuteQuery(scriptSrc string, extra map[string]interface{}) (string, error) {
	if s.queryErr != nil {
		return "", s.queryErr
	}
	if s.queryResult != "" {
		return s.queryResult, nil
	}
	return scriptSrc, nil
}

func TestPipelineProcessMinimalDocument(t *testing.T) {
	p := NewPipeline(stubEvaluator{})
	doc, err := p.Process(Input{
		Source: `{"margo":{"protocol":"na+sm"},"bedrock":{"provider_id":0}}`,
		Format: FormatJSON,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"protocol":"na+sm"}`, string(doc.Margo))
	assert.Equal(t, DefaultDependencyResolutionTimeoutSeconds, doc.Bedrock.DependencyResolutionTimeout)
}

func TestPipelineProcessProvidersAndDependencyExpansion(t *testing.T) {
	p := NewPipeline(stubEvaluator{})
	src := `{
		"margo": {},
		"providers": [
			{"name": "p1", "type": "echo", "dependencies": {"pool": "mypool"}, "config": {"x": 1}}
		]
	}`
	doc, err := p.Process(Input{Source: src, Format: FormatJSON})
	require.NoError(t, err)
	require.Len(t, doc.Providers, 1)
	assert.Equal(t, []string{"mypool"}, doc.Providers[0].Dependencies["pool"])
	assert.JSONEq(t, `{"x":1}`, string(doc.Providers[0].Config))
}

func TestPipelineProcessFiltersConditionalSections(t *testing.T) {
	p := NewPipeline(stubEvaluator{})
	src := `{
		"margo": {},
		"providers": [
			{"name": "kept", "type": "echo", "__if__": "true"},
			{"name": "dropped", "type": "echo", "__if__": "false"}
		]
	}`
	doc, err := p.Process(Input{Source: src, Format: FormatJSON})
	require.NoError(t, err)
	require.Len(t, doc.Providers, 1)
	assert.Equal(t, "kept", doc.Providers[0].Name)
}

func TestPipelineProcessSelectsTopLevelArrayByRank(t *testing.T) {
	p := NewPipeline(stubEvaluator{})
	src := `[
		{"margo": {}, "providers": [{"name": "rank0", "type": "echo"}]},
		{"margo": {}, "providers": [{"name": "rank1", "type": "echo"}]}
	]`
	doc, err := p.Process(Input{Source: src, Format: FormatJSON, Rank: 1, ProcessCount: 2})
	require.NoError(t, err)
	require.Len(t, doc.Providers, 1)
	assert.Equal(t, "rank1", doc.Providers[0].Name)
}

func TestPipelineProcessAmbiguousArrayFails(t *testing.T) {
	p := NewPipeline(stubEvaluator{})
	src := `[{"margo": {}}, {"margo": {}}, {"margo": {}}]`
	_, err := p.Process(Input{Source: src, Format: FormatJSON, ProcessCount: 2})
	require.Error(t, err)
	assert.True(t, berrors.Is(err, berrors.KindConfigInvalid))
}

func TestPipelineProcessRejectsInvalidDocument(t *testing.T) {
	p := NewPipeline(stubEvaluator{})
	src := `{"margo": {}, "providers": [{"type": "echo"}]}`
	_, err := p.Process(Input{Source: src, Format: FormatJSON})
	require.Error(t, err)
	assert.True(t, berrors.Is(err, berrors.KindConfigInvalid))
}

func TestPipelineProcessTOMLSource(t *testing.T) {
	p := NewPipeline(stubEvaluator{})
	src := "[margo]\nprotocol = \"na+sm\"\n"
	doc, err := p.Process(Input{Source: src, Format: FormatTOML})
	require.NoError(t, err)
	assert.JSONEq(t, `{"protocol":"na+sm"}`, string(doc.Margo))
}

func TestPipelineProcessScriptTemplateSource(t *testing.T) {
	p := NewPipeline(stubEvaluator{queryResult: `{"margo":{}}`})
	doc, err := p.Process(Input{Source: "ignored", Format: FormatScriptTemplate})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(doc.Margo))
}
