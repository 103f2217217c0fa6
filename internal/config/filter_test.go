package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterConditionalDropsFalsyNode(t *testing.T) {
	tree := map[string]interface{}{
		"__if__": "false",
		"name":   "dropped",
	}
	_, keep, err := filterConditional(tree, stubEvaluator{})
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestFilterConditionalKeepsTruthyNodeAndStripsKey(t *testing.T) {
	tree := map[string]interface{}{
		"__if__": "true",
		"name":   "kept",
	}
	filtered, keep, err := filterConditional(tree, stubEvaluator{})
	require.NoError(t, err)
	require.True(t, keep)
	m := filtered.(map[string]interface{})
	_, hasIf := m["__if__"]
	assert.False(t, hasIf)
	assert.Equal(t, "kept", m["name"])
}

func TestFilterConditionalRecursesIntoArrays(t *testing.T) {
	tree := []interface{}{
		map[string]interface{}{"__if__": "true", "name": "a"},
		map[string]interface{}{"__if__": "false", "name": "b"},
	}
	filtered, keep, err := filterConditional(tree, stubEvaluator{})
	require.NoError(t, err)
	require.True(t, keep)
	arr := filtered.([]interface{})
	require.Len(t, arr, 1)
	assert.Equal(t, "a", arr[0].(map[string]interface{})["name"])
}

func TestSelectByRankCollapsesSingleton(t *testing.T) {
	doc := []interface{}{"only"}
	got, err := selectByRank(doc, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "only", got)
}

func TestSelectByRankPicksByRank(t *testing.T) {
	doc := []interface{}{"r0", "r1", "r2"}
	got, err := selectByRank(doc, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "r2", got)
}

func TestSelectByRankNonArrayPassesThrough(t *testing.T) {
	doc := map[string]interface{}{"a": 1}
	got, err := selectByRank(doc, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestSelectByRankOutOfRangeFails(t *testing.T) {
	doc := []interface{}{"r0", "r1"}
	_, err := selectByRank(doc, 5, 2)
	require.Error(t, err)
}

func TestExpandSimplifiedFormsPromotesStringToArray(t *testing.T) {
	doc := map[string]interface{}{
		"providers": []interface{}{
			map[string]interface{}{
				"dependencies": map[string]interface{}{
					"pool": "mypool",
					"arr":  []interface{}{"already", "array"},
				},
			},
		},
	}
	expandSimplifiedForms(doc)

	deps := doc["providers"].([]interface{})[0].(map[string]interface{})["dependencies"].(map[string]interface{})
	assert.Equal(t, []interface{}{"mypool"}, deps["pool"])
	assert.Equal(t, []interface{}{"already", "array"}, deps["arr"])
}
