package vlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONDirect(t *testing.T) {
	v, err := ExtractJSON(`{"summary": "empty room"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "empty room"}`, string(v))
}

func TestExtractJSONFenced(t *testing.T) {
	raw := "Here is the analysis:\n```json\n{\"summary\": \"a cat\", \"objects\": [\"cat\"]}\n```\nLet me know if you need more."
	v, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "a cat", "objects": ["cat"]}`, string(v))
}

func TestExtractJSONBareFence(t *testing.T) {
	raw := "```\n[{\"rule_id\": \"r_1\", \"triggered\": false}]\n```"
	v, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"rule_id": "r_1", "triggered": false}]`, string(v))
}

func TestExtractJSONEmbeddedInProse(t *testing.T) {
	raw := `Sure! The scene shows {"summary": "a door", "changes": "door opened {slightly}"} as requested.`
	v, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "a door", "changes": "door opened {slightly}"}`, string(v))
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	raw := `{"reasoning": "saw \"}{\" painted on the wall", "triggered": true}`
	v, err := ExtractJSON(raw)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, ExtractInto(raw, &out))
	assert.Equal(t, true, out["triggered"])
	assert.NotEmpty(t, v)
}

func TestExtractJSONTruncatedObject(t *testing.T) {
	var out map[string]any
	require.NoError(t, ExtractInto(`{"a":1`, &out))
	assert.Equal(t, float64(1), out["a"])
}

func TestExtractJSONTruncatedNested(t *testing.T) {
	var out map[string]any
	require.NoError(t, ExtractInto(`{"a":1,"b":[2,`, &out))
	assert.Equal(t, float64(1), out["a"])
	assert.Equal(t, []any{float64(2)}, out["b"])
}

func TestExtractJSONTruncatedString(t *testing.T) {
	var out map[string]any
	require.NoError(t, ExtractInto(`{"summary": "a person stand`, &out))
	assert.Equal(t, "a person stand", out["summary"])
}

func TestExtractJSONGarbage(t *testing.T) {
	_, err := ExtractJSON("I could not analyze this image, sorry.")
	assert.ErrorIs(t, err, ErrBadJSON)

	_, err = ExtractJSON("")
	assert.ErrorIs(t, err, ErrBadJSON)
}

func TestExtractJSONScalarRejected(t *testing.T) {
	// Bare scalars are not useful payloads; the extractor wants an object
	// or array.
	_, err := ExtractJSON(`42`)
	assert.ErrorIs(t, err, ErrBadJSON)
}

func TestExtractIntoEvaluations(t *testing.T) {
	raw := "```json\n[{\"rule_id\": \"r_abc\", \"triggered\": true, \"confidence\": 0.92, \"reasoning\": \"person visible\"}]\n```"
	var evals []RuleEvaluation
	require.NoError(t, ExtractInto(raw, &evals))
	require.Len(t, evals, 1)
	assert.Equal(t, "r_abc", evals[0].RuleID)
	assert.True(t, evals[0].Triggered)
	assert.InDelta(t, 0.92, evals[0].Confidence, 1e-9)
}
