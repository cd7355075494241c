package consent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyModificationsDottedPaths(t *testing.T) {
	params := map[string]any{
		"to":   "team@example.com",
		"body": map[string]any{"subject": "Quarterly numbers", "text": "draft"},
	}
	modified := ApplyModifications(params, map[string]any{
		"to":             "lead@example.com",
		"body.subject":   "Q3 numbers",
		"meta.tags":      []any{"reviewed"},
		"body.text.html": "<p>x</p>",
	})

	assert.Equal(t, "lead@example.com", modified["to"])
	body := modified["body"].(map[string]any)
	assert.Equal(t, "Q3 numbers", body["subject"])
	assert.Equal(t, map[string]any{"html": "<p>x</p>"}, body["text"])
	assert.Equal(t, map[string]any{"tags": []any{"reviewed"}}, modified["meta"])

	// The original parameters are untouched.
	assert.Equal(t, "team@example.com", params["to"])
	assert.Equal(t, "Quarterly numbers", params["body"].(map[string]any)["subject"])
	assert.Equal(t, "draft", params["body"].(map[string]any)["text"])
}

func TestResponseApplyModificationsWithoutChanges(t *testing.T) {
	params := map[string]any{"nested": map[string]any{"a": 1}}
	out := ConsentResponse{Decision: DecisionApproved}.ApplyModifications(params)
	assert.Equal(t, params, out)

	out["nested"].(map[string]any)["a"] = 2
	assert.Equal(t, 1, params["nested"].(map[string]any)["a"])
}

func TestApplyModificationsOnNilParameters(t *testing.T) {
	out := ApplyModifications(nil, map[string]any{"a.b": true})
	assert.Equal(t, map[string]any{"a": map[string]any{"b": true}}, out)
}
