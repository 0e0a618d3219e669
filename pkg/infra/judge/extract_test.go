package judge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardmesh/sentinel/pkg/infra/judge"
)

func TestExtractJSON(t *testing.T) {
	t.Run("bare object passes through", func(t *testing.T) {
		out, err := judge.ExtractJSON(`{"risk_score": 10}`)
		require.NoError(t, err)
		assert.Equal(t, `{"risk_score": 10}`, out)
	})

	t.Run("markdown fenced object", func(t *testing.T) {
		raw := "```json\n{\"name\": \"policy\"}\n```"
		out, err := judge.ExtractJSON(raw)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name": "policy"}`, out)
	})

	t.Run("object wrapped in prose", func(t *testing.T) {
		raw := "Here is the analysis you asked for:\n{\"severity\": \"high\"}\nLet me know if you need more."
		out, err := judge.ExtractJSON(raw)
		require.NoError(t, err)
		assert.JSONEq(t, `{"severity": "high"}`, out)
	})

	t.Run("bare array", func(t *testing.T) {
		out, err := judge.ExtractJSON(`["a", "b"]`)
		require.NoError(t, err)
		assert.JSONEq(t, `["a", "b"]`, out)
	})

	t.Run("no json at all", func(t *testing.T) {
		_, err := judge.ExtractJSON("I'm sorry, I cannot help with that.")
		assert.Error(t, err)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := judge.ExtractJSON("   ")
		assert.Error(t, err)
	})

	t.Run("truncated object fails validation", func(t *testing.T) {
		_, err := judge.ExtractJSON(`{"severity": "high", "confidence":`)
		assert.Error(t, err)
	})
}
