package judge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardmesh/sentinel/pkg/infra/httpx"
	"github.com/guardmesh/sentinel/pkg/infra/judge"
)

func fastRetry() httpx.RetryConfig {
	return httpx.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) judge.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return judge.NewOpenAIJudgeClient(
		"test-api-key",
		logrus.New(),
		judge.WithEndpoint(server.URL),
		judge.WithRetryConfig(fastRetry()),
	)
}

func responsesBody(t *testing.T, payload any) []byte {
	t.Helper()
	inner, err := json.Marshal(payload)
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]any{"output_text": string(inner)})
	require.NoError(t, err)
	return outer
}

func TestOpenAIJudgeClient_DraftPolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		draft := judge.PolicyDraft{
			Name:        "Anti-jailbreak policy",
			Description: "Blocks jailbreak compliance",
			Rules: []judge.RuleDraft{
				{Name: "no-unrestricted", Description: "block unrestricted claims", Pattern: "i am now unrestricted", Action: "block", Severity: "critical"},
			},
		}
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(responsesBody(t, draft))
		})

		got, err := client.DraftPolicy(context.Background(), "jailbreak threat summary")
		require.NoError(t, err)
		assert.Equal(t, "Anti-jailbreak policy", got.Name)
		require.Len(t, got.Rules, 1)
		assert.Equal(t, "block", got.Rules[0].Action)
	})

	t.Run("malformed output yields ErrFailedJudgeCall", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"output_text": "sure, here is some prose without json"}`))
		})

		_, err := client.DraftPolicy(context.Background(), "summary")
		require.Error(t, err)
		assert.ErrorIs(t, err, judge.ErrFailedJudgeCall)
	})

	t.Run("empty rule list rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(responsesBody(t, judge.PolicyDraft{Name: "empty", Rules: nil}))
		})

		_, err := client.DraftPolicy(context.Background(), "summary")
		assert.Error(t, err)
	})
}

func TestOpenAIJudgeClient_RateLimitRetry(t *testing.T) {
	t.Run("recovers after 429", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write(responsesBody(t, judge.ResponseRisk{Score: 42, Violations: []string{"leak"}, Reasoning: "partial compliance"}))
		})

		risk, err := client.ScoreResponse(context.Background(), "prompt", "response", []string{"rule"})
		require.NoError(t, err)
		assert.Equal(t, float64(42), risk.Score)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := client.ScoreResponse(context.Background(), "prompt", "response", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, judge.ErrFailedJudgeCall)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("server error is not retried", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := client.ScoreResponse(context.Background(), "prompt", "response", nil)
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestOpenAIJudgeClient_GeneratePrompts(t *testing.T) {
	t.Run("wrapped prompts object", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(responsesBody(t, map[string]any{"prompts": []string{"p1", "p2", "p3"}}))
		})

		prompts, err := client.GeneratePrompts(context.Background(), "summary", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, prompts)
	})

	t.Run("bare array tolerated", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(responsesBody(t, []string{"only one"}))
		})

		prompts, err := client.GeneratePrompts(context.Background(), "summary", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"only one"}, prompts)
	})
}

func TestOpenAIJudgeClient_AnalyzeThreat(t *testing.T) {
	t.Run("nested output array fallback", func(t *testing.T) {
		analysis := judge.ThreatAnalysis{
			Severity:   "high",
			Confidence: 0.8,
			Techniques: []string{"roleplay"},
			Indicators: []string{"i am now unrestricted"},
		}
		inner, err := json.Marshal(analysis)
		require.NoError(t, err)
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			body := map[string]any{
				"output": []map[string]any{
					{"content": []map[string]any{{"type": "output_text", "text": string(inner)}}},
				},
			}
			_ = json.NewEncoder(w).Encode(body)
		})

		got, err := client.AnalyzeThreat(context.Background(), "name", "description")
		require.NoError(t, err)
		assert.Equal(t, "high", got.Severity)
		assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	})

	t.Run("confidence out of range rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(responsesBody(t, judge.ThreatAnalysis{Severity: "high", Confidence: 3.5}))
		})

		_, err := client.AnalyzeThreat(context.Background(), "name", "description")
		assert.Error(t, err)
	})
}
