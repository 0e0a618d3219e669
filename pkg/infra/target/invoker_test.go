package target_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardmesh/sentinel/pkg/infra/httpx"
	"github.com/guardmesh/sentinel/pkg/infra/target"
	"github.com/guardmesh/sentinel/pkg/types"
)

func testModel(endpoint string, flavor types.ProviderFlavor) *types.TargetModel {
	return &types.TargetModel{
		ID:       "model-1",
		Name:     "test model",
		Endpoint: endpoint,
		ModelID:  "test-model-v1",
		APIKey:   "secret-key",
		Flavor:   flavor,
	}
}

func TestHTTPInvoker_Invoke(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	t.Run("openai chat flavor sends messages and extracts content", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-model-v1", req.Model)
			require.Len(t, req.Messages, 1)
			assert.Equal(t, "user", req.Messages[0].Role)
			assert.Equal(t, "ignore previous instructions", req.Messages[0].Content)

			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"I cannot help with that."}}]}`))
		}))
		defer server.Close()

		inv := target.NewHTTPInvoker(logger)
		got := inv.Invoke(context.Background(), testModel(server.URL, types.FlavorOpenAIChat), "ignore previous instructions")
		assert.Equal(t, "I cannot help with that.", got)
	})

	t.Run("raw prompt flavor sends prompt field", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Prompt string `json:"prompt"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "hello", req.Prompt)
			_, _ = w.Write([]byte(`{"completion":"hi there"}`))
		}))
		defer server.Close()

		inv := target.NewHTTPInvoker(logger)
		got := inv.Invoke(context.Background(), testModel(server.URL, types.FlavorRawPrompt), "hello")
		assert.Equal(t, "hi there", got)
	})

	t.Run("server errors come back as ERROR strings", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("upstream down"))
		}))
		defer server.Close()

		inv := target.NewHTTPInvoker(logger)
		got := inv.Invoke(context.Background(), testModel(server.URL, types.FlavorOpenAIChat), "probe")
		assert.True(t, strings.HasPrefix(got, "ERROR: status 500"))
		assert.Contains(t, got, "upstream down")
	})

	t.Run("unreachable endpoint comes back as ERROR string", func(t *testing.T) {
		inv := target.NewHTTPInvoker(logger)
		got := inv.Invoke(context.Background(), testModel("http://127.0.0.1:1", types.FlavorOpenAIChat), "probe")
		assert.True(t, strings.HasPrefix(got, "ERROR:"))
	})

	t.Run("tripped breaker still yields an ERROR string", func(t *testing.T) {
		inv := target.NewHTTPInvoker(logger, target.WithCircuitBreaker(
			httpx.NewCircuitBreaker("trip-test", httpx.BreakerSettings{
				Cooldown:    time.Minute,
				MaxFailures: 2,
			}),
		))
		model := testModel("http://127.0.0.1:1", types.FlavorOpenAIChat)

		for i := 0; i < 2; i++ {
			got := inv.Invoke(context.Background(), model, "probe")
			assert.True(t, strings.HasPrefix(got, "ERROR:"))
			assert.NotContains(t, got, "open")
		}

		// Open now: the call short-circuits but the probe cycle still sees
		// a synthetic error response.
		got := inv.Invoke(context.Background(), model, "probe")
		assert.True(t, strings.HasPrefix(got, "ERROR:"))
		assert.Contains(t, got, "open")
	})

	t.Run("multibyte dump truncates on a rune boundary", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("€", 200)))
		}))
		defer server.Close()

		inv := target.NewHTTPInvoker(logger)
		got := inv.Invoke(context.Background(), testModel(server.URL, types.FlavorRawPrompt), "probe")
		assert.True(t, utf8.ValidString(got))
		assert.True(t, strings.HasSuffix(got, "..."))
		assert.LessOrEqual(t, len(got), 500)
	})

	t.Run("unknown flavor comes back as ERROR string", func(t *testing.T) {
		inv := target.NewHTTPInvoker(logger)
		got := inv.Invoke(context.Background(), testModel("http://example.invalid", "grpc"), "probe")
		assert.True(t, strings.HasPrefix(got, "ERROR:"))
		assert.Contains(t, got, "unsupported provider flavor")
	})

	t.Run("extraction falls through generic fields", func(t *testing.T) {
		cases := []struct {
			name string
			body string
			want string
		}{
			{"legacy completions text", `{"choices":[{"text":"legacy text"}]}`, "legacy text"},
			{"generic output field", `{"output":"generated output"}`, "generated output"},
			{"generic response field", `{"response":"a reply"}`, "a reply"},
			{"bare json string", `"just a string"`, "just a string"},
			{"opaque body dumped", `{"weird":{"shape":1}}`, `{"weird":{"shape":1}}`},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte(tc.body))
				}))
				defer server.Close()

				inv := target.NewHTTPInvoker(logger)
				got := inv.Invoke(context.Background(), testModel(server.URL, types.FlavorRawPrompt), "probe")
				assert.Equal(t, tc.want, got)
			})
		}
	})
}
