package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/guardmesh/sentinel/pkg/infra/httpx"
	"github.com/guardmesh/sentinel/pkg/types"
)

const (
	defaultInvokeTimeout   = 45 * time.Second
	defaultBreakerCooldown = 30 * time.Second
	maxDumpSize            = 500
)

// Invoker sends one prompt to a registered target model and returns the
// response text. Endpoint failures are returned as data: a synthetic
// "ERROR: ..." response string, so broken endpoints stay visible in risk
// accounting instead of aborting the probe cycle.
//
//go:generate mockery --name=Invoker --dir=. --output=./mocks --filename=invoker_mock.go --case=underscore --with-expecter
type Invoker interface {
	Invoke(ctx context.Context, model *types.TargetModel, prompt string) string
}

type HTTPInvoker struct {
	client  httpx.Client
	breaker httpx.CircuitBreaker
	timeout time.Duration
	logger  *logrus.Logger
}

type InvokerOption func(*HTTPInvoker)

func WithHTTPClient(client httpx.Client) InvokerOption {
	return func(i *HTTPInvoker) {
		if client != nil {
			i.client = client
		}
	}
}

func WithTimeout(timeout time.Duration) InvokerOption {
	return func(i *HTTPInvoker) {
		if timeout > 0 {
			i.timeout = timeout
		}
	}
}

func WithCircuitBreaker(cb httpx.CircuitBreaker) InvokerOption {
	return func(i *HTTPInvoker) {
		if cb != nil {
			i.breaker = cb
		}
	}
}

func NewHTTPInvoker(logger *logrus.Logger, opts ...InvokerOption) Invoker {
	inv := &HTTPInvoker{
		client:  httpx.NewFastHTTPClient(httpx.WithTimeout(defaultInvokeTimeout)),
		breaker: httpx.NewCircuitBreaker("target-model", httpx.BreakerSettings{Cooldown: defaultBreakerCooldown}),
		timeout: defaultInvokeTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type rawPromptRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
}

func (i *HTTPInvoker) Invoke(ctx context.Context, model *types.TargetModel, prompt string) string {
	body, err := buildRequestBody(model, prompt)
	if err != nil {
		return "ERROR: " + err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, model.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "ERROR: " + err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	if model.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+model.APIKey)
	}

	// Transport errors count against the breaker; a tripped breaker still
	// produces an "ERROR: ..." response string so a dead endpoint stays
	// visible in risk accounting instead of vanishing from the cycle.
	var resp *http.Response
	err = i.breaker.Execute(func() error {
		var doErr error
		resp, doErr = i.client.Do(req)
		return doErr
	})
	if err != nil {
		i.logger.WithError(err).WithField("model", model.Name).Warn("target model request failed")
		return "ERROR: " + err.Error()
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "ERROR: " + err.Error()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		i.logger.WithFields(logrus.Fields{
			"model":  model.Name,
			"status": resp.StatusCode,
		}).Warn("target model returned error status")
		return fmt.Sprintf("ERROR: status %d: %s", resp.StatusCode, truncate(string(respBody), maxDumpSize))
	}

	return extractText(respBody)
}

func buildRequestBody(model *types.TargetModel, prompt string) ([]byte, error) {
	switch model.Flavor {
	case types.FlavorOpenAIChat:
		return json.Marshal(chatRequest{
			Model:    model.ModelID,
			Messages: []chatMessage{{Role: "user", Content: prompt}},
		})
	case types.FlavorRawPrompt:
		return json.Marshal(rawPromptRequest{
			Model:  model.ModelID,
			Prompt: prompt,
		})
	default:
		return nil, fmt.Errorf("unsupported provider flavor: %s", model.Flavor)
	}
}

// extractText pulls a best-effort response string out of an arbitrary JSON
// body: chat-completion nested message first, then generic output/text
// fields, then a raw string, then a truncated dump of the body.
func extractText(body []byte) string {
	var chat struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &chat); err == nil && len(chat.Choices) > 0 {
		if c := strings.TrimSpace(chat.Choices[0].Message.Content); c != "" {
			return c
		}
		if c := strings.TrimSpace(chat.Choices[0].Text); c != "" {
			return c
		}
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err == nil {
		for _, key := range []string{"output", "text", "response", "completion"} {
			if raw, ok := generic[key]; ok {
				var s string
				if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}

	var bare string
	if err := json.Unmarshal(body, &bare); err == nil && strings.TrimSpace(bare) != "" {
		return strings.TrimSpace(bare)
	}

	return truncate(string(body), maxDumpSize)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Step back to a rune boundary so the cut never emits invalid UTF-8.
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
