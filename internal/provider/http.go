package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	pkgerrors "github.com/fyreflow/engine/pkg/errors"
)

// HTTPTransport invokes OpenAI's /v1/responses or Anthropic's /v1/messages
// depending on cfg.Kind, streaming the response via SSE and accumulating
// the final text.
type HTTPTransport struct {
	client   *http.Client
	breakers map[string]*gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

// NewHTTPTransport returns a transport sharing one circuit breaker per
// provider id and a global token-bucket rate limiter across all providers.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		client:   &http.Client{Timeout: 120 * time.Second},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (t *HTTPTransport) breakerFor(providerID string) *gobreaker.CircuitBreaker {
	if b, ok := t.breakers[providerID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        providerID,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	t.breakers[providerID] = b
	return b
}

// Invoke sends req to cfg's configured provider and returns the
// accumulated streamed text.
func (t *HTTPTransport) Invoke(ctx context.Context, cfg Config, req Request, log *slog.Logger) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}

	breaker := t.breakerFor(cfg.ID)
	result, err := breaker.Execute(func() (interface{}, error) {
		return t.invokeWithRetry(ctx, cfg, req, log)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (t *HTTPTransport) invokeWithRetry(ctx context.Context, cfg Config, req Request, log *slog.Logger) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts(); attempt++ {
		text, err := t.doInvoke(ctx, cfg, req, log)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var provErr *pkgerrors.ProviderError
		retryable := false
		if asProviderError(err, &provErr) {
			retryable = RetryableStatus(provErr.StatusCode)
		}
		if !retryable || attempt == MaxAttempts() {
			return "", err
		}

		retryAfter := time.Duration(0)
		if provErr != nil {
			retryAfter = provErr.RetryAfter
		}
		if sleepErr := Sleep(ctx, Backoff(attempt, retryAfter)); sleepErr != nil {
			return "", sleepErr
		}
	}
	return "", lastErr
}

func asProviderError(err error, target **pkgerrors.ProviderError) bool {
	if pe, ok := err.(*pkgerrors.ProviderError); ok {
		*target = pe
		return true
	}
	return false
}

func (t *HTTPTransport) doInvoke(ctx context.Context, cfg Config, req Request, log *slog.Logger) (string, error) {
	switch cfg.Kind {
	case KindOpenAI:
		return t.invokeOpenAI(ctx, cfg, req, log)
	case KindAnthropic:
		return t.invokeAnthropic(ctx, cfg, req, log)
	case KindBedrockAnthropic:
		return t.invokeBedrockAnthropic(ctx, cfg, req, log)
	default:
		return "", fmt.Errorf("unsupported provider kind %q for HTTP transport", cfg.Kind)
	}
}

// openAI request/response shapes for POST /v1/responses.
type openAIRequest struct {
	Model     string                 `json:"model"`
	Input     []openAIInputMessage   `json:"input"`
	Reasoning *openAIReasoning       `json:"reasoning,omitempty"`
	Stream    bool                   `json:"stream"`
}

type openAIInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIReasoning struct {
	Effort string `json:"effort,omitempty"`
}

func (t *HTTPTransport) invokeOpenAI(ctx context.Context, cfg Config, req Request, log *slog.Logger) (string, error) {
	body := openAIRequest{
		Model: req.Model,
		Input: []openAIInputMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Context},
		},
		Stream: true,
	}
	if req.ReasoningEffort != "" {
		body.Reasoning = &openAIReasoning{Effort: req.ReasoningEffort}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	httpReq, err := newJSONRequest(ctx, baseURL+"/responses", body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", &pkgerrors.ProviderError{Provider: "openai", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readProviderError("openai", resp)
	}

	return accumulateSSE(ctx, resp.Body, "response.output_text.delta", log)
}

// anthropic request/response shapes for POST /v1/messages.
type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	Stream    bool                `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (t *HTTPTransport) invokeAnthropic(ctx context.Context, cfg Config, req Request, log *slog.Logger) (string, error) {
	maxTokens := clip(int(float64(req.ContextWindowTokens)*0.02), 1200, 6400)

	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Context}},
		Stream:    true,
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}

	httpReq, err := newJSONRequest(ctx, baseURL+"/messages", body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if req.ReasoningEffort != "disabled" {
		httpReq.Header.Set("anthropic-beta", "effort-2025-11-24")
	}
	if req.Use1MContext {
		httpReq.Header.Add("anthropic-beta", "context-1m-2025-08-07")
	}

	usingOAuth := cfg.AuthMode == AuthModeOAuth
	if usingOAuth {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.OAuthToken)
	} else {
		httpReq.Header.Set("x-api-key", cfg.APIKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", &pkgerrors.ProviderError{Provider: "anthropic", Message: err.Error()}
	}

	// Claude OAuth setup tokens are occasionally rejected on the bearer
	// path; retry once with x-api-key before giving up.
	if usingOAuth && resp.StatusCode == http.StatusUnauthorized {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if strings.Contains(strings.ToLower(string(errBody)), "bearer") && oauthShapeValid(KindAnthropic, cfg.OAuthToken) {
			retryReq, err := newJSONRequest(ctx, baseURL+"/messages", body)
			if err != nil {
				return "", err
			}
			retryReq.Header = httpReq.Header.Clone()
			retryReq.Header.Set("x-api-key", cfg.OAuthToken)
			retryReq.Header.Del("Authorization")
			resp, err = t.client.Do(retryReq)
			if err != nil {
				return "", &pkgerrors.ProviderError{Provider: "anthropic", Message: err.Error()}
			}
		} else {
			return "", &pkgerrors.ProviderError{Provider: "anthropic", StatusCode: http.StatusUnauthorized, Message: string(errBody)}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readProviderError("anthropic", resp)
	}

	return accumulateSSE(ctx, resp.Body, "content_block_delta", log)
}

func clip(v, min, max int) int {
	return int(math.Max(float64(min), math.Min(float64(max), float64(v))))
}

func newJSONRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func readProviderError(providerName string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	return &pkgerrors.ProviderError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Message:    string(body),
		RetryAfter: retryAfter,
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// accumulateSSE reads a text/event-stream body, collecting delta text only
// from events scoped to deltaEventHint (OpenAI's "response.output_text.delta",
// Claude's "content_block_delta"), and logs request ids it encounters;
// heartbeat pings and other events are skipped. The event name is read from the SSE "event:" line when
// present; if the stream omits that field, it falls back to the JSON
// payload's own "type" key.
func accumulateSSE(ctx context.Context, body io.Reader, deltaEventHint string, log *slog.Logger) (string, error) {
	reader := bufio.NewReader(body)
	var out strings.Builder
	currentEvent := ""

	for {
		select {
		case <-ctx.Done():
			return out.String(), ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return out.String(), nil
			}
			return out.String(), err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			currentEvent = ""
			continue
		}
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		if reqID, ok := event["request_id"].(string); ok && reqID != "" && log != nil {
			log.Debug("provider request id", "request_id", reqID)
		}

		eventType := currentEvent
		if eventType == "" {
			eventType, _ = event["type"].(string)
		}
		if eventType != deltaEventHint {
			continue
		}

		out.WriteString(extractDeltaText(event))
	}
}

// extractDeltaText pulls incremental text out of either wire format:
// OpenAI's {"delta": "..."} or Claude's {"delta": {"text": "..."}}.
func extractDeltaText(event map[string]any) string {
	delta, ok := event["delta"]
	if !ok {
		return ""
	}
	switch v := delta.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["text"].(string); ok {
			return s
		}
	}
	return ""
}
