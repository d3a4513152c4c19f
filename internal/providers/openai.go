// Package providers holds concrete types.Backend adapters that call out to
// real LLM HTTP APIs. Request/response shapes are grounded on the OpenAI
// Chat Completions API, following the same field layout the pack's
// Sanix-Darker-prev/internal/provider/openai client uses, adapted here onto
// net/http rather than resty since the rest of this gateway's own HTTP
// surface (api/handlers) is already stdlib-only.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/agentflow/types"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIBackend calls an OpenAI-compatible chat completions endpoint
// (OpenAI itself, Azure OpenAI, or any self-hosted drop-in).
type OpenAIBackend struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIBackend constructs a backend registered under name, calling
// baseURL+"/chat/completions" with the given model. name lets the same
// adapter code serve multiple router-visible providers (e.g. "openai" and
// an Azure deployment) with different credentials.
func NewOpenAIBackend(name, baseURL, apiKey, model string, timeout time.Duration) *OpenAIBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIBackend{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *OpenAIBackend) Name() string { return b.name }

func (b *OpenAIBackend) Execute(ctx context.Context, req *types.Request) (types.Result, error) {
	body, err := json.Marshal(chatRequest{
		Model:    b.model,
		Messages: []chatMessage{{Role: "user", Content: req.Message}},
	})
	if err != nil {
		return types.Result{}, fmt.Errorf("%s: marshal request: %w", b.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return types.Result{}, fmt.Errorf("%s: build request: %w", b.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return types.Result{Success: false, Error: err.Error(), Metadata: types.ResultMetadata{Retryable: true}}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Result{Success: false, Error: err.Error(), Metadata: types.ResultMetadata{Retryable: true}}, nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr chatError
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = string(raw)
		}
		return types.Result{
			Success: false,
			Error:   msg,
			Metadata: types.ResultMetadata{
				HTTPStatus: resp.StatusCode,
				AuthError:  resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden,
				Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError,
			},
		}, nil
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return types.Result{}, fmt.Errorf("%s: decode response: %w", b.name, err)
	}
	if len(parsed.Choices) == 0 {
		return types.Result{Success: false, Error: "empty choices in response"}, nil
	}

	return types.Result{
		Success:    true,
		Response:   parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
		RawOutput:  string(raw),
		Metadata: types.ResultMetadata{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			HTTPStatus:   resp.StatusCode,
		},
	}, nil
}

func (b *OpenAIBackend) CheckHealth(ctx context.Context) (types.ProviderStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/models", nil)
	if err != nil {
		return types.ProviderStatus{Provider: b.name, Status: types.HealthDown, Error: err.Error()}, nil
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return types.ProviderStatus{Provider: b.name, Status: types.HealthDown, LatencyMs: latency, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return types.ProviderStatus{Provider: b.name, Status: types.HealthDown, LatencyMs: latency}, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return types.ProviderStatus{Provider: b.name, Status: types.HealthDegraded, LatencyMs: latency}, nil
	}
	return types.ProviderStatus{Provider: b.name, Status: types.HealthOK, LatencyMs: latency}, nil
}

func (b *OpenAIBackend) Shutdown(ctx context.Context) error {
	b.client.CloseIdleConnections()
	return nil
}
