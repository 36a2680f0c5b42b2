// Package openrouter provides a provider for OpenRouter-compatible
// chat-completions APIs.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alienxp03/deepdiscussion/provider"
)

const (
	// DefaultBaseURL is the OpenRouter chat-completions endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.7

	maxBodySize = 10 * 1024 * 1024
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

// ChatResponse is the subset of the response body the provider reads.
type ChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Provider calls a chat-completions endpoint with bearer authentication.
type Provider struct {
	provider.BaseProvider
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option customizes a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a provider from configuration.
func New(cfg provider.Config, opts ...Option) *Provider {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	base := provider.NewBaseProvider(cfg)

	p := &Provider{
		BaseProvider: base,
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		client:       &http.Client{Timeout: base.Timeout()},
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available reports whether an API key is configured.
func (p *Provider) Available() bool {
	return p.apiKey != ""
}

// Execute sends the prompt as a single user message, retrying transient failures.
func (p *Provider) Execute(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	return provider.Retry(ctx, p.Name(), p.MaxRetries(), func(ctx context.Context) (*provider.Response, error) {
		return p.executeOnce(ctx, req)
	})
}

func (p *Provider) executeOnce(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if p.apiKey == "" {
		return nil, &provider.Error{Provider: p.Name(), Message: "API key not configured", Err: provider.ErrUnavailable}
	}

	model := p.ModelFor(req)
	if model == "" {
		return nil, &provider.Error{Provider: p.Name(), Message: "no model specified"}
	}

	body, err := json.Marshal(ChatRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: req.Prompt}},
		MaxTokens:   p.MaxTokensFor(req),
		Temperature: p.TemperatureFor(req),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	res, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &provider.Error{Provider: p.Name(), Message: "request failed", Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, &provider.Error{Provider: p.Name(), Message: "failed to read response body", Err: err}
	}

	if res.StatusCode != http.StatusOK {
		slog.Warn("API call failed", "provider", p.Name(), "model", model, "status", res.StatusCode)
		return nil, &provider.Error{
			Provider:   p.Name(),
			StatusCode: res.StatusCode,
			Message:    errorMessage(data),
		}
	}

	var parsed ChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &provider.Error{Provider: p.Name(), Message: "failed to decode response", Err: err}
	}
	if parsed.Error != nil {
		return nil, &provider.Error{Provider: p.Name(), Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &provider.Error{Provider: p.Name(), Message: "response has no choices"}
	}

	choice := parsed.Choices[0]
	resp := &provider.Response{
		Content:  strings.TrimSpace(choice.Message.Content),
		Model:    parsed.Model,
		Provider: p.Name(),
		Metadata: &provider.Metadata{
			Duration:   time.Since(start),
			StopReason: choice.FinishReason,
		},
		Raw: string(data),
	}
	if resp.Model == "" {
		resp.Model = model
	}
	if parsed.Usage != nil {
		resp.Metadata.InputTokens = parsed.Usage.PromptTokens
		resp.Metadata.OutputTokens = parsed.Usage.CompletionTokens
		resp.Metadata.TotalTokens = parsed.Usage.TotalTokens
	}
	return resp, nil
}

// HealthCheck performs a single non-retried probe.
func (p *Provider) HealthCheck(ctx context.Context) provider.HealthStatus {
	return provider.HealthCheckWithExecute(ctx, p.DefaultModel(), p.executeOnce)
}

func errorMessage(body []byte) string {
	var parsed ChatResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		msg = "empty response body"
	}
	return msg
}
