// Package gemini provides a provider backed by the Google GenAI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/alienxp03/deepdiscussion/provider"
)

// DefaultModel is used when neither the request nor the config names a model.
const DefaultModel = "gemini-2.0-flash"

// Provider calls Gemini models through genai.
type Provider struct {
	provider.BaseProvider
	apiKey  string
	baseURL string

	mu     sync.Mutex
	client *genai.Client
}

// New creates a Gemini provider with the given configuration.
func New(cfg provider.Config) *Provider {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	return &Provider{
		BaseProvider: provider.NewBaseProvider(cfg),
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
	}
}

// Available reports whether an API key is configured.
func (p *Provider) Available() bool {
	return p.apiKey != ""
}

func (p *Provider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.apiKey == "" {
		return nil, &provider.Error{Provider: p.Name(), Message: "API key not configured", Err: provider.ErrUnavailable}
	}

	cfg := &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	p.client = client
	return client, nil
}

// Execute sends the prompt as a single text turn, retrying transient failures.
func (p *Provider) Execute(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	return provider.Retry(ctx, p.Name(), p.MaxRetries(), func(ctx context.Context) (*provider.Response, error) {
		return p.executeOnce(ctx, req)
	})
}

func (p *Provider) executeOnce(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	model := p.ModelFor(req)
	config := &genai.GenerateContentConfig{}
	if t := p.TemperatureFor(req); t > 0 {
		config.Temperature = genai.Ptr(float32(t))
	}
	if n := p.MaxTokensFor(req); n > 0 {
		config.MaxOutputTokens = int32(n)
	}

	start := time.Now()
	result, err := client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &provider.Error{Provider: p.Name(), Message: "request timed out", Err: ctx.Err()}
		}
		return nil, &provider.Error{Provider: p.Name(), Message: "generation failed", Err: err}
	}

	resp := &provider.Response{
		Content:  strings.TrimSpace(result.Text()),
		Model:    model,
		Provider: p.Name(),
		Metadata: &provider.Metadata{Duration: time.Since(start)},
	}
	if len(result.Candidates) > 0 {
		resp.Metadata.StopReason = string(result.Candidates[0].FinishReason)
	}
	if u := result.UsageMetadata; u != nil {
		resp.Metadata.InputTokens = int(u.PromptTokenCount)
		resp.Metadata.OutputTokens = int(u.CandidatesTokenCount)
		resp.Metadata.TotalTokens = int(u.TotalTokenCount)
	}
	return resp, nil
}

// HealthCheck performs a single non-retried probe.
func (p *Provider) HealthCheck(ctx context.Context) provider.HealthStatus {
	return provider.HealthCheckWithExecute(ctx, p.DefaultModel(), p.executeOnce)
}
