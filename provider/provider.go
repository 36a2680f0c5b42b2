// Package provider connects debate participants to text-generation backends.
//
// A Provider is one backend (an HTTP API, the Gemini SDK, a local CLI tool).
// A Router maps roster participants onto providers and models, and is what
// the debate engine calls.
package provider

import (
	"context"
	"time"
)

// Provider defines the interface for text-generation backends.
type Provider interface {
	// Name returns the provider's unique identifier (e.g., "openrouter", "gemini").
	Name() string

	// Available reports whether the provider can be called at all
	// (credentials present, CLI installed).
	Available() bool

	// Execute sends a request to the provider and returns a structured response.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// HealthChecker is implemented by providers that support a live probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// Request represents a generation request to a provider.
type Request struct {
	// Prompt is the input text to send.
	Prompt string

	// Model is the specific model to use. If empty, the provider's default model is used.
	Model string

	// MaxTokens caps the answer length. Zero uses the provider default.
	MaxTokens int

	// Temperature overrides the provider's sampling temperature when non-nil.
	Temperature *float64

	// WorkingDir is the directory CLI providers run in.
	WorkingDir string

	// Args are additional command-line arguments for CLI providers.
	Args []string
}

// Response represents a provider's response with metadata.
type Response struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Model is the model that was used for this response.
	Model string `json:"model,omitempty"`

	// Provider is the name of the provider that generated this response.
	Provider string `json:"provider,omitempty"`

	// Metadata contains usage statistics and additional information.
	Metadata *Metadata `json:"metadata,omitempty"`

	// Raw is the unprocessed output (for debugging).
	Raw string `json:"-"`
}

// Metadata contains usage statistics and additional response information.
type Metadata struct {
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	TotalTokens  int           `json:"total_tokens,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	StopReason   string        `json:"stop_reason,omitempty"`
}

// Config holds configuration for creating a provider.
type Config struct {
	// Name is the unique identifier for this provider.
	Name string

	// DisplayName is a human-friendly name. If empty, Name is used.
	DisplayName string

	// Command and Args configure CLI providers.
	Command string
	Args    []string

	// ModelFlag is the CLI flag that selects a model. Default: --model.
	ModelFlag string

	// BaseURL is the API endpoint for HTTP providers.
	BaseURL string

	// APIKey authenticates HTTP and SDK providers.
	APIKey string

	// DefaultModel is the model to use when Request.Model is empty.
	DefaultModel string

	// Models is a list of known models for this provider.
	Models []string

	// Timeout is the maximum duration for a request. Default: 5 minutes.
	Timeout time.Duration

	// MaxRetries is the number of retries for retriable failures.
	// Negative selects the default of 2.
	MaxRetries int

	// MaxTokens and Temperature are request defaults.
	MaxTokens   int
	Temperature float64
}
