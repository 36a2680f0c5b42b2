package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// HealthCheckPrompt is the prompt sent to providers for health checks.
	HealthCheckPrompt = "1+1? One digit answer only"

	// HealthCheckTimeout bounds a single probe.
	HealthCheckTimeout = 30 * time.Second
)

// HealthStatus is the outcome of one probe.
type HealthStatus struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model,omitempty"`
	Available    bool          `json:"available"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// HealthCheckWithExecute runs a provider health check using the provided execute function.
// The probe is a single attempt: callers pass the non-retrying execute path.
func HealthCheckWithExecute(ctx context.Context, model string, exec func(context.Context, *Request) (*Response, error)) HealthStatus {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	resp, err := exec(ctx, &Request{Prompt: HealthCheckPrompt, Model: model, MaxTokens: 16})
	status := HealthStatus{
		Model:        model,
		ResponseTime: time.Since(start),
		CheckedAt:    time.Now(),
	}

	switch {
	case err != nil:
		status.Error = err.Error()
	case resp == nil:
		status.Error = "empty response"
	default:
		if err := validateHealthResponse(resp.Content); err != nil {
			status.Error = err.Error()
		} else {
			status.Available = true
		}
	}
	return status
}

// Check probes p if it implements HealthChecker, and otherwise executes the
// health prompt once through p.Execute.
func Check(ctx context.Context, p Provider, model string) HealthStatus {
	var status HealthStatus
	if hc, ok := p.(HealthChecker); ok {
		status = hc.HealthCheck(ctx)
	} else {
		status = HealthCheckWithExecute(ctx, model, p.Execute)
	}
	status.Provider = p.Name()
	return status
}

func validateHealthResponse(content string) error {
	trimmed := strings.TrimSpace(content)
	if strings.TrimRight(trimmed, ".") == "2" {
		return nil
	}
	if trimmed == "" {
		return fmt.Errorf("unexpected response: empty")
	}
	if len(trimmed) > 120 {
		trimmed = trimmed[:120] + "..."
	}
	return fmt.Errorf("unexpected response: %q", trimmed)
}
