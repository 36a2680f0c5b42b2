package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Binding names the provider and model that answer for one participant.
type Binding struct {
	Provider string
	Model    string
}

// Router sends each participant's prompts to its bound provider.
type Router struct {
	registry *Registry
	bindings map[string]Binding
}

// NewRouter checks that every binding refers to a registered provider.
func NewRouter(registry *Registry, bindings map[string]Binding) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	copied := make(map[string]Binding, len(bindings))
	for participant, b := range bindings {
		if !registry.Has(b.Provider) {
			return nil, fmt.Errorf("participant %s: provider not found: %s", participant, b.Provider)
		}
		copied[participant] = b
	}
	return &Router{registry: registry, bindings: copied}, nil
}

// Binding returns the binding for participant.
func (r *Router) Binding(participant string) (Binding, bool) {
	b, ok := r.bindings[participant]
	return b, ok
}

// Call executes prompt with the participant's provider and model.
func (r *Router) Call(ctx context.Context, participant, prompt string) (string, error) {
	b, ok := r.bindings[participant]
	if !ok {
		return "", fmt.Errorf("no provider bound to participant %s", participant)
	}
	p, err := r.registry.Get(b.Provider)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := p.Execute(ctx, &Request{Prompt: prompt, Model: b.Model})
	if err != nil {
		return "", fmt.Errorf("failed to call %s for %s: %w", b.Provider, participant, err)
	}

	slog.Debug("Participant answered",
		"participant", participant,
		"provider", b.Provider,
		"model", resp.Model,
		"duration", time.Since(start),
		"output_len", len(resp.Content),
	)
	return resp.Content, nil
}
