// Package mock provides an offline provider that answers deterministically.
// It backs `run --mock` and tests.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/alienxp03/deepdiscussion/provider"
)

// Name is the registry name of the mock provider.
const Name = "mock"

// VerdictMarker appears in every prompt that asks for a verdict.
const VerdictMarker = "同意:"

// Responder produces the answer for one prompt.
type Responder func(model, prompt string, call int) (string, error)

// Provider answers prompts without any network access.
type Provider struct {
	provider.BaseProvider

	mu        sync.Mutex
	calls     int
	responder Responder
}

// New creates a mock provider. A nil responder uses Default.
func New(cfg provider.Config, responder Responder) *Provider {
	if cfg.Name == "" {
		cfg.Name = Name
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "mock-v1"
	}
	if responder == nil {
		responder = Default
	}
	return &Provider{BaseProvider: provider.NewBaseProvider(cfg), responder: responder}
}

// Available always reports true.
func (p *Provider) Available() bool { return true }

// Calls returns how many requests have been executed.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Execute answers through the responder.
func (p *Provider) Execute(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()

	model := p.ModelFor(req)
	content, err := p.responder(model, req.Prompt, call)
	if err != nil {
		return nil, &provider.Error{Provider: p.Name(), Message: err.Error()}
	}
	return &provider.Response{Content: content, Model: model, Provider: p.Name(), Raw: content}, nil
}

// Default agrees with every proposal and proposes a solution derived from
// the prompt. The health prompt gets "2".
func Default(model, prompt string, call int) (string, error) {
	switch {
	case prompt == provider.HealthCheckPrompt:
		return "2", nil
	case strings.Contains(prompt, VerdictMarker):
		return fmt.Sprintf("同意: 是\n批判: %s 认为方案可行", model), nil
	default:
		return fmt.Sprintf("%s 方案 %04x", model, digest(prompt)), nil
	}
}

// Skeptic rejects the first n verdict prompts it sees, then agrees.
func Skeptic(n int) Responder {
	var mu sync.Mutex
	seen := 0
	return func(model, prompt string, call int) (string, error) {
		if !strings.Contains(prompt, VerdictMarker) {
			return Default(model, prompt, call)
		}
		mu.Lock()
		seen++
		reject := seen <= n
		mu.Unlock()
		if reject {
			return fmt.Sprintf("同意: 否\n批判: %s 发现方案存在严重不足", model), nil
		}
		return Default(model, prompt, call)
	}
}

func digest(s string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return uint16(h.Sum32())
}
