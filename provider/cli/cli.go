// Package cli provides a provider that shells out to a local command-line
// model tool. The prompt is passed as the last argument and stdout is the answer.
package cli

import (
	"context"
	"time"

	"github.com/alienxp03/deepdiscussion/provider"
)

// DefaultModelFlag selects a model on most CLIs.
const DefaultModelFlag = "--model"

// Provider is a configurable provider for custom CLI tools.
type Provider struct {
	provider.BaseProvider
	modelFlag string
}

// New creates a CLI provider from configuration.
func New(cfg provider.Config) *Provider {
	flag := cfg.ModelFlag
	if flag == "" {
		flag = DefaultModelFlag
	}
	return &Provider{
		BaseProvider: provider.NewBaseProvider(cfg),
		modelFlag:    flag,
	}
}

// BuildArgs returns the per-request arguments appended after the configured args.
func (p *Provider) BuildArgs(req *provider.Request) []string {
	var args []string
	if model := p.ModelFor(req); model != "" && p.modelFlag != "-" {
		args = append(args, p.modelFlag, model)
	}
	args = append(args, req.Args...)
	return append(args, req.Prompt)
}

// Execute runs the command and returns its trimmed stdout.
func (p *Provider) Execute(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	model := p.ModelFor(req)
	execReq := &provider.Request{
		Prompt:     req.Prompt,
		Model:      model,
		WorkingDir: req.WorkingDir,
		Args:       p.BuildArgs(req),
	}

	start := time.Now()
	content, err := p.ExecuteCommand(ctx, execReq)
	if err != nil {
		return nil, err
	}

	return &provider.Response{
		Content:  content,
		Model:    model,
		Provider: p.Name(),
		Metadata: &provider.Metadata{Duration: time.Since(start)},
		Raw:      content,
	}, nil
}
