package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	// MaxOutputSize is the maximum size of CLI output (10MB).
	MaxOutputSize = 10 * 1024 * 1024

	// DefaultTimeout is the default timeout for one request.
	DefaultTimeout = 5 * time.Minute
)

// BaseProvider holds what every provider shares and runs CLI commands.
// Providers embed it for Name, DisplayName, defaults and retry settings.
type BaseProvider struct {
	name         string
	displayName  string
	command      string
	args         []string
	defaultModel string
	models       []string
	timeout      time.Duration
	maxRetries   int
	maxTokens    int
	temperature  float64
}

// NewBaseProvider creates a new base provider from configuration.
func NewBaseProvider(cfg Config) BaseProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = cfg.Name
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	return BaseProvider{
		name:         cfg.Name,
		displayName:  displayName,
		command:      cfg.Command,
		args:         cfg.Args,
		defaultModel: cfg.DefaultModel,
		models:       cfg.Models,
		timeout:      timeout,
		maxRetries:   maxRetries,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
	}
}

// Name returns the provider identifier.
func (p *BaseProvider) Name() string {
	return p.name
}

// DisplayName returns the human-friendly name.
func (p *BaseProvider) DisplayName() string {
	return p.displayName
}

// Models returns known models.
func (p *BaseProvider) Models() []string {
	return p.models
}

// DefaultModel returns the default model.
func (p *BaseProvider) DefaultModel() string {
	return p.defaultModel
}

// Timeout returns the configured timeout.
func (p *BaseProvider) Timeout() time.Duration {
	return p.timeout
}

// MaxRetries returns the configured retry count.
func (p *BaseProvider) MaxRetries() int {
	return p.maxRetries
}

// ModelFor returns req.Model, or the default model when it is empty.
func (p *BaseProvider) ModelFor(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

// MaxTokensFor returns req.MaxTokens, or the configured default.
func (p *BaseProvider) MaxTokensFor(req *Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return p.maxTokens
}

// TemperatureFor returns req.Temperature, or the configured default.
func (p *BaseProvider) TemperatureFor(req *Request) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return p.temperature
}

// Available checks if the CLI tool is installed and accessible.
func (p *BaseProvider) Available() bool {
	if p.command == "" {
		return false
	}
	_, err := exec.LookPath(p.command)
	return err == nil
}

// ValidateExecutable checks if the CLI is available before execution.
func (p *BaseProvider) ValidateExecutable() error {
	if p.command == "" {
		return &Error{Provider: p.name, Message: "no command configured", Err: ErrUnavailable}
	}
	if _, err := exec.LookPath(p.command); err != nil {
		return &Error{
			Provider: p.name,
			Message:  fmt.Sprintf("executable '%s' not found in PATH", p.command),
			Err:      errors.Join(ErrUnavailable, err),
		}
	}
	return nil
}

// limitedWriter wraps an io.Writer and limits total bytes written.
type limitedWriter struct {
	w       io.Writer
	n       int64
	limit   int64
	limited bool
}

func newLimitedWriter(w io.Writer, limit int64) *limitedWriter {
	return &limitedWriter{w: w, limit: limit}
}

func (l *limitedWriter) Write(p []byte) (n int, err error) {
	if l.n >= l.limit {
		l.limited = true
		return len(p), nil
	}

	written := len(p)
	remaining := l.limit - l.n
	if int64(len(p)) > remaining {
		p = p[:remaining]
		l.limited = true
	}

	n, err = l.w.Write(p)
	l.n += int64(n)
	if err != nil {
		return n, err
	}
	return written, nil
}

// executeOnce runs the CLI command with the given arguments (single attempt).
func (p *BaseProvider) executeOnce(ctx context.Context, req *Request) (string, error) {
	if err := p.ValidateExecutable(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	allArgs := append([]string{}, p.args...)
	allArgs = append(allArgs, req.Args...)

	slog.Debug("Executing CLI command",
		"provider", p.name,
		"command", p.command,
		"args_count", len(allArgs),
		"dir", req.WorkingDir,
	)

	cmd := exec.CommandContext(ctx, p.command, allArgs...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	stdoutLimited := newLimitedWriter(&stdout, MaxOutputSize)
	stderrLimited := newLimitedWriter(&stderr, MaxOutputSize)
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	if err := cmd.Run(); err != nil {
		slog.Error("CLI command failed",
			"provider", p.name,
			"error", err,
			"stderr", stderr.String(),
		)
		if ctx.Err() == context.DeadlineExceeded {
			return "", &Error{Provider: p.name, Message: "command timed out", Err: ctx.Err()}
		}
		if stderr.Len() > 0 {
			errMsg := stderr.String()
			if stderrLimited.limited {
				errMsg += "\n... (output truncated)"
			}
			return "", &Error{Provider: p.name, Message: errMsg, Err: err}
		}
		return "", &Error{Provider: p.name, Message: "command failed", Err: err}
	}

	result := strings.TrimSpace(stdout.String())
	slog.Debug("CLI command successful", "provider", p.name, "output_len", len(result))
	if stdoutLimited.limited {
		result += "\n... (output truncated at 10MB)"
	}
	return result, nil
}

// ExecuteCommand runs the CLI command with retry logic for transient failures.
func (p *BaseProvider) ExecuteCommand(ctx context.Context, req *Request) (string, error) {
	return Retry(ctx, p.name, p.maxRetries, func(ctx context.Context) (string, error) {
		return p.executeOnce(ctx, req)
	})
}
