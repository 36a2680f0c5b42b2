// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alienxp03/deepdiscussion/internal/core"
	"github.com/alienxp03/deepdiscussion/internal/engine"
	"github.com/alienxp03/deepdiscussion/internal/prompt"
	"github.com/alienxp03/deepdiscussion/internal/storage"
	"github.com/alienxp03/deepdiscussion/internal/transcript"
	"github.com/alienxp03/deepdiscussion/provider"
	"github.com/alienxp03/deepdiscussion/provider/cli"
	"github.com/alienxp03/deepdiscussion/provider/gemini"
	"github.com/alienxp03/deepdiscussion/provider/mock"
	"github.com/alienxp03/deepdiscussion/provider/openrouter"
)

// Provider kinds.
const (
	KindOpenRouter = "openrouter"
	KindGemini     = "gemini"
	KindCLI        = "cli"
	KindMock       = "mock"
)

// Config represents the application configuration.
type Config struct {
	Debate       DebateConfig              `yaml:"debate"`
	Participants []core.Participant        `yaml:"participants"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Prompts      PromptsConfig             `yaml:"prompts,omitempty"`
	Transcript   TranscriptConfig          `yaml:"transcript"`
	Export       ExportConfig              `yaml:"export,omitempty"`
	Server       ServerConfig              `yaml:"server,omitempty"`
	Log          LogConfig                 `yaml:"log,omitempty"`
}

// DebateConfig holds the protocol limits.
type DebateConfig struct {
	MaxRounds           int           `yaml:"max_rounds"`
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout"`
	InterventionTimeout time.Duration `yaml:"intervention_timeout"`
	FailurePlaceholder  string        `yaml:"failure_placeholder"`
	Tokens              engine.Tokens `yaml:"tokens,omitempty"`
}

// ProviderConfig holds provider-specific settings.
type ProviderConfig struct {
	Kind         string        `yaml:"kind"`
	BaseURL      string        `yaml:"base_url,omitempty"`
	APIKeyEnv    string        `yaml:"api_key_env,omitempty"`
	APIKey       string        `yaml:"-"`
	Command      string        `yaml:"command,omitempty"`
	Args         []string      `yaml:"args,omitempty"`
	ModelFlag    string        `yaml:"model_flag,omitempty"`
	DefaultModel string        `yaml:"default_model,omitempty"`
	Models       []string      `yaml:"models,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MaxRetries   int           `yaml:"max_retries,omitempty"`
	MaxTokens    int           `yaml:"max_tokens,omitempty"`
	Temperature  float64       `yaml:"temperature,omitempty"`
	Enabled      bool          `yaml:"enabled"`
}

// PromptsConfig selects a built-in prompt set and overrides single templates.
type PromptsConfig struct {
	Set       string     `yaml:"set,omitempty"`
	Templates prompt.Set `yaml:"templates,omitempty"`
}

// TranscriptConfig holds where transcripts are written.
type TranscriptConfig struct {
	MarkdownPath string `yaml:"markdown_path"`
	Database     string `yaml:"database"`
}

// ExportConfig holds export settings.
type ExportConfig struct {
	// PDFFont is a TTF file with CJK glyphs. Without it PDF text is transliterated.
	PDFFont string `yaml:"pdf_font,omitempty"`
}

// ServerConfig holds server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Debate: DebateConfig{
			MaxRounds:           engine.DefaultMaxRounds,
			ConfirmTimeout:      engine.DefaultConfirmTimeout,
			InterventionTimeout: engine.DefaultInterventionTimeout,
			FailurePlaceholder:  engine.DefaultFailurePlaceholder,
			Tokens:              engine.DefaultTokens(),
		},
		Participants: append([]core.Participant(nil), core.DefaultParticipants...),
		Providers: map[string]ProviderConfig{
			"openrouter": {
				Kind:        KindOpenRouter,
				BaseURL:     openrouter.DefaultBaseURL,
				APIKeyEnv:   "OPENROUTER_API_KEY",
				Timeout:     2 * time.Minute,
				MaxRetries:  provider.DefaultMaxRetries,
				MaxTokens:   openrouter.DefaultMaxTokens,
				Temperature: openrouter.DefaultTemperature,
				Enabled:     true,
			},
			"gemini": {
				Kind:         KindGemini,
				APIKeyEnv:    "GEMINI_API_KEY",
				DefaultModel: gemini.DefaultModel,
				Timeout:      2 * time.Minute,
				MaxRetries:   provider.DefaultMaxRetries,
				MaxTokens:    openrouter.DefaultMaxTokens,
				Temperature:  openrouter.DefaultTemperature,
				Enabled:      true,
			},
			"mock": {
				Kind:         KindMock,
				DefaultModel: "mock-v1",
				Timeout:      1 * time.Minute,
				Enabled:      true,
			},
		},
		Prompts: PromptsConfig{Set: prompt.Default().ID},
		Transcript: TranscriptConfig{
			MarkdownPath: transcript.DefaultMarkdownPath,
			Database:     storage.DefaultDBPath(),
		},
		Server: ServerConfig{Port: 8182},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom loads configuration from a specific path, then applies .env and
// process environment overrides.
func LoadFrom(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(cfg, Environment(".env"))
	return cfg, nil
}

// ReadFile reads the YAML file at path over the defaults. A missing file
// yields the defaults.
func ReadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Merge with defaults for any missing providers
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for name, defaultProvider := range Default().Providers {
		if _, exists := cfg.Providers[name]; !exists {
			cfg.Providers[name] = defaultProvider
		}
	}
	cfg.Debate.Tokens = cfg.Debate.Tokens.Merge(engine.DefaultTokens())
	cfg.Transcript.MarkdownPath = ExpandHome(cfg.Transcript.MarkdownPath)
	cfg.Transcript.Database = ExpandHome(cfg.Transcript.Database)
	cfg.Export.PDFFont = ExpandHome(cfg.Export.PDFFont)

	return cfg, nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigPath())
}

// SaveTo saves the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.YAML()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// YAML returns the configuration as YAML. API keys are never written.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Validate checks the debate limits and that every participant is bound to
// an enabled provider of a known kind.
func (c *Config) Validate() error {
	if c.Debate.MaxRounds < 1 {
		return fmt.Errorf("debate.max_rounds must be at least 1, got %d", c.Debate.MaxRounds)
	}
	for name, p := range c.Providers {
		if !knownKind(p.Kind) {
			return fmt.Errorf("provider %s: unknown kind %q", name, p.Kind)
		}
	}
	return c.ValidateParticipants(c.Participants)
}

// ValidateParticipants checks a roster against the configured providers.
func (c *Config) ValidateParticipants(participants []core.Participant) error {
	if err := core.ValidateRoster(core.RosterIDs(participants)); err != nil {
		return err
	}
	for _, p := range participants {
		provCfg, ok := c.Providers[p.Provider]
		if !ok {
			return fmt.Errorf("participant %s: provider %s not found in config", p.ID, p.Provider)
		}
		if !provCfg.Enabled {
			return fmt.Errorf("participant %s: provider %s is disabled", p.ID, p.Provider)
		}
	}
	return nil
}

// GetProvider returns the configuration for a provider.
func (c *Config) GetProvider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// ProviderNames returns the configured provider names, sorted.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToProviderConfig converts a ProviderConfig to provider.Config.
func (p ProviderConfig) ToProviderConfig(name string) provider.Config {
	return provider.Config{
		Name:         name,
		Command:      p.Command,
		Args:         p.Args,
		ModelFlag:    p.ModelFlag,
		BaseURL:      p.BaseURL,
		APIKey:       p.APIKey,
		DefaultModel: p.DefaultModel,
		Models:       p.Models,
		Timeout:      p.Timeout,
		MaxRetries:   p.MaxRetries,
		MaxTokens:    p.MaxTokens,
		Temperature:  p.Temperature,
	}
}

func knownKind(kind string) bool {
	switch kind {
	case KindOpenRouter, KindGemini, KindCLI, KindMock:
		return true
	}
	return false
}

// createProvider creates a provider instance based on the provider kind.
func createProvider(name string, p ProviderConfig) (provider.Provider, error) {
	cfg := p.ToProviderConfig(name)
	switch p.Kind {
	case KindOpenRouter:
		return openrouter.New(cfg), nil
	case KindGemini:
		return gemini.New(cfg), nil
	case KindCLI:
		return cli.New(cfg), nil
	case KindMock:
		return mock.New(cfg, nil), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// CreateProvider creates a provider instance from this configuration.
func (c *Config) CreateProvider(name string) (provider.Provider, error) {
	provCfg, ok := c.GetProvider(name)
	if !ok {
		return nil, fmt.Errorf("provider %s not found in config", name)
	}
	if !provCfg.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	return createProvider(name, provCfg)
}

// CreateRegistry creates a provider registry with every enabled provider.
func (c *Config) CreateRegistry() (*provider.Registry, error) {
	registry := provider.NewRegistry()

	for name, provCfg := range c.Providers {
		if !provCfg.Enabled {
			continue
		}

		p, err := createProvider(name, provCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", name, err)
		}
		registry.Register(p)
	}

	return registry, nil
}

// Bindings maps each participant id to its provider and model.
func Bindings(participants []core.Participant) map[string]provider.Binding {
	bindings := make(map[string]provider.Binding, len(participants))
	for _, p := range participants {
		bindings[p.ID] = provider.Binding{Provider: p.Provider, Model: p.Model}
	}
	return bindings
}

// NewRouter builds the model client for participants.
func (c *Config) NewRouter(participants []core.Participant) (*provider.Router, error) {
	if err := c.ValidateParticipants(participants); err != nil {
		return nil, err
	}
	registry, err := c.CreateRegistry()
	if err != nil {
		return nil, err
	}
	return provider.NewRouter(registry, Bindings(participants))
}

// PromptSet returns the selected prompt set with overrides applied.
func (c *Config) PromptSet() (prompt.Set, error) {
	id := c.Prompts.Set
	if id == "" {
		id = prompt.Default().ID
	}
	base := prompt.Get(id)
	if base == nil {
		return prompt.Set{}, fmt.Errorf("unknown prompt set %q (available: %v)", id, prompt.List())
	}
	return base.Merge(c.Prompts.Templates), nil
}

// EngineOptions returns engine options for participants.
func (c *Config) EngineOptions(participants []core.Participant) (engine.Options, error) {
	set, err := c.PromptSet()
	if err != nil {
		return engine.Options{}, err
	}
	renderer, err := prompt.NewRenderer(set)
	if err != nil {
		return engine.Options{}, fmt.Errorf("invalid prompts: %w", err)
	}
	return engine.Options{
		Roster:              core.RosterIDs(participants),
		MaxRounds:           c.Debate.MaxRounds,
		ConfirmTimeout:      c.Debate.ConfirmTimeout,
		InterventionTimeout: c.Debate.InterventionTimeout,
		FailurePlaceholder:  c.Debate.FailurePlaceholder,
		Prompts:             renderer,
		Tokens:              c.Debate.Tokens,
	}, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "deepdiscussion.yaml"
	}
	return filepath.Join(home, ".deepdiscussion", "config.yaml")
}

// GenerateExample generates an example configuration file.
func GenerateExample() string {
	return `# deepdiscussion configuration file
# Place this file at ~/.deepdiscussion/config.yaml

debate:
  max_rounds: 10                 # Rounds before the host's solution is taken as final
  confirm_timeout: 30s           # Wait for consensus confirmation (negative = accept at once)
  intervention_timeout: 2m       # Wait for human input between rounds (negative = never ask)
  failure_placeholder: 模型响应失败
  tokens:
    end: [结束, end, quit, exit]
    continue: [继续, continue]
    change_host: [换主持人, /host]
    affirmative: [是, yes, y]
    negative: [否, no, n]

# Ordered roster. Order breaks ties when picking the least challenged host.
participants:
  - id: deepseek/deepseek-r1:free
    provider: openrouter
    model: deepseek/deepseek-r1:free
  - id: qwen/qwq-32b:free
    provider: openrouter
    model: qwen/qwq-32b:free
  - id: google/gemini-2.0-flash-thinking-exp:free
    provider: openrouter
    model: google/gemini-2.0-flash-thinking-exp:free

providers:
  openrouter:
    kind: openrouter
    base_url: https://openrouter.ai/api/v1/chat/completions
    api_key_env: OPENROUTER_API_KEY
    timeout: 2m
    max_retries: 2               # Retry transient failures (total 3 attempts)
    max_tokens: 4000
    temperature: 0.7
    enabled: true

  gemini:
    kind: gemini
    api_key_env: GEMINI_API_KEY
    default_model: gemini-2.0-flash
    timeout: 2m
    enabled: true

  llm:
    kind: cli                    # Prompt is passed as the last argument, stdout is the answer
    command: llm
    model_flag: -m
    timeout: 5m
    enabled: false

  mock:
    kind: mock
    enabled: true

prompts:
  set: zh                        # zh or en
  templates: {}                  # Override single templates, e.g. host: "..."

transcript:
  markdown_path: deep_discussion.md
  database: ~/.deepdiscussion/deepdiscussion.db

export:
  pdf_font: ""                   # TTF with CJK glyphs for PDF export

server:
  port: 8182

log:
  level: info                    # debug, info, warn, error
  format: text                   # text or json
`
}
