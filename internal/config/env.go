package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file and returns its key-value pairs.
func LoadEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return env, nil
}

// Environment returns the variables of the .env file at path (if any)
// overlaid with the process environment.
func Environment(path string) map[string]string {
	env, err := LoadEnv(path)
	if err != nil {
		env = make(map[string]string)
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// ApplyEnvOverrides updates the configuration based on environment variables.
func ApplyEnvOverrides(cfg *Config, env map[string]string) {
	// Server
	if val, ok := env["SERVER_PORT"]; ok {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}

	if val, ok := env["LOG_LEVEL"]; ok && val != "" {
		cfg.Log.Level = val
	}

	// Debate
	if val, ok := env["DEEP_MAX_ROUNDS"]; ok {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Debate.MaxRounds = n
		}
	}
	if d, ok := parseTimeout(env["DEEP_CONFIRM_TIMEOUT"]); ok {
		cfg.Debate.ConfirmTimeout = d
	}
	if d, ok := parseTimeout(env["DEEP_INTERVENTION_TIMEOUT"]); ok {
		cfg.Debate.InterventionTimeout = d
	}

	// Transcript
	if val, ok := env["DEEP_MARKDOWN_PATH"]; ok && val != "" {
		cfg.Transcript.MarkdownPath = ExpandHome(val)
	}
	if val, ok := env["DEEP_DB_PATH"]; ok && val != "" {
		cfg.Transcript.Database = ExpandHome(val)
	}

	// Providers
	for name, provider := range cfg.Providers {
		envKey := fmt.Sprintf("PROVIDER_%s_ENABLED", envName(name))
		if val, ok := env[envKey]; ok {
			if boolVal, err := strconv.ParseBool(val); err == nil {
				provider.Enabled = boolVal
			}
		}
		if provider.APIKeyEnv != "" {
			if val := env[provider.APIKeyEnv]; val != "" {
				provider.APIKey = val
			}
		}
		cfg.Providers[name] = provider
	}
}

// parseTimeout accepts whole seconds ("30") or a Go duration ("30s").
func parseTimeout(val string) (time.Duration, bool) {
	if val == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(val); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d, true
	}
	return 0, false
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
