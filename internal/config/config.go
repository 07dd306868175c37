// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	Agent           AgentConfig               `toml:"agent"`
}

// AgentConfig holds the settings a CreateAgentSessionOptions build (see
// internal/config/session.go) needs beyond provider connectivity: the
// scoped model cycling list and the turn-loop policy knobs spec §4.7's
// set_auto_compaction/set_auto_retry/set_follow_up_mode commands toggle at
// runtime but which need a starting value from disk.
type AgentConfig struct {
	// Models is the scoped cycling list cycle_model/cycle_thinking_level
	// walk through, each entry "provider/model[:thinkingLevel]". Falls back
	// to a single entry built from DefaultProvider when empty.
	Models []string `toml:"models"`

	TargetAPI           string  `toml:"target_api"`
	ContextWindow       int     `toml:"context_window"`
	AutoCompaction      bool    `toml:"auto_compaction"`
	CompactionThreshold float64 `toml:"compaction_threshold"`
	AutoRetry           bool    `toml:"auto_retry"`
	FollowUpMode        string  `toml:"follow_up_mode"`
}

// ContextWindowOrDefault returns the configured context window token count,
// or 128000 if unset — a conservative default shared by most chat models
// this codebase's providers target.
func (a AgentConfig) ContextWindowOrDefault() int {
	if a.ContextWindow <= 0 {
		return 128000
	}
	return a.ContextWindow
}

// CompactionThresholdOrDefault returns the configured auto-compaction
// trigger fraction, or 0.85 if unset.
func (a AgentConfig) CompactionThresholdOrDefault() float64 {
	if a.CompactionThreshold <= 0 {
		return 0.85
	}
	return a.CompactionThreshold
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
	}

	// Config file is required
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// File must exist
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Load from file
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	// Validate default provider if specified
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	errs = append(errs, validateAgentConfig(c.Agent)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateAgentConfig(cfg AgentConfig) []error {
	var errs []error
	switch cfg.FollowUpMode {
	case "", "interrupt", "queue":
	default:
		errs = append(errs, fmt.Errorf("agent.follow_up_mode=%q must be \"interrupt\" or \"queue\"", cfg.FollowUpMode))
	}
	for _, entry := range cfg.Models {
		spec := strings.SplitN(entry, ":", 2)[0]
		if !strings.Contains(spec, "/") {
			errs = append(errs, fmt.Errorf("agent.models entry %q must be \"provider/model\" or \"provider/model:thinkingLevel\"", entry))
		}
	}
	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"SYMB_AGENT_FOLLOW_UP_MODE", func(v string) {
			if v != "" {
				cfg.Agent.FollowUpMode = v
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// DataDir returns the path to the Symb data directory (~/.config/symb).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "symb"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}

// AgentDir returns the root directory a session's store, auth, and
// settings live under: $PI_CODING_AGENT_DIR if set, else $HOME/.pi/agent.
// Distinct from DataDir, which anchors this codebase's own config.toml/
// credentials.json regardless of where a session is stored.
func AgentDir() (string, error) {
	if dir := os.Getenv("PI_CODING_AGENT_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pi", "agent"), nil
}

// EnsureAgentDir creates AgentDir's directory if it doesn't exist.
func EnsureAgentDir() (string, error) {
	dir, err := AgentDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
