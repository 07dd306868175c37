package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		DefaultProvider: "local",
		Providers: map[string]ProviderConfig{
			"local": {Endpoint: "http://localhost:11434", Model: "llama3", Temperature: 0.5},
		},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsUnknownDefaultProvider(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultProvider = "missing"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown default_provider")
	}
}

func TestValidateAgentFollowUpMode(t *testing.T) {
	tests := []struct {
		mode    string
		wantErr bool
	}{
		{"", false},
		{"interrupt", false},
		{"queue", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		cfg := validConfig()
		cfg.Agent.FollowUpMode = tt.mode
		err := cfg.Validate()
		if tt.wantErr && err == nil {
			t.Errorf("follow_up_mode=%q: expected an error, got nil", tt.mode)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("follow_up_mode=%q: unexpected error: %v", tt.mode, err)
		}
	}
}

func TestValidateAgentModelsEntries(t *testing.T) {
	tests := []struct {
		entry   string
		wantErr bool
	}{
		{"local/llama3", false},
		{"local/llama3:high", false},
		{"llama3", true},
		{"", true},
	}
	for _, tt := range tests {
		cfg := validConfig()
		cfg.Agent.Models = []string{tt.entry}
		err := cfg.Validate()
		if tt.wantErr && err == nil {
			t.Errorf("models entry %q: expected an error, got nil", tt.entry)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("models entry %q: unexpected error: %v", tt.entry, err)
		}
	}
}

func TestContextWindowOrDefault(t *testing.T) {
	var a AgentConfig
	if got := a.ContextWindowOrDefault(); got != 128000 {
		t.Fatalf("ContextWindowOrDefault() = %d, want 128000", got)
	}
	a.ContextWindow = 4096
	if got := a.ContextWindowOrDefault(); got != 4096 {
		t.Fatalf("ContextWindowOrDefault() = %d, want 4096", got)
	}
}

func TestCompactionThresholdOrDefault(t *testing.T) {
	var a AgentConfig
	if got := a.CompactionThresholdOrDefault(); got != 0.85 {
		t.Fatalf("CompactionThresholdOrDefault() = %v, want 0.85", got)
	}
	a.CompactionThreshold = 0.5
	if got := a.CompactionThresholdOrDefault(); got != 0.5 {
		t.Fatalf("CompactionThresholdOrDefault() = %v, want 0.5", got)
	}
}

func TestAgentDirHonorsEnvOverride(t *testing.T) {
	t.Setenv("PI_CODING_AGENT_DIR", "/tmp/custom-agent-dir")
	dir, err := AgentDir()
	if err != nil {
		t.Fatalf("AgentDir: %v", err)
	}
	if dir != "/tmp/custom-agent-dir" {
		t.Fatalf("AgentDir() = %q, want /tmp/custom-agent-dir", dir)
	}
}

func TestAgentDirDefaultsUnderHome(t *testing.T) {
	t.Setenv("PI_CODING_AGENT_DIR", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err := AgentDir()
	if err != nil {
		t.Fatalf("AgentDir: %v", err)
	}
	want := filepath.Join(home, ".pi", "agent")
	if dir != want {
		t.Fatalf("AgentDir() = %q, want %q", dir, want)
	}
}

func TestLoadAppliesEnvOverrideAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
default_provider = "local"

[providers.local]
endpoint = "http://localhost:11434"
model = "llama3"
temperature = 0.5
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("SYMB_AGENT_FOLLOW_UP_MODE", "interrupt")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.FollowUpMode != "interrupt" {
		t.Fatalf("Agent.FollowUpMode = %q, want %q", cfg.Agent.FollowUpMode, "interrupt")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
default_provider = "missing"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a config with no providers and an unknown default_provider")
	}
}
