package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestDefaultCatalogue(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 5000 {
		t.Fatalf("default port = %d", cfg.Server.Port)
	}
	if cfg.IAM.RefreshInterval.Std() != 11*time.Hour {
		t.Fatalf("default refresh interval = %s", cfg.IAM.RefreshInterval.Std())
	}
	if got := cfg.Providers.YandexGPT.Models[0]; got != "yandexgpt-lite" {
		t.Fatalf("yandexgpt default model = %q", got)
	}
	if !cfg.Providers.GigaChat.InsecureSkipVerify {
		t.Fatal("gigachat should default to skipping TLS verification")
	}
	if cfg.Providers.Claude.KeyEnv != "ANTHROPIC_API_KEY" {
		t.Fatalf("claude key env = %q", cfg.Providers.Claude.KeyEnv)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Fatalf("expected defaults, got port %d", cfg.Server.Port)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 8080
  query_timeout: 30s
providers:
  openai:
    models: ["gpt-4o"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("port override not applied: %d", cfg.Server.Port)
	}
	if cfg.Server.QueryTimeout.Std() != 30*time.Second {
		t.Fatalf("timeout override not applied: %s", cfg.Server.QueryTimeout.Std())
	}
	if len(cfg.Providers.OpenAI.Models) != 1 || cfg.Providers.OpenAI.Models[0] != "gpt-4o" {
		t.Fatalf("model override not applied: %v", cfg.Providers.OpenAI.Models)
	}
	// Untouched sections keep their defaults.
	if cfg.Providers.Claude.Endpoint == "" {
		t.Fatal("claude defaults lost during overlay")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad timeout", func(c *Config) { c.Server.QueryTimeout = 0 }},
		{"missing key file", func(c *Config) { c.IAM.KeyFile = " " }},
		{"missing token endpoint", func(c *Config) { c.IAM.TokenEndpoint = "" }},
		{"no models", func(c *Config) { c.Providers.OpenAI.Models = nil }},
		{"blank model", func(c *Config) { c.Providers.Claude.Models = []string{" "} }},
		{"missing endpoint", func(c *Config) { c.Providers.YandexGPT.Endpoint = "" }},
		{"missing key env", func(c *Config) { c.Providers.Kandinsky.KeyEnv = "" }},
		{"negative rpm", func(c *Config) { c.Providers.GigaChat.RPM = -1 }},
		{"missing oauth endpoint", func(c *Config) { c.Providers.GigaChat.OAuthEndpoint = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation to fail")
			}
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("iam:\n  refresh_interval: not-a-duration\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a duration parse error")
	}
}
