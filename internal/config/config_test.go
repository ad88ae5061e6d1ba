package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/simonyos/Z-NOTE/internal/llm"
)

// withTempConfig points the package at an empty config in a temp dir.
func withTempConfig(t *testing.T) {
	t.Helper()
	tmpDir := t.TempDir()

	oldConfigDir := configDir
	oldConfigFile := configFile
	configDir = tmpDir
	configFile = filepath.Join(tmpDir, "config.json")
	current = nil
	t.Cleanup(func() {
		configDir = oldConfigDir
		configFile = oldConfigFile
		current = nil
	})

	for _, env := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "ZNOTE_CUSTOM_API_KEY", "ZNOTE_CUSTOM_URL", "OLLAMA_HOST", "NATS_URL"} {
		t.Setenv(env, "")
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{name: "short key", key: "abc", expected: "****"},
		{name: "exactly 8 chars", key: "12345678", expected: "****"},
		{name: "long key", key: "sk-1234567890abcdef", expected: "sk-1...cdef"},
		{name: "empty key", key: "", expected: "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maskKey(tt.key)
			if result != tt.expected {
				t.Errorf("maskKey(%q) = %q, want %q", tt.key, result, tt.expected)
			}
		})
	}
}

func TestConfigLoadSave(t *testing.T) {
	withTempConfig(t)

	// Test loading non-existent config (should return defaults)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultProvider != "" {
		t.Errorf("default provider = %q, want empty", cfg.DefaultProvider)
	}

	cfg.OpenAIKey = "test-key-12345"
	cfg.DefaultModel = "gpt-4o"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Reset cache and reload
	current = nil
	cfg2, err := Load()
	if err != nil {
		t.Fatalf("Load() after save error = %v", err)
	}
	if cfg2.OpenAIKey != "test-key-12345" {
		t.Errorf("OpenAIKey = %q, want %q", cfg2.OpenAIKey, "test-key-12345")
	}
	if cfg2.DefaultModel != "gpt-4o" {
		t.Errorf("DefaultModel = %q, want %q", cfg2.DefaultModel, "gpt-4o")
	}
}

func TestConfigSet(t *testing.T) {
	withTempConfig(t)

	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{
			key:   "openai",
			value: "sk-test123",
			check: func(c *Config) bool { return c.OpenAIKey == "sk-test123" },
		},
		{
			key:   "provider",
			value: "Anthropic",
			check: func(c *Config) bool { return c.DefaultProvider == "anthropic" },
		},
		{
			key:   "model",
			value: "gpt-4-turbo",
			check: func(c *Config) bool { return c.DefaultModel == "gpt-4-turbo" },
		},
		{
			key:   "temperature",
			value: "0.7",
			check: func(c *Config) bool { return c.Temperature != nil && *c.Temperature == 0.7 },
		},
		{
			key:   "ollama_url",
			value: "http://gpu-box:11434",
			check: func(c *Config) bool { return c.OllamaURL == "http://gpu-box:11434" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if err := Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%q, %q) error = %v", tt.key, tt.value, err)
			}

			cfg := Get()
			if !tt.check(cfg) {
				t.Errorf("Set(%q, %q) did not update config correctly", tt.key, tt.value)
			}
		})
	}

	invalid := []struct{ key, value string }{
		{"unknown_key", "value"},
		{"provider", "gemini-cli"},
		{"temperature", "hot"},
		{"temperature", "3"},
		{"embed_backend", "tfjs"},
	}
	for _, tt := range invalid {
		if err := Set(tt.key, tt.value); err == nil {
			t.Errorf("Set(%q, %q) should return error", tt.key, tt.value)
		}
	}
}

func TestSetKeyNormalizesDashes(t *testing.T) {
	withTempConfig(t)

	if err := SetKey("Custom-URL", "http://localhost:4000"); err != nil {
		t.Fatalf("SetKey() error = %v", err)
	}
	if Get().CustomURL != "http://localhost:4000" {
		t.Errorf("CustomURL = %q", Get().CustomURL)
	}
	if err := DeleteKey("custom-url"); err != nil {
		t.Fatalf("DeleteKey() error = %v", err)
	}
	if Get().CustomURL != "" {
		t.Errorf("CustomURL = %q after delete, want empty", Get().CustomURL)
	}
}

func TestConfigDelete(t *testing.T) {
	withTempConfig(t)

	if err := Set("openai", "sk-test123"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := Delete("openai"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	cfg := Get()
	if cfg.OpenAIKey != "" {
		t.Errorf("OpenAIKey = %q after delete, want empty", cfg.OpenAIKey)
	}

	if err := Delete("unknown_key"); err == nil {
		t.Error("Delete() with unknown key should return error")
	}
}

func TestGetOpenAIKeyFromEnv(t *testing.T) {
	withTempConfig(t)
	t.Setenv("OPENAI_API_KEY", "env-test-key")

	// Should return env var when config is empty
	if key := GetOpenAIKey(); key != "env-test-key" {
		t.Errorf("GetOpenAIKey() = %q, want %q", key, "env-test-key")
	}

	// Set config value - should take precedence
	if err := Set("openai", "config-test-key"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if key := GetOpenAIKey(); key != "config-test-key" {
		t.Errorf("GetOpenAIKey() with config = %q, want %q", key, "config-test-key")
	}
}

func TestResolver(t *testing.T) {
	withTempConfig(t)

	id, cfg, err := Resolver{}.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != DefaultProvider {
		t.Errorf("Resolve() id = %q, want %q", id, DefaultProvider)
	}
	if cfg.APIKey != "" {
		t.Errorf("Resolve() APIKey = %q, want empty", cfg.APIKey)
	}

	if err := Set("provider", "custom"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	t.Setenv("ZNOTE_CUSTOM_API_KEY", "ck-env")
	id, cfg, err = Resolver{}.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != llm.ProviderCustom || cfg.APIKey != "ck-env" || cfg.BaseURL != llm.DefaultCompatibleURL {
		t.Errorf("Resolve() = %q %+v", id, cfg)
	}

	// flag beats config
	id, cfg, err = Resolver{Provider: "ollama"}.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != llm.ProviderOllama || cfg.BaseURL != llm.DefaultOllamaURL {
		t.Errorf("Resolve() = %q %+v", id, cfg)
	}

	_, _, err = Resolver{Provider: "bard"}.Resolve(context.Background())
	if !errors.Is(err, llm.ErrUnknownProvider) {
		t.Errorf("Resolve() unknown provider error = %v", err)
	}
}

func TestListKeys(t *testing.T) {
	withTempConfig(t)
	t.Setenv("ANTHROPIC_API_KEY", "ak-1234567890")

	if err := Set("openai", "sk-1234567890abcdef"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := Set("temperature", "0.5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	keys := ListKeys()
	want := map[string]string{
		"openai_api_key":    "sk-1...cdef",
		"anthropic_api_key": "ak-1...7890 (env)",
		"temperature":       "0.5",
	}
	for k, v := range want {
		if keys[k] != v {
			t.Errorf("ListKeys()[%q] = %q, want %q", k, keys[k], v)
		}
	}
	if _, ok := keys["custom_api_key"]; ok {
		t.Error("ListKeys() should omit unset keys")
	}
	if sorted := SortedKeys(keys); sorted[0] != "anthropic_api_key" {
		t.Errorf("SortedKeys() = %v", sorted)
	}
}

func TestGetEmbedding(t *testing.T) {
	withTempConfig(t)

	e := GetEmbedding()
	if e.Backend != "ollama" || e.Model != "nomic-embed-text" || e.BaseURL != llm.DefaultOllamaURL {
		t.Errorf("GetEmbedding() default = %+v", e)
	}

	if err := Set("embed_backend", "openai"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-env")
	e = GetEmbedding()
	if e.Backend != "openai" || e.APIKey != "sk-env" || e.Model != "text-embedding-3-small" {
		t.Errorf("GetEmbedding() openai = %+v", e)
	}
}

func TestConfigPath(t *testing.T) {
	if ConfigPath() == "" {
		t.Error("ConfigPath() returned empty string")
	}
}
