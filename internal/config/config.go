// Package config loads and stores znote settings and resolves provider
// credentials. Values are looked up in a fixed order: explicit flag, config
// file, environment variable, built-in default.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/simonyos/Z-NOTE/internal/llm"
)

// Config holds all application configuration
type Config struct {
	// API Keys
	OpenAIKey    string `json:"openai_api_key,omitempty"`
	AnthropicKey string `json:"anthropic_api_key,omitempty"`
	CustomKey    string `json:"custom_api_key,omitempty"`

	// Endpoints
	CustomURL string `json:"custom_url,omitempty"`
	OllamaURL string `json:"ollama_url,omitempty"`
	NATSURL   string `json:"nats_url,omitempty"`

	// Chat defaults
	DefaultProvider string   `json:"default_provider,omitempty"`
	DefaultModel    string   `json:"default_model,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`

	// Embeddings
	EmbedBackend string `json:"embed_backend,omitempty"`
	EmbedModel   string `json:"embed_model,omitempty"`
	EmbedURL     string `json:"embed_url,omitempty"`

	// Images
	ImageModel string `json:"image_model,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

// DefaultProvider is used when neither a flag nor the config names one.
const DefaultProvider = llm.ProviderOpenAI

var (
	configDir  string
	configFile string
	current    *Config
)

func init() {
	// Use ~/.config/znote for config
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	configDir = filepath.Join(home, ".config", "znote")
	configFile = filepath.Join(configDir, "config.json")
}

// Load reads the config from disk
func Load() (*Config, error) {
	if current != nil {
		return current, nil
	}

	current = &Config{}

	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return current, nil // Return default config
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, current); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return current, nil
}

// Save writes the config to disk
func Save(cfg *Config) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	current = cfg
	return nil
}

// Get returns the current config, loading if necessary
func Get() *Config {
	if current == nil {
		if _, err := Load(); err != nil {
			current = &Config{}
		}
	}
	return current
}

// Set updates a config value by key
func Set(key, value string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	switch key {
	case "openai_api_key", "openai":
		cfg.OpenAIKey = value
	case "anthropic_api_key", "anthropic":
		cfg.AnthropicKey = value
	case "custom_api_key", "custom":
		cfg.CustomKey = value
	case "custom_url":
		cfg.CustomURL = value
	case "ollama_url", "ollama":
		cfg.OllamaURL = value
	case "nats_url", "nats":
		cfg.NATSURL = value
	case "default_provider", "provider":
		id, err := llm.ParseProviderID(value)
		if err != nil {
			return err
		}
		cfg.DefaultProvider = string(id)
	case "default_model", "model":
		cfg.DefaultModel = value
	case "temperature":
		t, err := strconv.ParseFloat(value, 64)
		if err != nil || t < 0 || t > 2 {
			return fmt.Errorf("temperature must be a number between 0 and 2: %q", value)
		}
		cfg.Temperature = &t
	case "embed_backend":
		if value != "ollama" && value != "openai" {
			return fmt.Errorf("embed_backend must be ollama or openai: %q", value)
		}
		cfg.EmbedBackend = value
	case "embed_model":
		cfg.EmbedModel = value
	case "embed_url":
		cfg.EmbedURL = value
	case "image_model":
		cfg.ImageModel = value
	case "image_url":
		cfg.ImageURL = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	return Save(cfg)
}

// Delete removes a config value
func Delete(key string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	switch key {
	case "openai_api_key", "openai":
		cfg.OpenAIKey = ""
	case "anthropic_api_key", "anthropic":
		cfg.AnthropicKey = ""
	case "custom_api_key", "custom":
		cfg.CustomKey = ""
	case "custom_url":
		cfg.CustomURL = ""
	case "ollama_url", "ollama":
		cfg.OllamaURL = ""
	case "nats_url", "nats":
		cfg.NATSURL = ""
	case "default_provider", "provider":
		cfg.DefaultProvider = ""
	case "default_model", "model":
		cfg.DefaultModel = ""
	case "temperature":
		cfg.Temperature = nil
	case "embed_backend":
		cfg.EmbedBackend = ""
	case "embed_model":
		cfg.EmbedModel = ""
	case "embed_url":
		cfg.EmbedURL = ""
	case "image_model":
		cfg.ImageModel = ""
	case "image_url":
		cfg.ImageURL = ""
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	return Save(cfg)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetOpenAIKey returns the OpenAI API key (config or env)
func GetOpenAIKey() string {
	return firstNonEmpty(Get().OpenAIKey, os.Getenv("OPENAI_API_KEY"))
}

// GetAnthropicKey returns the Anthropic API key (config or env)
func GetAnthropicKey() string {
	return firstNonEmpty(Get().AnthropicKey, os.Getenv("ANTHROPIC_API_KEY"))
}

// GetCustomKey returns the key for the OpenAI-compatible endpoint (config or env)
func GetCustomKey() string {
	return firstNonEmpty(Get().CustomKey, os.Getenv("ZNOTE_CUSTOM_API_KEY"))
}

// GetCustomURL returns the base URL for the OpenAI-compatible endpoint
func GetCustomURL() string {
	return firstNonEmpty(Get().CustomURL, os.Getenv("ZNOTE_CUSTOM_URL"), llm.DefaultCompatibleURL)
}

// GetOllamaURL returns the local Ollama endpoint
func GetOllamaURL() string {
	return firstNonEmpty(Get().OllamaURL, os.Getenv("OLLAMA_HOST"), llm.DefaultOllamaURL)
}

// GetNATSURL returns the NATS server used by the embedding worker
func GetNATSURL() string {
	return firstNonEmpty(Get().NATSURL, os.Getenv("NATS_URL"), nats.DefaultURL)
}

// ProviderConfig returns the credential and endpoint for id.
func ProviderConfig(id llm.ProviderID) llm.ProviderConfig {
	switch id {
	case llm.ProviderOpenAI:
		return llm.ProviderConfig{APIKey: GetOpenAIKey()}
	case llm.ProviderAnthropic:
		return llm.ProviderConfig{APIKey: GetAnthropicKey()}
	case llm.ProviderOllama:
		return llm.ProviderConfig{BaseURL: GetOllamaURL()}
	case llm.ProviderCustom:
		return llm.ProviderConfig{APIKey: GetCustomKey(), BaseURL: GetCustomURL()}
	default:
		return llm.ProviderConfig{}
	}
}

// Resolver picks the active provider for a chat exchange. Provider
// overrides the configured default when set.
type Resolver struct {
	Provider string
}

// Resolve returns the active provider and its configuration. Environment
// variables are consulted on every call.
func (r Resolver) Resolve(_ context.Context) (llm.ProviderID, llm.ProviderConfig, error) {
	name := firstNonEmpty(r.Provider, Get().DefaultProvider, string(DefaultProvider))
	id, err := llm.ParseProviderID(name)
	if err != nil {
		return "", llm.ProviderConfig{}, err
	}
	return id, ProviderConfig(id), nil
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return configFile
}

// ListKeys returns configured keys (masked for display)
func ListKeys() map[string]string {
	cfg := Get()
	result := make(map[string]string)

	secrets := []struct {
		key, value, env string
	}{
		{"openai_api_key", cfg.OpenAIKey, "OPENAI_API_KEY"},
		{"anthropic_api_key", cfg.AnthropicKey, "ANTHROPIC_API_KEY"},
		{"custom_api_key", cfg.CustomKey, "ZNOTE_CUSTOM_API_KEY"},
	}
	for _, s := range secrets {
		if s.value != "" {
			result[s.key] = maskKey(s.value)
		} else if v := os.Getenv(s.env); v != "" {
			result[s.key] = maskKey(v) + " (env)"
		}
	}

	plain := map[string]string{
		"custom_url":       cfg.CustomURL,
		"ollama_url":       cfg.OllamaURL,
		"nats_url":         cfg.NATSURL,
		"default_provider": cfg.DefaultProvider,
		"default_model":    cfg.DefaultModel,
		"embed_backend":    cfg.EmbedBackend,
		"embed_model":      cfg.EmbedModel,
		"embed_url":        cfg.EmbedURL,
		"image_model":      cfg.ImageModel,
		"image_url":        cfg.ImageURL,
	}
	for k, v := range plain {
		if v != "" {
			result[k] = v
		}
	}
	if cfg.Temperature != nil {
		result["temperature"] = strconv.FormatFloat(*cfg.Temperature, 'f', -1, 64)
	}

	return result
}

// SortedKeys returns the keys of m in display order
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// maskKey shows only first 4 and last 4 characters
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// normalizeKey accepts the dashed spelling used on the command line.
func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "-", "_")
}

// SetKey is Set with key normalization for CLI input.
func SetKey(key, value string) error {
	return Set(normalizeKey(key), value)
}

// DeleteKey is Delete with key normalization for CLI input.
func DeleteKey(key string) error {
	return Delete(normalizeKey(key))
}

// Embedding describes the backend the embedding worker loads.
type Embedding struct {
	Backend string
	Model   string
	BaseURL string
	APIKey  string
}

// GetEmbedding resolves the embedding backend. Ollama is the default so
// embeddings work offline.
func GetEmbedding() Embedding {
	cfg := Get()
	e := Embedding{
		Backend: firstNonEmpty(cfg.EmbedBackend, "ollama"),
		Model:   cfg.EmbedModel,
		BaseURL: cfg.EmbedURL,
	}
	switch e.Backend {
	case "openai":
		e.Model = firstNonEmpty(e.Model, "text-embedding-3-small")
		e.BaseURL = firstNonEmpty(e.BaseURL, "https://api.openai.com/v1")
		e.APIKey = GetOpenAIKey()
	default:
		e.Model = firstNonEmpty(e.Model, "nomic-embed-text")
		e.BaseURL = firstNonEmpty(e.BaseURL, GetOllamaURL())
	}
	return e
}

// Image describes the image generation endpoint.
type Image struct {
	Model   string
	BaseURL string
	APIKey  string
}

// GetImage resolves the image endpoint, which shares the OpenAI key.
func GetImage() Image {
	cfg := Get()
	return Image{
		Model:   firstNonEmpty(cfg.ImageModel, "dall-e-3"),
		BaseURL: firstNonEmpty(cfg.ImageURL, "https://api.openai.com/v1"),
		APIKey:  GetOpenAIKey(),
	}
}
