// Package llm streams chat completions from OpenAI, Anthropic, Ollama and
// OpenAI-compatible endpoints behind a single Provider interface.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/logging"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Options control a single generation
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// StreamChunk is one token, or the error that ended the stream
type StreamChunk struct {
	Text string
	Err  error
}

// Provider is the interface for LLM backends.
//
// StreamChat fails before any token when the provider is not configured or
// answers with a non-success status. Otherwise tokens arrive on the channel
// in order and the channel is closed when the stream ends. A consumer that
// stops reading early must cancel ctx so the body is released.
type Provider interface {
	ID() ProviderID
	StreamChat(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error)
}

// ProviderID names one of the supported backends
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderOllama    ProviderID = "ollama"
	ProviderCustom    ProviderID = "custom"
)

// IDs lists the known providers.
func IDs() []ProviderID {
	return []ProviderID{ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderCustom}
}

// ParseProviderID normalizes s and checks it is known.
func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range IDs() {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// RequiresCredential is false only for the local Ollama backend.
func (id ProviderID) RequiresCredential() bool {
	return id != ProviderOllama
}

// ProviderConfig is supplied per call and never stored by this package.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	// Logger receives stream diagnostics at debug level; nil discards them.
	Logger *zap.Logger
}

func (c ProviderConfig) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	// No client timeout: streams are bounded by the caller's context.
	return &http.Client{}
}

func (c ProviderConfig) logger() *zap.Logger {
	return logging.OrNop(c.Logger)
}

func (c ProviderConfig) baseURL(fallback string) string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return fallback
}

// New returns a freshly constructed adapter for id.
func New(id ProviderID, cfg ProviderConfig) (Provider, error) {
	switch id {
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case ProviderOllama:
		return NewOllama(cfg), nil
	case ProviderCustom:
		return NewCompatible(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
}

// DefaultModel returns the model used when Options.Model is empty.
func DefaultModel(id ProviderID) string {
	switch id {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOllama:
		return "llama3.2"
	case ProviderCustom:
		return "openai/gpt-4o-mini"
	default:
		return ""
	}
}

func modelOrDefault(id ProviderID, model string) string {
	if model != "" {
		return model
	}
	return DefaultModel(id)
}

// MissingCredential is the configuration error returned when id has no API key.
func MissingCredential(id ProviderID) error {
	return fmt.Errorf("%w: %s API key not configured. Use 'znote config set %s <key>'", ErrConfiguration, id, id)
}
