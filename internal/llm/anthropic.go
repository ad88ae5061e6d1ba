package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/simonyos/Z-NOTE/internal/stream"
)

const (
	defaultAnthropicURL       = "https://api.anthropic.com/v1"
	anthropicVersion          = "2023-06-01"
	defaultAnthropicMaxTokens = 4096
)

// Anthropic implements Provider using the Claude Messages API
type Anthropic struct {
	cfg     ProviderConfig
	baseURL string
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Streaming event types
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
}

// NewAnthropic creates a new Anthropic provider
func NewAnthropic(cfg ProviderConfig) *Anthropic {
	return &Anthropic{cfg: cfg, baseURL: cfg.baseURL(defaultAnthropicURL)}
}

// ID implements Provider
func (a *Anthropic) ID() ProviderID {
	return ProviderAnthropic
}

// splitSystem lifts system messages out of the list; the Messages API takes
// the system instruction as a top-level field.
func splitSystem(messages []Message) (string, []anthropicMessage) {
	var system []string
	converted := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == "system" {
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
			continue
		}
		converted = append(converted, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	return strings.Join(system, "\n\n"), converted
}

// StreamChat calls the Anthropic API and streams the response
func (a *Anthropic) StreamChat(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	if a.cfg.APIKey == "" {
		return nil, MissingCredential(ProviderAnthropic)
	}

	system, converted := splitSystem(messages)
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	reqBody := anthropicRequest{
		Model:       modelOrDefault(ProviderAnthropic, opts.Model),
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    converted,
		Stream:      true,
		Temperature: opts.Temperature,
	}

	resp, err := PostJSON(ctx, a.cfg.client(), ProviderAnthropic, a.baseURL+"/messages", reqBody,
		map[string]string{
			"x-api-key":         a.cfg.APIKey,
			"anthropic-version": anthropicVersion,
			"Accept":            "text/event-stream",
		})
	if err != nil {
		return nil, err
	}
	return streamTokens(ctx, ProviderAnthropic, a.cfg.logger(), resp, stream.EventStream, anthropicToken), nil
}

// anthropicToken reads delta.text from content_block_delta events
func anthropicToken(ev json.RawMessage) (string, bool) {
	var event anthropicStreamEvent
	if err := json.Unmarshal(ev, &event); err != nil {
		return "", false
	}
	if event.Type != "content_block_delta" || event.Delta == nil {
		return "", false
	}
	return event.Delta.Text, event.Delta.Text != ""
}
