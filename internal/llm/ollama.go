package llm

import (
	"context"
	"encoding/json"

	"github.com/simonyos/Z-NOTE/internal/stream"
)

// DefaultOllamaURL is where a local Ollama server listens by default.
const DefaultOllamaURL = "http://localhost:11434"

// Ollama implements Provider against a local Ollama server. It needs no
// credential; the endpoint comes from ProviderConfig.BaseURL.
type Ollama struct {
	cfg     ProviderConfig
	baseURL string
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// NewOllama creates a new Ollama provider
func NewOllama(cfg ProviderConfig) *Ollama {
	return &Ollama{cfg: cfg, baseURL: cfg.baseURL(DefaultOllamaURL)}
}

// ID implements Provider
func (o *Ollama) ID() ProviderID {
	return ProviderOllama
}

// StreamChat calls /api/chat and streams the newline-delimited response
func (o *Ollama) StreamChat(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	converted := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, openAIMessage(msg))
	}

	reqBody := ollamaRequest{
		Model:    modelOrDefault(ProviderOllama, opts.Model),
		Messages: converted,
		Stream:   true,
	}
	if opts.Temperature != nil || opts.MaxTokens > 0 {
		reqBody.Options = &ollamaOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens}
	}

	resp, err := PostJSON(ctx, o.cfg.client(), ProviderOllama, o.baseURL+"/api/chat", reqBody, nil)
	if err != nil {
		return nil, err
	}
	return streamTokens(ctx, ProviderOllama, o.cfg.logger(), resp, stream.LineDelimited, ollamaToken), nil
}

// ollamaToken reads message.content
func ollamaToken(ev json.RawMessage) (string, bool) {
	var chunk ollamaChunk
	if err := json.Unmarshal(ev, &chunk); err != nil {
		return "", false
	}
	return chunk.Message.Content, chunk.Message.Content != ""
}
