package llm

import (
	"context"
	"encoding/json"

	"github.com/simonyos/Z-NOTE/internal/stream"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAI implements Provider using the OpenAI chat completions API
type OpenAI struct {
	cfg     ProviderConfig
	baseURL string
}

// OpenAI API request/response types, shared with Compatible
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAI creates a new OpenAI provider
func NewOpenAI(cfg ProviderConfig) *OpenAI {
	return &OpenAI{cfg: cfg, baseURL: cfg.baseURL(defaultOpenAIURL)}
}

// ID implements Provider
func (o *OpenAI) ID() ProviderID {
	return ProviderOpenAI
}

// StreamChat calls the OpenAI API and streams the response
func (o *OpenAI) StreamChat(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	if o.cfg.APIKey == "" {
		return nil, MissingCredential(ProviderOpenAI)
	}

	resp, err := PostJSON(ctx, o.cfg.client(), ProviderOpenAI, o.baseURL+"/chat/completions",
		newOpenAIRequest(ProviderOpenAI, messages, opts),
		map[string]string{
			"Authorization": "Bearer " + o.cfg.APIKey,
			"Accept":        "text/event-stream",
		})
	if err != nil {
		return nil, err
	}
	return streamTokens(ctx, ProviderOpenAI, o.cfg.logger(), resp, stream.EventStream, openAIToken), nil
}

func newOpenAIRequest(id ProviderID, messages []Message, opts Options) openAIRequest {
	converted := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, openAIMessage(msg))
	}
	return openAIRequest{
		Model:       modelOrDefault(id, opts.Model),
		Messages:    converted,
		Stream:      true,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
}

// openAIToken reads choices[0].delta.content
func openAIToken(ev json.RawMessage) (string, bool) {
	var resp openAIStreamResponse
	if err := json.Unmarshal(ev, &resp); err != nil {
		return "", false
	}
	if len(resp.Choices) == 0 {
		return "", false
	}
	content := resp.Choices[0].Delta.Content
	return content, content != ""
}
