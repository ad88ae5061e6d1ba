package llm

import (
	"context"

	"github.com/simonyos/Z-NOTE/internal/stream"
)

// DefaultCompatibleURL is used when no base URL is configured for the
// custom provider.
const DefaultCompatibleURL = "https://openrouter.ai/api/v1"

// Compatible implements Provider for any OpenAI-compatible server-sent
// events endpoint (OpenRouter, LiteLLM, vLLM, LM Studio).
type Compatible struct {
	cfg     ProviderConfig
	baseURL string
}

// NewCompatible creates a provider for an OpenAI-compatible endpoint
func NewCompatible(cfg ProviderConfig) *Compatible {
	return &Compatible{cfg: cfg, baseURL: cfg.baseURL(DefaultCompatibleURL)}
}

// ID implements Provider
func (c *Compatible) ID() ProviderID {
	return ProviderCustom
}

// StreamChat calls {base}/chat/completions and streams the response
func (c *Compatible) StreamChat(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	if c.cfg.APIKey == "" {
		return nil, MissingCredential(ProviderCustom)
	}

	resp, err := PostJSON(ctx, c.cfg.client(), ProviderCustom, c.baseURL+"/chat/completions",
		newOpenAIRequest(ProviderCustom, messages, opts),
		map[string]string{
			"Authorization": "Bearer " + c.cfg.APIKey,
			"Accept":        "text/event-stream",
			"HTTP-Referer":  "https://github.com/simonyos/Z-NOTE",
			"X-Title":       "Z-Note",
		})
	if err != nil {
		return nil, err
	}
	return streamTokens(ctx, ProviderCustom, c.cfg.logger(), resp, stream.EventStream, openAIToken), nil
}
