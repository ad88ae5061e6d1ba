package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/simonyos/Z-NOTE/internal/llm"
	"github.com/simonyos/Z-NOTE/internal/stream"
)

// OllamaEmbedder embeds text with a local Ollama model. Load pulls the model
// if it is missing, reporting download progress.
type OllamaEmbedder struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type ollamaPullStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Load implements Embedder
func (o *OllamaEmbedder) Load(ctx context.Context, progress func(pct float64)) error {
	resp, err := llm.PostJSON(ctx, o.HTTPClient, llm.ProviderOllama, o.baseURL()+"/api/pull",
		map[string]any{"name": o.Model, "stream": true}, nil)
	if err != nil {
		return fmt.Errorf("pull %s: %w", o.Model, err)
	}
	defer resp.Body.Close()

	dec := stream.NewDecoder(resp.Body, stream.LineDelimited, stream.WithDone(func(ev json.RawMessage) bool {
		var st ollamaPullStatus
		return json.Unmarshal(ev, &st) == nil && (st.Status == "success" || st.Error != "")
	}))

	var last ollamaPullStatus
	for dec.Next() {
		if err := json.Unmarshal(dec.Event(), &last); err != nil {
			continue
		}
		if last.Error != "" {
			return fmt.Errorf("pull %s: %s", o.Model, last.Error)
		}
		if last.Total > 0 {
			progress(float64(last.Completed) / float64(last.Total) * 100)
		}
	}
	if err := dec.Err(); err != nil {
		return fmt.Errorf("pull %s: %w", o.Model, err)
	}
	if last.Status != "success" {
		return fmt.Errorf("pull %s: stream ended with status %q", o.Model, last.Status)
	}
	progress(100)
	return nil
}

// Embed implements Embedder
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := llm.PostJSON(ctx, o.HTTPClient, llm.ProviderOllama, o.baseURL()+"/api/embeddings",
		map[string]string{"model": o.Model, "prompt": text}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %w", llm.ErrParse, err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", llm.ErrParse)
	}
	return result.Embedding, nil
}

func (o *OllamaEmbedder) baseURL() string {
	if o.BaseURL == "" {
		return llm.DefaultOllamaURL
	}
	return strings.TrimRight(o.BaseURL, "/")
}

// OpenAIEmbedder embeds text with an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
}

// Load implements Embedder. The remote model needs no loading, only a key.
func (o *OpenAIEmbedder) Load(_ context.Context, progress func(pct float64)) error {
	if o.APIKey == "" {
		return llm.MissingCredential(llm.ProviderOpenAI)
	}
	progress(100)
	return nil
}

// Embed implements Embedder
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if o.APIKey == "" {
		return nil, llm.MissingCredential(llm.ProviderOpenAI)
	}

	base := strings.TrimRight(o.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	resp, err := llm.PostJSON(ctx, o.HTTPClient, llm.ProviderOpenAI, base+"/embeddings",
		map[string]string{"model": o.Model, "input": text},
		map[string]string{"Authorization": "Bearer " + o.APIKey})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %w", llm.ErrParse, err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: response has no embedding", llm.ErrParse)
	}
	return result.Data[0].Embedding, nil
}

// NewEmbedder returns the embedder for backend, "ollama" or "openai".
func NewEmbedder(backend, model, baseURL, apiKey string) (Embedder, error) {
	switch backend {
	case "", "ollama":
		return &OllamaEmbedder{BaseURL: baseURL, Model: model}, nil
	case "openai":
		return &OpenAIEmbedder{BaseURL: baseURL, Model: model, APIKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("%w: embedding backend %q", llm.ErrUnknownProvider, backend)
	}
}
