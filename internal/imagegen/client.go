// Package imagegen generates images from a text prompt through an
// OpenAI-compatible images endpoint, with a bounded retry policy for the
// slow and failure-prone call.
package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/simonyos/Z-NOTE/internal/llm"
)

const (
	// DefaultURL is the OpenAI API base.
	DefaultURL = "https://api.openai.com/v1"
	// DefaultModel is used when Client.Model is empty.
	DefaultModel = "dall-e-3"
	// DefaultSize is used when Client.Size is empty.
	DefaultSize = "1024x1024"

	maxImageBytes = 32 << 20
)

var (
	// ErrNoImage is returned when a successful response carries no image.
	ErrNoImage = errors.New("response contains no image")
	// ErrEmptyPrompt is returned for a blank prompt. It is never retried.
	ErrEmptyPrompt = errors.New("prompt is empty")
)

// Client calls POST {BaseURL}/images/generations.
type Client struct {
	BaseURL    string
	Model      string
	Size       string
	APIKey     string
	HTTPClient *http.Client
}

// Image is one generated image, either hosted at URL or inline in Data.
type Image struct {
	URL           string
	Data          []byte
	RevisedPrompt string

	client *http.Client
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type generateResponse struct {
	Data []struct {
		URL           string `json:"url,omitempty"`
		B64JSON       string `json:"b64_json,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

// Generate requests a single image for prompt. It makes exactly one
// attempt; wrap it with a Policy to retry.
func (c *Client) Generate(ctx context.Context, prompt string) (*Image, error) {
	if c.APIKey == "" {
		return nil, llm.MissingCredential(llm.ProviderOpenAI)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	resp, err := llm.PostJSON(ctx, c.HTTPClient, llm.ProviderOpenAI, c.baseURL()+"/images/generations",
		generateRequest{
			Model:  orDefault(c.Model, DefaultModel),
			Prompt: prompt,
			N:      1,
			Size:   orDefault(c.Size, DefaultSize),
		},
		map[string]string{"Authorization": "Bearer " + c.APIKey})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %w", llm.ErrParse, err)
	}
	if len(result.Data) == 0 {
		return nil, ErrNoImage
	}

	d := result.Data[0]
	img := &Image{URL: d.URL, RevisedPrompt: d.RevisedPrompt, client: c.HTTPClient}
	if d.B64JSON != "" {
		img.Data, err = base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("%w: image data: %w", llm.ErrParse, err)
		}
	}
	if img.URL == "" && len(img.Data) == 0 {
		return nil, ErrNoImage
	}
	return img, nil
}

// Save writes the image to path, downloading it first when it is hosted.
func (img *Image) Save(ctx context.Context, path string) error {
	data := img.Data
	if len(data) == 0 {
		var err error
		if data, err = img.download(ctx); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

func (img *Image) download(ctx context.Context) ([]byte, error) {
	if img.URL == "" {
		return nil, ErrNoImage
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	client := img.client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download image: %w", llm.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &llm.StatusError{Provider: llm.ProviderOpenAI, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: download image: %w", llm.ErrNetwork, err)
	}
	return data, nil
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return DefaultURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
