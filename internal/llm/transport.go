package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/stream"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 * 1024

// tokenFunc extracts the text token from one decoded event. ok is false when
// the event carries no text (role-only or metadata frames).
type tokenFunc func(ev json.RawMessage) (token string, ok bool)

// PostJSON posts body to url and returns the response once it is known to
// be successful. A non-2xx answer becomes a *StatusError and a failed round
// trip is wrapped by category. headers are applied after Content-Type.
func PostJSON(ctx context.Context, client *http.Client, id ProviderID, url string, body any, headers map[string]string) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(ctx, id, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Provider: id, StatusCode: resp.StatusCode, Body: string(text)}
	}
	return resp, nil
}

// streamTokens drives the decoder over resp.Body in its own goroutine and
// forwards every non-empty token in arrival order. Malformed frames are
// dropped and counted in a debug entry when the stream ends.
func streamTokens(ctx context.Context, id ProviderID, logger *zap.Logger, resp *http.Response, mode stream.Mode, token tokenFunc) <-chan StreamChunk {
	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		dec := stream.NewDecoder(resp.Body, mode)
		defer func() {
			if n := dec.Skipped(); n > 0 {
				logger.Debug("skipped malformed stream frames",
					zap.String("provider", string(id)),
					zap.Int("count", n))
			}
		}()
		for dec.Next() {
			if ctx.Err() != nil {
				return
			}
			text, ok := token(dec.Event())
			if !ok || text == "" {
				continue
			}
			select {
			case chunks <- StreamChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		if err := dec.Err(); err != nil {
			select {
			case chunks <- StreamChunk{Err: transportError(ctx, id, fmt.Errorf("error reading stream: %w", err))}:
			case <-ctx.Done():
			}
		}
	}()

	return chunks
}
