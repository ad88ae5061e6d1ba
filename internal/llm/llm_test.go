package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func collect(t *testing.T, chunks <-chan StreamChunk) ([]string, error) {
	t.Helper()
	var tokens []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return tokens, nil
			}
			if chunk.Err != nil {
				return tokens, chunk.Err
			}
			tokens = append(tokens, chunk.Text)
		case <-timeout:
			t.Fatal("timeout waiting for stream")
		}
	}
}

func sse(events ...string) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString("data: " + ev + "\n\n")
	}
	return b.String()
}

func TestOpenAIStreamChat(t *testing.T) {
	var got openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sse(
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		))
	}))
	defer server.Close()

	temp := 0.2
	p := NewOpenAI(ProviderConfig{APIKey: "sk-test", BaseURL: server.URL})
	chunks, err := p.StreamChat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, Options{Model: "gpt-test", Temperature: &temp})
	require.NoError(t, err)

	tokens, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)

	assert.Equal(t, "gpt-test", got.Model)
	assert.True(t, got.Stream)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestAnthropicLiftsSystemPrompt(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		io.WriteString(w, "event: message_start\n"+sse(
			`{"type":"message_start","message":{"role":"assistant"}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Bon"}}`,
			`{"type":"ping"}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"jour"}}`,
			`{"type":"message_stop"}`,
		))
	}))
	defer server.Close()

	p := NewAnthropic(ProviderConfig{APIKey: "ak-test", BaseURL: server.URL})
	chunks, err := p.StreamChat(context.Background(), []Message{
		{Role: "system", Content: "persona"},
		{Role: "system", Content: "context"},
		{Role: "user", Content: "hello"},
	}, Options{})
	require.NoError(t, err)

	tokens, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bon", "jour"}, tokens)

	assert.Equal(t, "persona\n\ncontext", got.System)
	assert.Equal(t, []anthropicMessage{{Role: "user", Content: "hello"}}, got.Messages)
	assert.Equal(t, defaultAnthropicMaxTokens, got.MaxTokens)
	assert.Equal(t, DefaultModel(ProviderAnthropic), got.Model)
}

func TestOllamaNeedsNoCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		io.WriteString(w, `{"message":{"role":"assistant","content":"A"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":"B"},"done":true}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":"ignored"},"done":false}`+"\n")
	}))
	defer server.Close()

	p := NewOllama(ProviderConfig{BaseURL: server.URL + "/"})
	chunks, err := p.StreamChat(context.Background(), []Message{{Role: "user", Content: "x"}}, Options{})
	require.NoError(t, err)

	tokens, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, tokens)
}

func TestCompatibleStreamChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer ck", r.Header.Get("Authorization"))
		io.WriteString(w, sse(`{"choices":[{"delta":{"content":"ok"}}]}`, `[DONE]`))
	}))
	defer server.Close()

	p := NewCompatible(ProviderConfig{APIKey: "ck", BaseURL: server.URL + "/v1"})
	chunks, err := p.StreamChat(context.Background(), []Message{{Role: "user", Content: "x"}}, Options{})
	require.NoError(t, err)

	tokens, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, tokens)
}

func TestMissingCredentialMakesNoRequest(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	for _, id := range []ProviderID{ProviderOpenAI, ProviderAnthropic, ProviderCustom} {
		t.Run(string(id), func(t *testing.T) {
			p, err := New(id, ProviderConfig{BaseURL: server.URL})
			require.NoError(t, err)

			chunks, err := p.StreamChat(context.Background(), []Message{{Role: "user", Content: "x"}}, Options{})
			assert.Nil(t, chunks)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Equal(t, ErrConfiguration, Classify(err))
		})
	}
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusServiceUnavailable, ErrServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"error":{"message":"nope"}}`)
			}))
			defer server.Close()

			p := NewOpenAI(ProviderConfig{APIKey: "k", BaseURL: server.URL})
			_, err := p.StreamChat(context.Background(), nil, Options{})
			require.Error(t, err)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Contains(t, se.Body, "nope")
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	p := NewOllama(ProviderConfig{BaseURL: url})
	_, err := p.StreamChat(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, ErrNetwork, Classify(err))
}

func TestCancellationStopsStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		io.WriteString(w, sse(`{"choices":[{"delta":{"content":"first"}}]}`))
		flusher.Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOpenAI(ProviderConfig{APIKey: "k", BaseURL: server.URL})
	chunks, err := p.StreamChat(ctx, nil, Options{})
	require.NoError(t, err)

	first := <-chunks
	assert.Equal(t, "first", first.Text)
	cancel()

	select {
	case _, ok := <-chunks:
		for ok {
			_, ok = <-chunks
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream not released after cancel")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	p, err := New("gemini", ProviderConfig{})
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewReturnsMatchingAdapter(t *testing.T) {
	for _, id := range IDs() {
		p, err := New(id, ProviderConfig{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, id, p.ID())
	}
}

func TestParseProviderID(t *testing.T) {
	id, err := ParseProviderID(" Anthropic ")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, id)

	_, err = ParseProviderID("claude-cli")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.False(t, ProviderOllama.RequiresCredential())
	assert.True(t, ProviderCustom.RequiresCredential())
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Nil(t, Classify(errors.New("plain")))
	assert.Equal(t, ErrCancelled, Classify(context.Canceled))
	assert.Equal(t, ErrCancelled, Classify(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, ErrRateLimited, Classify(&StatusError{StatusCode: 429}))
	assert.True(t, ServiceUnavailable(fmt.Errorf("x: %w", &StatusError{StatusCode: 503})))
	assert.False(t, ServiceUnavailable(&StatusError{StatusCode: 500}))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Contains(t, UserMessage(&StatusError{StatusCode: 401}), "API key")
	assert.Contains(t, UserMessage(MissingCredential(ProviderOpenAI)), "not configured")
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
}

func TestMalformedFramesAreLogged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n"+
			"data: {\"choices\":[{\"del\n\n"+
			"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n"+
			"data: [DONE]\n\n")
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	p := NewOpenAI(ProviderConfig{APIKey: "k", BaseURL: server.URL, Logger: zap.New(core)})

	chunks, err := p.StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.NoError(t, err)
	tokens, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tokens)

	entries := logs.FilterMessage("skipped malformed stream frames").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 1, fields["count"])
	assert.Equal(t, string(ProviderOpenAI), fields["provider"])
}

func TestStatusErrorTruncatesByRune(t *testing.T) {
	body := strings.Repeat("é", 299) + "日本語"
	err := &StatusError{Provider: ProviderOpenAI, StatusCode: 500, Body: body}

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, strings.Repeat("é", 299)+"日..."), msg)

	short := &StatusError{Provider: ProviderOpenAI, StatusCode: 400, Body: "  日本語  "}
	assert.True(t, strings.HasSuffix(short.Error(), ": 日本語"), short.Error())
}
