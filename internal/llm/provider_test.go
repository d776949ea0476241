package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOfflineReturnsFallback(t *testing.T) {
	resp, err := Offline{}.Generate(context.Background(), Request{Prompt: "p", Fallback: "report"})
	require.NoError(t, err)
	assert.Equal(t, "report", resp.Content)
	assert.Equal(t, ProviderOffline, resp.Provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Offline{}.Generate(ctx, Request{Fallback: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSelectsProvider(t *testing.T) {
	logger := zaptest.NewLogger(t)

	p, err := New(DefaultConfig(), logger)
	require.NoError(t, err)
	assert.IsType(t, Offline{}, p)

	cfg := DefaultConfig()
	cfg.Provider = ProviderOpenAI
	p, err = New(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, Offline{}, p, "no key degrades to offline")

	cfg.APIKey = "sk-test"
	p, err = New(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, p)

	cfg.Provider = "bogus"
	_, err = New(cfg, logger)
	assert.Error(t, err)
}

func TestOpenAIGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  EV demand is rising.  "}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Provider = ProviderOpenAI
	cfg.APIKey = "sk-test"
	cfg.BaseURL = srv.URL + "/v1/"
	p := NewOpenAI(cfg, zaptest.NewLogger(t))

	resp, err := p.Generate(context.Background(), Request{System: "be brief", Prompt: "summarize EV"})
	require.NoError(t, err)
	assert.Equal(t, "EV demand is rising.", resp.Content)
	assert.Equal(t, int64(15), resp.Tokens)
	assert.Equal(t, ProviderOpenAI, resp.Provider)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = srv.URL + "/v1/"
	p := NewOpenAI(cfg, zaptest.NewLogger(t))

	_, err := p.Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}
