package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloop-ai/openloop/pkg/types"
)

// sseHandler streams the given deltas as chat-completion frames.
func sseHandler(t *testing.T, deltas []string, withUsage bool) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range deltas {
			frame := map[string]any{
				"choices": []map[string]any{
					{"delta": map[string]any{"content": delta}},
				},
			}
			data, _ := json.Marshal(frame)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		final := map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]any{}, "finish_reason": "stop"},
			},
		}
		if withUsage {
			final["usage"] = map[string]any{
				"prompt_tokens":     12,
				"completion_tokens": 7,
				"total_tokens":      19,
			}
		}
		data, _ := json.Marshal(final)
		fmt.Fprintf(w, "data: %s\n\n", data)
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func newTestProvider(t *testing.T, srv *httptest.Server) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAI(OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	})
	require.NoError(t, err)
	return p
}

func TestOpenAIStreamsDeltas(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"Hello", ", ", "world"}, true))
	defer srv.Close()

	p := newTestProvider(t, srv)
	stream, err := p.Stream(context.Background(), &Request{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "be brief"},
			{Role: types.RoleUser, Content: "greet me"},
		},
	})
	require.NoError(t, err)

	content, usage, err := Drain(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", content)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.Prompt)
	assert.Equal(t, 7, usage.Completion)
	assert.Equal(t, 19, usage.Total)
}

func TestOpenAIToolMessagesTravelAsText(t *testing.T) {
	var gotMessages []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []map[string]any `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotMessages = req.Messages
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	stream, err := p.Stream(context.Background(), &Request{
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "list files"},
			{Role: types.RoleAssistant, Content: "listing"},
			{Role: types.RoleTool, ToolName: "ls", Content: "main.go"},
		},
	})
	require.NoError(t, err)
	defer stream.Close()

	require.Len(t, gotMessages, 3)
	assert.Equal(t, "user", gotMessages[2]["role"])
	assert.Contains(t, gotMessages[2]["content"], "[tool ls result]")
	assert.Contains(t, gotMessages[2]["content"], "main.go")
}

func TestOpenAIRateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	_, err := p.Stream(context.Background(), &Request{})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestOpenAIAuthFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	_, err := p.Stream(context.Background(), &Request{})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "401")
}

func TestOpenAIEarlyCloseEndsStreamCleanly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frame := `{"choices":[{"delta":{"content":"partial"}}]}`
		fmt.Fprintf(w, "data: %s\n\n", frame)
		// Connection closes without a [DONE] sentinel.
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	stream, err := p.Stream(context.Background(), &Request{})
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", chunk.Content)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAI(OpenAIConfig{BaseURL: "http://localhost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestOpenAIBaseURLNormalization(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "k")
	p, err := NewOpenAI(OpenAIConfig{BaseURL: "http://host/v1/chat/completions"})
	require.NoError(t, err)
	assert.Equal(t, "http://host/v1", p.baseURL)
}
