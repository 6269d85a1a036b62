package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/entrhq/webdigest/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, capture *map[string]interface{}, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if capture != nil {
			require.NoError(t, json.Unmarshal(body, capture))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
	}))
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewProvider("")
	assert.Error(t, err)
}

func TestEmptyBaseURLKeepsDefault(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "")

	provider, err := NewProvider("test-key", WithBaseURL(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, provider.BaseURL())
}

func TestEmptyBaseURLFallsThroughToEnv(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "https://proxy.internal/v1/")

	provider, err := NewProvider("test-key", WithBaseURL(""))
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.internal/v1", provider.BaseURL())
}

func TestStreamCompletion(t *testing.T) {
	server := sseServer(t, nil,
		`data: {"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`: keep-alive comment`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
	)
	defer server.Close()

	provider, err := NewProvider("test-key", WithBaseURL(server.URL), WithModel("test-model"))
	require.NoError(t, err)

	stream, err := provider.StreamCompletion(context.Background(), []*llm.Message{
		llm.NewUserMessage("hi"),
	})
	require.NoError(t, err)

	var content string
	var role string
	finished := false
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		if chunk.Role != "" {
			role = chunk.Role
		}
		content += chunk.Content
		if chunk.Finished {
			finished = true
		}
	}

	assert.Equal(t, "Hello", content)
	assert.Equal(t, "assistant", role)
	assert.True(t, finished)
}

func TestCompleteAccumulatesChunks(t *testing.T) {
	server := sseServer(t, nil,
		`data: {"choices":[{"delta":{"role":"assistant","content":"a"}}]}`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
		`data: {"choices":[{"delta":{"content":"c"},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	)
	defer server.Close()

	provider, err := NewProvider("test-key", WithBaseURL(server.URL))
	require.NoError(t, err)

	msg, err := provider.Complete(context.Background(), []*llm.Message{
		llm.NewUserMessage("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, llm.RoleAssistant, msg.Role)
	assert.Equal(t, "abc", msg.Content)
}

func TestCallOptionsAreForwarded(t *testing.T) {
	var captured map[string]interface{}
	server := sseServer(t, &captured,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
	)
	defer server.Close()

	provider, err := NewProvider("test-key", WithBaseURL(server.URL), WithModel("test-model"))
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), []*llm.Message{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("hi"),
	}, llm.WithMaxOutputTokens(256), llm.WithTemperature(0.2))
	require.NoError(t, err)

	assert.Equal(t, "test-model", captured["model"])
	assert.Equal(t, float64(256), captured["max_tokens"])
	assert.Equal(t, 0.2, captured["temperature"])
	assert.Equal(t, true, captured["stream"])
}

func TestAPIErrorSurfacesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider, err := NewProvider("test-key", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = provider.StreamCompletion(context.Background(), []*llm.Message{
		llm.NewUserMessage("hi"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
