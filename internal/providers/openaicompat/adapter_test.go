package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/types"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New(Config{ProviderName: "testprov", BaseURL: srv.URL, DefaultModel: "test-model"}, srv.Client(), nil)
	return a, srv
}

func TestAdapter_ChatUnary_Success(t *testing.T) {
	a, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		assert.False(t, body.Stream)

		resp := wireResponse{
			ID:    "resp-1",
			Model: "test-model",
			Choices: []wireChoice{
				{Index: 0, FinishReason: "stop", Message: wireMessage{Role: "assistant", Content: "hi there"}},
			},
			Usage: &wireUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	out, err := a.ChatUnary(context.Background(), "sk-test", &providers.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hello")},
	})
	require.NoError(t, err)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "hi there", out.Choices[0].Message.Content)
	assert.Equal(t, 5, out.Usage.TotalTokens)
}

func TestAdapter_ChatUnary_RateLimit(t *testing.T) {
	a, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})

	_, err := a.ChatUnary(context.Background(), "sk-test", &providers.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hello")},
	})
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrRateLimited, gwErr.Code)
	assert.True(t, gwErr.Retryable)
}

func TestAdapter_ChatUnary_NoToolsStripsToolFields(t *testing.T) {
	a, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Nil(t, body.Tools)
		assert.Nil(t, body.ToolChoice)
		_ = json.NewEncoder(w).Encode(wireResponse{Choices: []wireChoice{{Message: wireMessage{Role: "assistant", Content: "ok"}}}})
	})

	_, err := a.ChatUnary(context.Background(), "sk-test", &providers.ChatRequest{
		Messages:   []types.Message{types.NewUserMessage("hi")},
		ToolChoice: "auto",
	})
	require.NoError(t, err)
}

func TestAdapter_ChatStream_ParsesSSE(t *testing.T) {
	a, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []wireResponse{
			{ID: "c1", Model: "test-model", Choices: []wireChoice{{Index: 0, Delta: &wireMessage{Content: "Hel"}}}},
			{ID: "c1", Model: "test-model", Choices: []wireChoice{{Index: 0, Delta: &wireMessage{Content: "lo"}, FinishReason: "stop"}}},
		}
		for _, c := range chunks {
			data, _ := json.Marshal(c)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})

	ch, err := a.ChatStream(context.Background(), "sk-test", &providers.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	var out string
	var finishReason string
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		out += chunk.Delta.Content
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}
	assert.Equal(t, "Hello", out)
	assert.Equal(t, "stop", finishReason)
}

func TestAdapter_ListModels(t *testing.T) {
	a, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireModelsResponse{
			Object: "list",
			Data: []struct {
				ID      string `json:"id"`
				OwnedBy string `json:"owned_by"`
			}{{ID: "test-model", OwnedBy: "testprov"}},
		})
	})

	models, err := a.ListModels(context.Background(), "sk-test")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "test-model", models[0].ID)
}
