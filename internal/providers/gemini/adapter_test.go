package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/types"
)

type memSignatureStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemSignatureStore() *memSignatureStore {
	return &memSignatureStore{data: make(map[string]string)}
}

func (s *memSignatureStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memSignatureStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func newTestAdapter(t *testing.T, cfg Config, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	cfg.DefaultModel = "gemini-test"
	return New(cfg, srv.Client(), nil)
}

func TestAdapter_ChatUnary_BasicRoundtrip(t *testing.T) {
	a := newTestAdapter(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-goog", r.Header.Get("x-goog-api-key"))
		_ = json.NewEncoder(w).Encode(wireResponse{
			Candidates: []candidate{{
				Content:      content{Parts: []part{{Text: "hi"}}},
				FinishReason: "STOP",
			}},
		})
	})

	out, err := a.ChatUnary(context.Background(), "sk-goog", &providers.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hello")},
	})
	require.NoError(t, err)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "hi", out.Choices[0].Message.Content)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
}

func TestAdapter_ChatUnary_InjectsDummyUserWhenFirstIsAssistant(t *testing.T) {
	var seen wireRequest
	a := newTestAdapter(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_ = json.NewEncoder(w).Encode(wireResponse{})
	})

	_, err := a.ChatUnary(context.Background(), "sk-goog", &providers.ChatRequest{
		Messages: []types.Message{types.NewAssistantMessage("hi there")},
	})
	require.NoError(t, err)
	require.Len(t, seen.Contents, 2)
	assert.Equal(t, "user", seen.Contents[0].Role)
	assert.Equal(t, "model", seen.Contents[1].Role)
}

func TestAdapter_ChatUnary_SignatureStoredAndAnnotated(t *testing.T) {
	store := newMemSignatureStore()
	a := newTestAdapter(t, Config{SignatureStore: store}, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireResponse{
			Candidates: []candidate{{
				Content: content{Parts: []part{
					{FunctionCall: &functionCall{Name: "get_weather", Args: map[string]any{"city": "nyc"}}, ThoughtSignature: "sig-abc"},
				}},
			}},
		})
	})

	out, err := a.ChatUnary(context.Background(), "sk-goog", &providers.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("weather?")},
	})
	require.NoError(t, err)
	require.Len(t, out.Choices[0].Message.ToolCalls, 1)
	toolCallID := out.Choices[0].Message.ToolCalls[0].ID
	assert.NotEmpty(t, toolCallID)
	assert.Contains(t, out.Choices[0].Message.Content, "thought_signature:sig-abc")

	sig, ok, err := store.Get(context.Background(), "gemini:thought_signature:"+toolCallID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sig-abc", sig)
}

func TestAdapter_ChatUnary_RateLimit(t *testing.T) {
	a := newTestAdapter(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	})

	_, err := a.ChatUnary(context.Background(), "sk-goog", &providers.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.Error(t, err)
	gwErr := err.(*types.Error)
	assert.Equal(t, types.ErrRateLimited, gwErr.Code)
}

func TestAdapter_TTS_Unsupported(t *testing.T) {
	// TTS has no Gemini speech endpoint in this adapter's scope.
	a := newTestAdapter(t, Config{}, func(w http.ResponseWriter, r *http.Request) {})
	_, err := a.TTS(context.Background(), "sk-goog", "hello", "alloy")
	assert.ErrorIs(t, err, providers.ErrUnsupportedOperation)
}
