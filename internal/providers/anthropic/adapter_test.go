package anthropic

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

func newTestServer(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, DefaultModel: "claude-test"}, srv.Client(), nil)
}

func TestAdapter_ChatUnary_ExtractsSystemAndText(t *testing.T) {
	a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		var body wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be terse", body.System)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(wireResponse{
			ID: "msg_1", Model: "claude-test",
			Content:    []wireContentBlock{{Type: "text", Text: "hi"}},
			StopReason: "end_turn",
			Usage:      wireUsage{InputTokens: 4, OutputTokens: 2},
		})
	})

	out, err := a.ChatUnary(context.Background(), "sk-ant-test", &providers.ChatRequest{
		Messages: []types.Message{
			types.NewSystemMessage("be terse"),
			types.NewUserMessage("hello"),
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "hi", out.Choices[0].Message.Content)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Equal(t, 6, out.Usage.TotalTokens)
}

func TestAdapter_ChatUnary_ToolUseRoundtrip(t *testing.T) {
	a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Tools, 1)
		assert.Equal(t, "get_weather", body.Tools[0].Name)

		_ = json.NewEncoder(w).Encode(wireResponse{
			Content: []wireContentBlock{
				{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"nyc"}`)},
			},
			StopReason: "tool_use",
		})
	})

	out, err := a.ChatUnary(context.Background(), "sk-ant-test", &providers.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("weather?")},
		Tools:    []types.ToolSchema{{Name: "get_weather", Parameters: json.RawMessage(`{}`)}},
	})
	require.NoError(t, err)
	require.Len(t, out.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", out.Choices[0].Message.ToolCalls[0].Name)
	assert.Equal(t, "tool_calls", out.Choices[0].FinishReason)
}

func TestAdapter_ChatUnary_RateLimitMapsRetryable(t *testing.T) {
	a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"too many"}}`))
	})

	_, err := a.ChatUnary(context.Background(), "sk-ant-test", &providers.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.Error(t, err)
	gwErr := err.(*types.Error)
	assert.Equal(t, types.ErrRateLimited, gwErr.Code)
	assert.True(t, gwErr.Retryable)
}

func TestAdapter_ChatStream_AccumulatesTextAndToolUse(t *testing.T) {
	a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		events := []string{
			`{"type":"message_start","message":{"id":"msg_2","model":"claude-test","role":"assistant","content":[]}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"nyc\"}"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			flusher.Flush()
		}
	})

	ch, err := a.ChatStream(context.Background(), "sk-ant-test", &providers.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("weather?")},
		Tools:    []types.ToolSchema{{Name: "get_weather"}},
	})
	require.NoError(t, err)

	var text string
	var toolName string
	var argsFragments string
	var finish string
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		text += chunk.Delta.Content
		for _, tcd := range chunk.ToolCallDeltas {
			if tcd.Name != "" {
				toolName = tcd.Name
			}
			argsFragments += tcd.ArgumentsFragment
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	assert.Equal(t, "Hello", text)
	assert.Equal(t, "get_weather", toolName)
	assert.Equal(t, `{"city":"nyc"}`, argsFragments)
	assert.Equal(t, "tool_calls", finish)
}
