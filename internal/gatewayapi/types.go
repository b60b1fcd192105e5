// Package gatewayapi exposes the OpenAI-compatible HTTP surface spec §6
// calls for, dispatching every request through the Router, Execution
// Engine, and Reasoning Drivers instead of a single injected provider.
//
// Grounded on api/handlers/chat.go's handler shape (SSE writer loop,
// request validation, provider-error mapping) and api/handlers/common.go's
// WriteJSON/WriteError/DecodeJSONBody helpers, reused directly since they
// carry no llm-specific coupling. The wire types here are new: the
// teacher wraps every response in a {success, data, error} envelope,
// but spec §6 requires the flat OpenAI ChatCompletionResponse shape, so
// chat responses bypass that envelope and are written as raw JSON.
package gatewayapi

import (
	"encoding/json"
	"time"

	"github.com/nexusgate/gateway/types"
)

// ChatCompletionRequest is the OpenAI-compatible request body for
// POST /v1/chat/completions per spec §6.
type ChatCompletionRequest struct {
	Model          string             `json:"model"`
	Messages       []types.Message    `json:"messages"`
	Stream         bool               `json:"stream,omitempty"`
	Temperature    float32            `json:"temperature,omitempty"`
	TopP           float32            `json:"top_p,omitempty"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	Tools          []types.ToolSchema `json:"tools,omitempty"`
	ToolChoice     string             `json:"tool_choice,omitempty"`
	ResponseFormat json.RawMessage    `json:"response_format,omitempty"`
	Stop           []string           `json:"stop,omitempty"`
	UserAPIKey     string             `json:"-"`
}

// ChatCompletionResponse is the unary OpenAI-compatible response.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *ChatCompletionUsage   `json:"usage,omitempty"`
}

// ChatCompletionChoice is one completion choice.
type ChatCompletionChoice struct {
	Index        int           `json:"index"`
	Message      types.Message `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// ChatCompletionUsage mirrors providers.ChatUsage in wire form.
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one SSE chunk per spec §4.4/§6: {id, created,
// model, choices:[{index, delta, finish_reason?}]}.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
	Usage   *ChatCompletionUsage        `json:"usage,omitempty"`
}

// ChatCompletionChunkChoice is one streamed delta.
type ChatCompletionChunkChoice struct {
	Index        int           `json:"index"`
	Delta        types.Message `json:"delta"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// ModelInfo describes one runnable alias for GET /v1/models.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
	IsAgent bool   `json:"is_agent"`
}

// ModelsResponse is the GET /v1/models envelope.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// EmbeddingsRequest is the pass-through body for POST /v1/embeddings.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingsResponse wraps the adapter's raw vectors in OpenAI shape.
type EmbeddingsResponse struct {
	Object string              `json:"object"`
	Model  string              `json:"model"`
	Data   []EmbeddingDataItem `json:"data"`
}

// EmbeddingDataItem is one embedding vector.
type EmbeddingDataItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// AudioTranscriptionRequest is the pass-through body for
// POST /v1/audio/transcriptions. HandleTranscription does not decode it
// or read any multipart audio; it answers 501.
type AudioTranscriptionRequest struct {
	Model string `json:"model"`
}

// AudioSpeechRequest is the body for POST /v1/audio/speech.
type AudioSpeechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

func newID(prefix string) string {
	return prefix + "-" + time.Now().UTC().Format("20060102150405.000000000")
}
