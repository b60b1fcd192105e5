// Package providers defines the unified adapter contract every LLM backend
// implements, plus the shared normalization, policy, and streaming-chunk
// machinery every adapter reuses.
//
// Grounded on llm/provider.go's Provider interface and
// llm/providers/openaicompat's embed-and-override shape: a concrete
// adapter (openaicompat, anthropic, gemini) embeds common helpers from
// this package and only overrides what its wire format actually differs
// on.
package providers

import (
	"context"
	"errors"
	"time"

	"github.com/nexusgate/gateway/types"
)

// ErrUnsupportedOperation is returned by adapters that do not implement an
// optional operation (Embed, TTS).
var ErrUnsupportedOperation = errors.New("providers: operation not supported by this adapter")

// ChatRequest is the unified request shape every adapter accepts. It is a
// thin superset of llm.ChatRequest (Model/Messages/sampling params) plus
// the fields the Policy layer and reasoning drivers need.
type ChatRequest struct {
	TraceID     string
	Model       string
	Messages    []types.Message
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stop        []string
	Tools       []types.ToolSchema
	ToolChoice  string
	ParallelToolCalls *bool
	ReasoningMode     string // "", "native_tools", "react"
	JSONMode          bool
	Timeout     time.Duration
	Metadata    map[string]string
}

// ChatChoice is a single completion choice.
type ChatChoice struct {
	Index        int
	FinishReason string
	Message      types.Message
}

// ChatUsage carries token accounting.
type ChatUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the unified non-streaming response shape.
type ChatResponse struct {
	ID        string
	Provider  string
	Model     string
	Choices   []ChatChoice
	Usage     ChatUsage
	CreatedAt time.Time
}

// StreamChunk is the OpenAI-style chat-completion chunk every adapter
// converges on per spec §4.4: {id, created, model,
// choices:[{index, delta, finish_reason?}]}.
type StreamChunk struct {
	ID           string
	Provider     string
	Model        string
	Created      int64
	Index        int
	Delta        types.Message
	ToolCallDeltas []ToolCallDelta
	FinishReason string
	Usage        *ChatUsage
	Err          *types.Error
}

// ToolCallDelta is a partial tool-call fragment as it streams in. Index
// identifies which tool call (in emission order) the fragment belongs to;
// adapters accumulate fragments by index until Name and Arguments are
// complete, matching llm/tools/react.go's delta-accumulation idiom.
type ToolCallDelta struct {
	Index            int
	ID               string
	Name             string
	ArgumentsFragment string
}

// Model describes a model the provider exposes.
type Model struct {
	ID      string
	OwnedBy string
}

// Adapter is the unified interface every provider backend implements.
// Embed (image/text embeddings) and TTS are optional; adapters that don't
// support them return ErrUnsupportedOperation.
type Adapter interface {
	Name() string
	ChatUnary(ctx context.Context, apiKey string, req *ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, apiKey string, req *ChatRequest) (<-chan StreamChunk, error)
	Embed(ctx context.Context, apiKey string, input []string, model string) ([][]float32, error)
	TTS(ctx context.Context, apiKey string, text string, voice string) ([]byte, error)
	ListModels(ctx context.Context, apiKey string) ([]Model, error)
}
