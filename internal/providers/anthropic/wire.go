// Package anthropic adapts the unified providers.Adapter contract to
// Anthropic's Messages API. Unlike the OpenAI-wire family, Claude does not
// embed openaicompat.Adapter: authentication uses x-api-key, content is a
// block array rather than a plain string, and tool results are wrapped as
// a user-role tool_result block instead of a dedicated "tool" role.
// Grounded on llm/providers/anthropic/doc.go's documented protocol
// mapping (no implementation shipped with the teacher — this package
// follows that doc's described shape).
package anthropic

import "encoding/json"

type wireContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    string              `json:"role"`
	Content []wireContentBlock  `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	ID         string              `json:"id"`
	Model      string              `json:"model"`
	Role       string              `json:"role"`
	Content    []wireContentBlock  `json:"content"`
	StopReason string              `json:"stop_reason"`
	Usage      wireUsage           `json:"usage"`
}

type wireErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Streaming event envelope. Claude's SSE events are independently typed
// (message_start, content_block_start, content_block_delta,
// message_delta, message_stop) rather than one uniform chunk shape, so the
// adapter switches on Type before decoding the rest of the payload.
type wireStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	ContentBlock *wireContentBlock `json:"content_block,omitempty"`
	Message      *wireResponse     `json:"message,omitempty"`
	Usage        *wireUsage        `json:"usage,omitempty"`
}

type wireModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}
