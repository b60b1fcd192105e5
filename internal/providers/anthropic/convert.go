package anthropic

import (
	"encoding/json"

	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/types"
)

// toWireRequest extracts the system message, converts tool results to
// user-role tool_result blocks, and assistant tool calls to tool_use
// blocks, per the doc'd Claude protocol mapping.
func toWireRequest(req *providers.ChatRequest, policy providers.RequestPolicy) wireRequest {
	var system string
	var messages []wireMessage

	normalized := providers.NormalizeOpenAI(req.Messages)
	for _, m := range normalized {
		switch m.Role {
		case types.RoleSystem:
			if system != "" {
				system += "\n" + m.Content
			} else {
				system = m.Content
			}
		case types.RoleTool:
			messages = append(messages, wireMessage{
				Role: "user",
				Content: []wireContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case types.RoleAssistant:
			blocks := []wireContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, wireContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, wireContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			messages = append(messages, wireMessage{Role: "assistant", Content: blocks})
		default:
			messages = append(messages, wireMessage{
				Role:    "user",
				Content: []wireContentBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	wr := wireRequest{
		Model:         req.Model,
		System:        system,
		Messages:      messages,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}
	if wr.MaxTokens <= 0 {
		wr.MaxTokens = 4096
	}
	if policy.ToolsEnabled {
		wr.Tools = toWireTools(req.Tools)
	}
	return wr
}

func toWireTools(tools []types.ToolSchema) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

func fromWireResponse(wr wireResponse, provider string) *providers.ChatResponse {
	msg := types.Message{Role: types.RoleAssistant}
	for _, block := range wr.Content {
		switch block.Type {
		case "text":
			if msg.Content != "" {
				msg.Content += "\n" + block.Text
			} else {
				msg.Content = block.Text
			}
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return &providers.ChatResponse{
		ID:       wr.ID,
		Provider: provider,
		Model:    wr.Model,
		Choices: []providers.ChatChoice{{
			Index:        0,
			FinishReason: mapStopReason(wr.StopReason),
			Message:      msg,
		}},
		Usage: providers.ChatUsage{
			PromptTokens:     wr.Usage.InputTokens,
			CompletionTokens: wr.Usage.OutputTokens,
			TotalTokens:      wr.Usage.InputTokens + wr.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func unmarshalModelsResponse(data []byte) ([]providers.Model, error) {
	var wr wireModelsResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, err
	}
	out := make([]providers.Model, 0, len(wr.Data))
	for _, m := range wr.Data {
		out = append(out, providers.Model{ID: m.ID, OwnedBy: "anthropic"})
	}
	return out, nil
}
