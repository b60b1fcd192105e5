package openaicompat

import (
	"encoding/json"

	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/types"
)

func toWireMessages(msgs []types.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			wm.ToolCalls = make([]wireToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: wireFunction{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []types.ToolSchema) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:      t.Name,
				Arguments: t.Parameters,
			},
		})
	}
	return out
}

func buildWireRequest(req *providers.ChatRequest, policy providers.RequestPolicy, stream bool) wireRequest {
	wr := wireRequest{
		Model:       req.Model,
		Messages:    toWireMessages(providers.NormalizeOpenAI(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}

	if policy.ToolsEnabled {
		wr.Tools = toWireTools(req.Tools)
		if policy.ToolChoice != "" {
			wr.ToolChoice = policy.ToolChoice
		}
		parallel := policy.ParallelToolCallsEnabled
		wr.ParallelToolCalls = &parallel
	}

	if policy.ForceTextResponseFormat {
		wr.ResponseFormat = &wireRespFormat{Type: "text"}
	}

	return wr
}

func fromWireResponse(wr wireResponse, provider string) *providers.ChatResponse {
	choices := make([]providers.ChatChoice, 0, len(wr.Choices))
	for _, c := range wr.Choices {
		choices = append(choices, providers.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      fromWireMessage(c.Message),
		})
	}
	resp := &providers.ChatResponse{
		ID:       wr.ID,
		Provider: provider,
		Model:    wr.Model,
		Choices:  choices,
	}
	if wr.Usage != nil {
		resp.Usage = providers.ChatUsage{
			PromptTokens:     wr.Usage.PromptTokens,
			CompletionTokens: wr.Usage.CompletionTokens,
			TotalTokens:      wr.Usage.TotalTokens,
		}
	}
	return resp
}

func fromWireMessage(wm wireMessage) types.Message {
	m := types.Message{
		Role:    types.RoleAssistant,
		Content: wm.Content,
		Name:    wm.Name,
	}
	if len(wm.ToolCalls) > 0 {
		m.ToolCalls = make([]types.ToolCall, 0, len(wm.ToolCalls))
		for _, tc := range wm.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, types.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return m
}

func unmarshalModelsResponse(data []byte) ([]providers.Model, error) {
	var wr wireModelsResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, err
	}
	out := make([]providers.Model, 0, len(wr.Data))
	for _, m := range wr.Data {
		out = append(out, providers.Model{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return out, nil
}
