package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/types"
)

// toContents converts normalized messages to Gemini's content list, per
// llm/providers/gemini/provider.go's convertToGeminiContents. sigFor
// looks up a stored thought_signature for a tool-call id (may be nil),
// reattaching it to the reconstructed functionCall part.
func toContents(msgs []types.Message, sigFor func(toolCallID string) string) (*content, []content) {
	var systemInstruction *content
	var contents []content

	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			if systemInstruction == nil {
				systemInstruction = &content{Parts: []part{{Text: m.Content}}}
			} else {
				systemInstruction.Parts[0].Text += "\n" + m.Content
			}
			continue
		}

		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}

		c := content{Role: role}
		if m.Content != "" {
			c.Parts = append(c.Parts, part{Text: m.Content})
		}

		for _, tc := range m.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal(tc.Arguments, &args)
			p := part{FunctionCall: &functionCall{Name: tc.Name, Args: args}}
			if sigFor != nil {
				p.ThoughtSignature = sigFor(tc.ID)
			}
			c.Parts = append(c.Parts, p)
		}

		if m.Role == types.RoleTool && m.ToolCallID != "" {
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"result": m.Content}
			}
			c.Parts = append(c.Parts, part{FunctionResponse: &functionResponse{Name: m.Name, Response: response}})
		}

		if len(c.Parts) > 0 {
			contents = append(contents, c)
		}
	}

	return systemInstruction, contents
}

func toTools(tools []types.ToolSchema) []tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]functionDeclaration, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		if err := json.Unmarshal(t.Parameters, &params); err == nil {
			decls = append(decls, functionDeclaration{Name: t.Name, Description: t.Description, Parameters: params})
		}
	}
	if len(decls) == 0 {
		return nil
	}
	return []tool{{FunctionDeclarations: decls}}
}

func fromResponse(wr wireResponse, provider, model string) *providers.ChatResponse {
	choices := make([]providers.ChatChoice, 0, len(wr.Candidates))
	for _, c := range wr.Candidates {
		msg := types.Message{Role: types.RoleAssistant}
		callIndex := 0
		for _, p := range c.Content.Parts {
			if p.Text != "" {
				if msg.Content != "" {
					msg.Content += p.Text
				} else {
					msg.Content = p.Text
				}
			}
			if p.FunctionCall != nil {
				argsJSON, _ := json.Marshal(p.FunctionCall.Args)
				// Gemini function calls carry no id of their own; synthesize
				// one so the session store and tool result roundtrip have a
				// stable key, matching the shape every other adapter returns.
				id := fmt.Sprintf("%s-%d", p.FunctionCall.Name, callIndex)
				callIndex++
				msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
					ID:        id,
					Name:      p.FunctionCall.Name,
					Arguments: argsJSON,
				})
			}
		}
		choices = append(choices, providers.ChatChoice{
			Index:        c.Index,
			FinishReason: mapFinishReason(c.FinishReason),
			Message:      msg,
		})
	}
	resp := &providers.ChatResponse{Provider: provider, Model: model, Choices: choices, ID: wr.ResponseID}
	if wr.UsageMetadata != nil {
		resp.Usage = providers.ChatUsage{
			PromptTokens:     wr.UsageMetadata.PromptTokenCount,
			CompletionTokens: wr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      wr.UsageMetadata.TotalTokenCount,
		}
	}
	return resp
}

func mapFinishReason(r string) string {
	switch r {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return r
	}
}
