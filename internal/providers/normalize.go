package providers

import (
	"strings"

	"github.com/nexusgate/gateway/types"
)

// NormalizeOpenAI drops empty/whitespace-only messages and merges
// consecutive messages of the same role, concatenating textual content
// with a newline. Grounded on llm/providers/openaicompat's
// ConvertMessagesToOpenAI input contract: that converter assumes a
// clean, de-duplicated message list, which this function produces.
//
// Idempotent: running it twice on its own output returns the same slice
// (per spec §8), since a merged/non-empty list has no further empty
// messages or adjacent same-role pairs left to fold.
func NormalizeOpenAI(msgs []types.Message) []types.Message {
	cleaned := dropEmpty(msgs)
	return mergeConsecutiveSameRole(cleaned)
}

// NormalizeGemini applies the same emptiness/merge pass as NormalizeOpenAI,
// then injects a dummy user turn if the first non-system message is an
// assistant turn (Gemini rejects a conversation that doesn't open with a
// user turn). Roles are left as they are; the gemini adapter's toContents
// maps assistant to "model" and tool results to functionResponse parts.
func NormalizeGemini(msgs []types.Message) []types.Message {
	cleaned := mergeConsecutiveSameRole(dropEmpty(msgs))

	out := make([]types.Message, 0, len(cleaned)+1)
	injectedDummy := false
	for _, m := range cleaned {
		if !injectedDummy && m.Role != types.RoleSystem {
			if m.Role == types.RoleAssistant {
				out = append(out, types.NewUserMessage("..."))
			}
			injectedDummy = true
		}
		out = append(out, m)
	}
	return out
}

func dropEmpty(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" && len(m.ToolCalls) == 0 && len(m.Images) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

func mergeConsecutiveSameRole(msgs []types.Message) []types.Message {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]types.Message, 0, len(msgs))
	out = append(out, msgs[0])
	for _, m := range msgs[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role && last.ToolCallID == "" && m.ToolCallID == "" && len(last.ToolCalls) == 0 && len(m.ToolCalls) == 0 {
			if last.Content != "" && m.Content != "" {
				last.Content = last.Content + "\n" + m.Content
			} else {
				last.Content = last.Content + m.Content
			}
			last.Images = append(last.Images, m.Images...)
			continue
		}
		out = append(out, m)
	}
	return out
}
