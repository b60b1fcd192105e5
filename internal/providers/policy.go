package providers

// RequestPolicy is resolved before wire-formatting and enforces
// consistency across the tools/tool_choice/parallel_tool_calls/reasoning
// fields a ChatRequest carries. Grounded on llm/middleware's
// RewriterChain idiom (openaicompat.Provider.RewriterChain,
// middleware.NewEmptyToolsCleaner) generalized into a standalone record
// instead of a chained mutator, since the spec wants one post-construction
// invariant check rather than a pipeline of independent rewriters.
type RequestPolicy struct {
	ToolsEnabled            bool
	ToolChoice              string
	ParallelToolCallsEnabled bool
	StripReasoning          bool
	ForceTextResponseFormat bool
	ForbiddenParams         []string
}

// ResolvePolicy builds a RequestPolicy for req against a provider's
// no-parallel-tool-calls model blacklist, its reasoning-with-tools
// restriction, whether a ReAct driver is driving this turn, and any
// provider-specific forbidden parameter list. The result always satisfies
// the invariant: tools_enabled=false => tool_choice="" && !parallel.
func ResolvePolicy(req *ChatRequest, noParallelModels map[string]bool, allowReasoningWithTools bool, reactActive bool, forbiddenParams []string) RequestPolicy {
	p := RequestPolicy{
		ToolsEnabled:            len(req.Tools) > 0,
		ToolChoice:              req.ToolChoice,
		ParallelToolCallsEnabled: req.ParallelToolCalls == nil || *req.ParallelToolCalls,
		ForbiddenParams:         forbiddenParams,
	}

	if !p.ToolsEnabled {
		p.ToolChoice = ""
		p.ParallelToolCallsEnabled = false
	} else if noParallelModels[req.Model] {
		p.ParallelToolCallsEnabled = false
	}

	if p.ToolsEnabled && !allowReasoningWithTools {
		p.StripReasoning = true
	}
	if req.JSONMode && !allowReasoningWithTools {
		p.StripReasoning = true
	}

	if reactActive {
		p.StripReasoning = true
		p.ForceTextResponseFormat = true
	}

	return p
}
