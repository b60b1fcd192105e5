package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusgate/gateway/types"
)

func TestNormalizeOpenAI_DropsEmptyAndMergesSameRole(t *testing.T) {
	msgs := []types.Message{
		types.NewUserMessage("hello"),
		types.NewUserMessage("   "),
		types.NewUserMessage("world"),
		types.NewAssistantMessage("hi"),
	}
	out := NormalizeOpenAI(msgs)
	require.Len(t, out, 2)
	assert.Equal(t, "hello\nworld", out[0].Content)
	assert.Equal(t, types.RoleAssistant, out[1].Role)
}

func TestNormalizeOpenAI_Idempotent(t *testing.T) {
	msgs := []types.Message{
		types.NewUserMessage("a"),
		types.NewUserMessage(""),
		types.NewUserMessage("b"),
		types.NewSystemMessage("sys"),
	}
	once := NormalizeOpenAI(msgs)
	twice := NormalizeOpenAI(once)
	assert.Equal(t, once, twice)
}

func TestNormalizeGemini_InjectsDummyUserWhenFirstIsAssistant(t *testing.T) {
	msgs := []types.Message{
		types.NewSystemMessage("sys"),
		types.NewAssistantMessage("hi there"),
	}
	out := NormalizeGemini(msgs)
	require.Len(t, out, 3)
	assert.Equal(t, types.RoleSystem, out[0].Role)
	assert.Equal(t, types.RoleUser, out[1].Role)
	assert.Equal(t, types.RoleAssistant, out[2].Role)
}

func TestNormalizeGemini_NoInjectionWhenFirstIsUser(t *testing.T) {
	msgs := []types.Message{
		types.NewUserMessage("hi"),
		types.NewAssistantMessage("hello"),
	}
	out := NormalizeGemini(msgs)
	require.Len(t, out, 2)
	assert.Equal(t, types.RoleUser, out[0].Role)
}

func TestNormalizeGemini_Idempotent(t *testing.T) {
	msgs := []types.Message{
		types.NewAssistantMessage("hi"),
	}
	once := NormalizeGemini(msgs)
	twice := NormalizeGemini(once)
	assert.Equal(t, once, twice)
}

func TestResolvePolicy_NoToolsStripsChoiceAndParallel(t *testing.T) {
	req := &ChatRequest{Model: "gpt-4"}
	p := ResolvePolicy(req, nil, true, false, nil)
	assert.False(t, p.ToolsEnabled)
	assert.Empty(t, p.ToolChoice)
	assert.False(t, p.ParallelToolCallsEnabled)
}

func TestResolvePolicy_BlacklistedModelStripsParallel(t *testing.T) {
	req := &ChatRequest{Model: "gpt-4", Tools: []types.ToolSchema{{Name: "t"}}}
	p := ResolvePolicy(req, map[string]bool{"gpt-4": true}, true, false, nil)
	assert.True(t, p.ToolsEnabled)
	assert.False(t, p.ParallelToolCallsEnabled)
}

func TestResolvePolicy_ReActForcesTextFormat(t *testing.T) {
	req := &ChatRequest{Model: "gpt-4"}
	p := ResolvePolicy(req, nil, true, true, nil)
	assert.True(t, p.ForceTextResponseFormat)
	assert.True(t, p.StripReasoning)
}

func TestResolvePolicy_InvariantHolds(t *testing.T) {
	req := &ChatRequest{Model: "gpt-4"}
	p := ResolvePolicy(req, nil, true, false, nil)
	if !p.ToolsEnabled {
		assert.Empty(t, p.ToolChoice)
		assert.False(t, p.ParallelToolCallsEnabled)
	}
}

func TestShouldCacheContext(t *testing.T) {
	assert.False(t, ShouldCacheContext(100))
	assert.True(t, ShouldCacheContext(ContextCacheThreshold+1))
}

func TestHashPrefix_Deterministic(t *testing.T) {
	h1, err := HashPrefix([]string{"a", "b"})
	require.NoError(t, err)
	h2, err := HashPrefix([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := HashPrefix([]string{"a", "c"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
