package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResponse_ExtractsThoughtDraftActionFinal(t *testing.T) {
	raw := `<THOUGHT title="Phase 2: gathering data">I should look this up first.</THOUGHT>
<DRAFT>Working notes so far.</DRAFT>
<ACTION>{"name":"search","arguments":{"q":"go modules"}}</ACTION>`

	parsed := ParseResponse(raw)
	assert.Len(t, parsed.Thoughts, 1)
	assert.Equal(t, "Phase 2: gathering data", parsed.Thoughts[0].Title)
	assert.True(t, parsed.HasDraft)
	assert.Equal(t, "Working notes so far.", parsed.Draft)
	assert.True(t, parsed.HasAction)
	assert.JSONEq(t, `{"name":"search","arguments":{"q":"go modules"}}`, string(parsed.Action))
	assert.False(t, parsed.HasFinal)
}

func TestParseResponse_FinalAnswerTerminates(t *testing.T) {
	parsed := ParseResponse(`<FINAL_ANSWER>The answer is 42.</FINAL_ANSWER>`)
	assert.True(t, parsed.HasFinal)
	assert.Equal(t, "The answer is 42.", parsed.Final)
}

func TestParseResponse_UnclosedTagRunsToEndOfString(t *testing.T) {
	parsed := ParseResponse(`<THOUGHT>still thinking, never got a chance to close`)
	if assert.Len(t, parsed.Thoughts, 1) {
		assert.Contains(t, parsed.Thoughts[0].Content, "still thinking")
	}
}

func TestParseResponse_IgnoresFalsePositiveActionMention(t *testing.T) {
	raw := `<THOUGHT>Remember to use <ACTION> tags when you want to call a tool.</THOUGHT>`
	parsed := ParseResponse(raw)
	assert.False(t, parsed.HasAction)
	assert.Len(t, parsed.Thoughts, 1)
}

func TestParseResponse_FallsBackToWholeResponseAsThought(t *testing.T) {
	parsed := ParseResponse("Just thinking out loud with no tags at all.")
	if assert.Len(t, parsed.Thoughts, 1) {
		assert.Equal(t, "Just thinking out loud with no tags at all.", parsed.Thoughts[0].Content)
	}
}

func TestParseResponse_BlankResponseParsesNothing(t *testing.T) {
	parsed := ParseResponse("   \n  ")
	assert.Empty(t, parsed.Thoughts)
	assert.False(t, parsed.HasDraft)
	assert.False(t, parsed.HasAction)
	assert.False(t, parsed.HasFinal)
}

func TestMaxPhase_ExtractsLargestNumber(t *testing.T) {
	n, ok := MaxPhase("Phase 3: cross-checking sources (step 7)")
	assert.True(t, ok)
	assert.Equal(t, 7, n)
}

func TestMaxPhase_NoDigitsReturnsFalse(t *testing.T) {
	_, ok := MaxPhase("gathering data")
	assert.False(t, ok)
}
