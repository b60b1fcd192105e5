// Package reasoning implements the two agent drivers that wrap the
// Execution Engine's streams with multi-turn tool-calling: a native
// tool-calling driver for providers with structured function-calling
// support, and a fuzzy-XML ReAct driver for providers without it.
//
// Both share one output contract — a sequence of chat-completion chunks
// terminated by a StreamEnd — grounded on llm/tools/react.go's
// ExecuteStream, whose delta-accumulation loop (index/id-keyed partial
// tool-call assembly, <-chan event relay) is the shape both drivers
// generalize.
package reasoning

import (
	"context"
	"strings"
	"time"

	"github.com/nexusgate/gateway/internal/engine"
	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/internal/toolorch"
	"github.com/nexusgate/gateway/types"
)

// MaxAgentIterations bounds every driver's tool-call loop.
const MaxAgentIterations = 10

// Event is one item on a driver's output stream: either a relayed chunk
// or a terminal StreamEnd. Exactly one of Chunk/End is set.
//
// Recovered marks a chunk reassembled from a provider's 400 rejection
// payload during ReAct's self-healing retry (spec §4.9.2 OQ2): the
// public SSE chunk built from it is indistinguishable from any other
// content chunk, but the gateway's own metrics can use this field to
// count recoveries separately without double-counting them as normal
// turns.
type Event struct {
	Chunk     *providers.StreamChunk
	Recovered bool
	End       *StreamEnd
}

// StreamEnd terminates a driver's output stream.
type StreamEnd struct {
	FinishReason string
	Usage        *providers.ChatUsage
	Err          error
}

// StreamEngine is the subset of internal/engine.Engine the drivers
// depend on, kept narrow so tests can substitute a scripted fake.
type StreamEngine interface {
	ExecuteStream(ctx context.Context, req *engine.Request) (<-chan providers.StreamChunk, error)
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func emitContent(ctx context.Context, out chan<- Event, text string) bool {
	return emitContentRecovered(ctx, out, text, false)
}

func emitContentRecovered(ctx context.Context, out chan<- Event, text string, recovered bool) bool {
	if text == "" {
		return true
	}
	return emit(ctx, out, Event{
		Chunk: &providers.StreamChunk{
			Delta: types.Message{Role: types.RoleAssistant, Content: text},
		},
		Recovered: recovered,
	})
}

// thinkBracketer inserts <think>/</think> around runs of reasoning
// content so a client that only renders `content` sees one well-formed
// envelope instead of a parallel reasoning_content field, per spec
// §4.9.1. This has no teacher analogue (the teacher streams
// reasoning_content as its own field); the accumulation idiom it rides
// on is llm/tools/react.go's delta loop.
type thinkBracketer struct {
	inThink bool
}

func (b *thinkBracketer) wrap(delta types.Message) []string {
	var out []string
	if delta.ReasoningContent != "" && !b.inThink {
		out = append(out, "<think>")
		b.inThink = true
	}
	if delta.ReasoningContent != "" {
		out = append(out, delta.ReasoningContent)
	}
	if delta.Content != "" && b.inThink {
		out = append(out, "</think>")
		b.inThink = false
	}
	if delta.Content != "" {
		out = append(out, delta.Content)
	}
	return out
}

func (b *thinkBracketer) flush() []string {
	if b.inThink {
		b.inThink = false
		return []string{"</think>"}
	}
	return nil
}

// toolCallAccumulator assembles ToolCallDelta fragments by index into
// complete types.ToolCall values, mirroring llm/tools/react.go's
// per-id builder but keyed by the index field internal/providers'
// StreamChunk actually carries.
type toolCallAccumulator struct {
	order []int
	byIdx map[int]*accumulating
}

type accumulating struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIdx: make(map[int]*accumulating)}
}

func (a *toolCallAccumulator) add(deltas []providers.ToolCallDelta) {
	for _, d := range deltas {
		acc, ok := a.byIdx[d.Index]
		if !ok {
			acc = &accumulating{}
			a.byIdx[d.Index] = acc
			a.order = append(a.order, d.Index)
		}
		if d.ID != "" {
			acc.id = d.ID
		}
		if d.Name != "" {
			acc.name = d.Name
		}
		acc.args.WriteString(d.ArgumentsFragment)
	}
}

func (a *toolCallAccumulator) empty() bool { return len(a.order) == 0 }

func (a *toolCallAccumulator) calls() []types.ToolCall {
	calls := make([]types.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		acc := a.byIdx[idx]
		args := strings.TrimSpace(acc.args.String())
		if args == "" {
			args = "{}"
		}
		calls = append(calls, types.ToolCall{ID: acc.id, Name: acc.name, Arguments: []byte(args)})
	}
	return calls
}

// longRunningNotifier drips pre-scripted waiting messages at scheduled
// delays while a batch of long-running tools executes, per spec
// §4.9.1's "long-running tool notifications". Cancelled as soon as the
// caller stops the returned goroutine via ctx.
type longRunningNotifier struct {
	messages []scheduledNotice
}

type scheduledNotice struct {
	After   time.Duration
	Content string
}

// defaultLongRunningTools names the tools whose latency warrants
// drip-fed waiting messages; smart_search is the spec's own example.
var defaultLongRunningTools = map[string]bool{
	"smart_search": true,
}

func isLongRunning(calls []types.ToolCall) bool {
	for _, c := range calls {
		if defaultLongRunningTools[c.Name] {
			return true
		}
	}
	return false
}

func defaultNotices() []scheduledNotice {
	return []scheduledNotice{
		{After: 3 * time.Second, Content: "Still searching, one moment..."},
		{After: 8 * time.Second, Content: "This is taking a bit longer than usual..."},
	}
}

// run drips notices onto out until ctx is cancelled (the caller cancels
// as soon as the tool batch finishes).
func (n longRunningNotifier) run(ctx context.Context, out chan<- Event) {
	for _, notice := range n.messages {
		timer := time.NewTimer(notice.After)
		select {
		case <-timer.C:
			emitContent(ctx, out, notice.Content)
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// toolCallError synthesizes an error tool result for a call whose
// arguments failed to parse, so the loop can continue instead of
// aborting the whole request.
func toolCallError(call types.ToolCall, err error) toolorch.Result {
	return toolorch.Result{ToolCallID: call.ID, Name: call.Name, Error: err.Error()}
}
