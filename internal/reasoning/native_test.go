package reasoning

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/engine"
	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/internal/router"
	"github.com/nexusgate/gateway/internal/toolorch"
	"github.com/nexusgate/gateway/types"
)

// fakeStreamEngine scripts one chunk sequence per call, in order.
type fakeStreamEngine struct {
	calls     int
	sequences [][]providers.StreamChunk
}

func (f *fakeStreamEngine) ExecuteStream(ctx context.Context, req *engine.Request) (<-chan providers.StreamChunk, error) {
	seq := f.sequences[f.calls]
	f.calls++
	ch := make(chan providers.StreamChunk, len(seq))
	for _, c := range seq {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type fakeDispatcher struct {
	tools   []toolorch.ToolDescriptor
	results map[string]toolorch.Result
}

func (f *fakeDispatcher) ActiveTools() []toolorch.ToolDescriptor { return f.tools }

func (f *fakeDispatcher) Dispatch(ctx context.Context, sessionID string, call types.ToolCall) toolorch.Result {
	if r, ok := f.results[call.Name]; ok {
		r.ToolCallID = call.ID
		return r
	}
	return toolorch.Result{ToolCallID: call.ID, Name: call.Name, Error: "no such tool"}
}

func TestNativeDriver_NoToolCallsEmitsContentThenStreamEnd(t *testing.T) {
	eng := &fakeStreamEngine{sequences: [][]providers.StreamChunk{
		{
			{Delta: types.Message{Content: "Hello"}},
			{Delta: types.Message{Content: ", world"}, FinishReason: "stop"},
		},
	}}
	disp := &fakeDispatcher{}
	d := NewNativeDriver(eng, disp, zap.NewNop())

	req := &providers.ChatRequest{Model: "m", Messages: []types.Message{types.NewSystemMessage("sys"), types.NewUserMessage("hi")}}
	events := collect(d.Run(context.Background(), "s1", []router.Profile{{Name: "p"}}, req))

	var text string
	var end *StreamEnd
	for _, ev := range events {
		if ev.Chunk != nil {
			text += ev.Chunk.Delta.Content
		}
		if ev.End != nil {
			end = ev.End
		}
	}
	assert.Equal(t, "Hello, world", text)
	require.NotNil(t, end)
	assert.NoError(t, end.Err)
	assert.Equal(t, "stop", end.FinishReason)
}

func TestNativeDriver_BracketsReasoningContent(t *testing.T) {
	eng := &fakeStreamEngine{sequences: [][]providers.StreamChunk{
		{
			{Delta: types.Message{ReasoningContent: "let me think"}},
			{Delta: types.Message{Content: "the answer"}, FinishReason: "stop"},
		},
	}}
	d := NewNativeDriver(eng, &fakeDispatcher{}, zap.NewNop())
	req := &providers.ChatRequest{Messages: []types.Message{types.NewSystemMessage("s"), types.NewUserMessage("u")}}
	events := collect(d.Run(context.Background(), "s1", nil, req))

	var text string
	for _, ev := range events {
		if ev.Chunk != nil {
			text += ev.Chunk.Delta.Content
		}
	}
	assert.Equal(t, "<think>let me think</think>the answer", text)
}

func TestNativeDriver_AccumulatesToolCallsByIndexAndDispatches(t *testing.T) {
	eng := &fakeStreamEngine{sequences: [][]providers.StreamChunk{
		{
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ID: "call_1", Name: "get_weather"}}},
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ArgumentsFragment: `{"city":`}}},
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ArgumentsFragment: `"nyc"}`}}},
		},
		{
			{Delta: types.Message{Content: "It is sunny."}, FinishReason: "stop"},
		},
	}}
	disp := &fakeDispatcher{results: map[string]toolorch.Result{
		"get_weather": {Result: json.RawMessage(`{"temp_f":72}`)},
	}}
	d := NewNativeDriver(eng, disp, zap.NewNop())
	req := &providers.ChatRequest{Messages: []types.Message{types.NewSystemMessage("s"), types.NewUserMessage("weather?")}}
	events := collect(d.Run(context.Background(), "s1", nil, req))

	var text string
	var end *StreamEnd
	for _, ev := range events {
		if ev.Chunk != nil {
			text += ev.Chunk.Delta.Content
		}
		if ev.End != nil {
			end = ev.End
		}
	}
	assert.Equal(t, "It is sunny.", text)
	require.NotNil(t, end)
	assert.Equal(t, 2, eng.calls)
}

func TestNativeDriver_InvalidToolArgumentsProduceErrorResultWithoutDispatch(t *testing.T) {
	eng := &fakeStreamEngine{sequences: [][]providers.StreamChunk{
		{{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ID: "c1", Name: "get_weather", ArgumentsFragment: "{not json"}}}},
		{{Delta: types.Message{Content: "done"}, FinishReason: "stop"}},
	}}
	disp := &fakeDispatcher{results: map[string]toolorch.Result{}}
	d := NewNativeDriver(eng, disp, zap.NewNop())
	req := &providers.ChatRequest{Messages: []types.Message{types.NewSystemMessage("s"), types.NewUserMessage("u")}}
	events := collect(d.Run(context.Background(), "s1", nil, req))
	require.NotEmpty(t, events)
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
