package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexusgate/gateway/internal/engine"
	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/internal/router"
	"github.com/nexusgate/gateway/internal/toolorch"
	"github.com/nexusgate/gateway/types"
)

// ToolDispatcher is the subset of toolorch.Orchestrator the drivers use,
// kept narrow so both production wiring and tests can share one
// interface without either side importing the whole orchestrator.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, sessionID string, call types.ToolCall) toolorch.Result
	ActiveTools() []toolorch.ToolDescriptor
}

// NativeDriver implements spec §4.9.1: a single-state (message-list)
// loop over the Execution Engine's stream, accumulating tool calls by
// index and dispatching them in parallel through the Tool Orchestrator.
//
// Grounded on llm/tools/react.go's ExecuteStream, whose by-ID
// accumulator/iteration-bound/message-append shape is generalized here
// to providers.StreamChunk's index-keyed ToolCallDeltas.
type NativeDriver struct {
	engine     StreamEngine
	dispatcher ToolDispatcher
	logger     *zap.Logger
}

// NewNativeDriver builds a NativeDriver.
func NewNativeDriver(eng StreamEngine, dispatcher ToolDispatcher, logger *zap.Logger) *NativeDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NativeDriver{engine: eng, dispatcher: dispatcher, logger: logger}
}

// Run drives the loop, emitting chunks and a terminal StreamEnd on the
// returned channel. The channel is closed once StreamEnd is sent.
func (d *NativeDriver) Run(ctx context.Context, sessionID string, chain []router.Profile, chatReq *providers.ChatRequest) <-chan Event {
	out := make(chan Event, 8)
	go d.run(ctx, sessionID, chain, chatReq, out)
	return out
}

func (d *NativeDriver) run(ctx context.Context, sessionID string, chain []router.Profile, chatReq *providers.ChatRequest, out chan<- Event) {
	defer close(out)

	messages := append([]types.Message(nil), chatReq.Messages...)
	toolSchemas := toSchemas(d.dispatcher.ActiveTools())

	for iteration := 0; iteration < MaxAgentIterations; iteration++ {
		req := &engine.Request{
			Chain: chain,
			ChatReq: &providers.ChatRequest{
				Model:    chatReq.Model,
				Messages: messages,
				Tools:    toolSchemas,
			},
		}

		stream, err := d.engine.ExecuteStream(ctx, req)
		if err != nil {
			if recovered, syntheticMsg := recoverToolValidationError(err); recovered {
				messages = append(messages, types.NewUserMessage(syntheticMsg))
				continue
			}
			emit(ctx, out, Event{End: &StreamEnd{FinishReason: "error", Err: err}})
			return
		}

		bracket := &thinkBracketer{}
		accum := newToolCallAccumulator()
		var contentBuilder, reasoningBuilder []byte
		var usage *providers.ChatUsage
		var finishReason string

		for chunk := range stream {
			if chunk.Err != nil {
				emit(ctx, out, Event{End: &StreamEnd{FinishReason: "error", Err: chunk.Err}})
				return
			}
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
			contentBuilder = append(contentBuilder, chunk.Delta.Content...)
			reasoningBuilder = append(reasoningBuilder, chunk.Delta.ReasoningContent...)
			accum.add(chunk.ToolCallDeltas)
			for _, piece := range bracket.wrap(chunk.Delta) {
				if !emitContent(ctx, out, piece) {
					return
				}
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
		}
		for _, piece := range bracket.flush() {
			if !emitContent(ctx, out, piece) {
				return
			}
		}

		if accum.empty() {
			emit(ctx, out, Event{End: &StreamEnd{FinishReason: finishReason, Usage: usage}})
			return
		}

		calls := accum.calls()
		assistantMsg := types.NewAssistantMessage(string(contentBuilder)).WithToolCalls(calls)
		assistantMsg.ReasoningContent = string(reasoningBuilder)
		messages = append(messages, assistantMsg)

		notifyCtx, cancelNotify := context.WithCancel(ctx)
		longRunning := isLongRunning(calls)
		if longRunning {
			go longRunningNotifier{messages: defaultNotices()}.run(notifyCtx, out)
		}

		results := d.dispatchParallel(ctx, sessionID, calls)

		cancelNotify()
		if longRunning {
			emitContent(ctx, out, "\n\n")
		}

		for _, res := range results {
			messages = append(messages, toolResultMessage(res))
		}
	}

	emit(ctx, out, Event{End: &StreamEnd{FinishReason: "length", Err: fmt.Errorf("reasoning: exceeded %d agent iterations", MaxAgentIterations)}})
}

// dispatchParallel fans every call out over its own goroutine via
// errgroup, per SPEC_FULL.md's explicit call for golang.org/x/sync's
// errgroup for this driver's fan-out (toolorch.Orchestrator.DispatchAll
// already does a plain WaitGroup for its own callers; this driver uses
// errgroup so a malformed-arguments call can be handled in the same
// per-call closure as a dispatch failure without a second pass).
func (d *NativeDriver) dispatchParallel(ctx context.Context, sessionID string, calls []types.ToolCall) []toolorch.Result {
	results := make([]toolorch.Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if !json.Valid(call.Arguments) {
				results[i] = toolCallError(call, fmt.Errorf("invalid tool call arguments json"))
				return nil
			}
			results[i] = d.dispatcher.Dispatch(gctx, sessionID, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func toolResultMessage(res toolorch.Result) types.Message {
	if res.IsError() {
		return types.NewToolMessage(res.ToolCallID, res.Name, fmt.Sprintf(`{"error":%q}`, res.Error))
	}
	return types.NewToolMessage(res.ToolCallID, res.Name, string(res.Result))
}

func toSchemas(descs []toolorch.ToolDescriptor) []types.ToolSchema {
	schemas := make([]types.ToolSchema, 0, len(descs))
	for _, d := range descs {
		if !d.Enabled {
			continue
		}
		schema := d.Schema
		schema.Name = d.QualifiedName
		schemas = append(schemas, schema)
	}
	return schemas
}

// recoverToolValidationError implements spec §4.9.1's provider-validation
// recovery: a tool-call validation failure becomes a synthetic user
// message instead of a fatal stream error.
func recoverToolValidationError(err error) (bool, string) {
	gwErr, ok := err.(*types.Error)
	if !ok || gwErr.Code != types.ErrToolValidation {
		return false, ""
	}
	return true, fmt.Sprintf("Your previous tool call was rejected by the provider: %s. Please correct the call and try again.", gwErr.Message)
}
