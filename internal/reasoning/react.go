package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/engine"
	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/internal/router"
	"github.com/nexusgate/gateway/internal/toolorch"
	"github.com/nexusgate/gateway/types"
)

// DraftPhaseStore is the subset of sessionstore.Store the ReAct driver
// needs, kept narrow so tests can fake it without pulling in Redis.
type DraftPhaseStore interface {
	SetDraft(ctx context.Context, sessionID, draft string) error
	SetPhase(ctx context.Context, sessionID, phase string) error
	GetPhase(ctx context.Context, sessionID string) (string, bool, error)
}

// reactState is the state machine spec §4.9.2 names: Ready ->
// Awaiting-LLM -> Parsing -> {Tool-Call | Final | Retry | Fail}, with
// Tool-Call/Retry looping back to Ready and Final/Fail terminal.
type reactState int

const (
	stateReady reactState = iota
	stateAwaitingLLM
	stateParsing
	stateFinal
	stateFail
)

const maxConsecutiveEmptyParses = 3

// ReActDriver implements spec §4.9.2 for providers without structured
// tool-calling: a static preamble plus a growing scratchpad, a fuzzy-XML
// parse of each turn, and self-healing recovery from a provider's 400
// rejection of a malformed turn.
//
// New code (the teacher's react.go drives structured function calls,
// not freeform tags) but grounded on that file's iteration/logging
// idiom and on agent/reasoning/plan_execute.go's phase bookkeeping and
// reflexion.go's draft-carrying loop for the session-state shape.
type ReActDriver struct {
	engine     StreamEngine
	dispatcher ToolDispatcher
	store      DraftPhaseStore
	logger     *zap.Logger
}

// NewReActDriver builds a ReActDriver.
func NewReActDriver(eng StreamEngine, dispatcher ToolDispatcher, store DraftPhaseStore, logger *zap.Logger) *ReActDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReActDriver{engine: eng, dispatcher: dispatcher, store: store, logger: logger}
}

// Run drives the ReAct loop, emitting chunks and a terminal StreamEnd.
func (d *ReActDriver) Run(ctx context.Context, sessionID string, chain []router.Profile, chatReq *providers.ChatRequest) <-chan Event {
	out := make(chan Event, 8)
	go d.run(ctx, sessionID, chain, chatReq, out)
	return out
}

func (d *ReActDriver) run(ctx context.Context, sessionID string, chain []router.Profile, chatReq *providers.ChatRequest, out chan<- Event) {
	defer close(out)

	preamble := buildPreamble(d.dispatcher.ActiveTools())
	conversation := conversationWithoutSystem(chatReq.Messages)
	scratchpad := strings.Builder{}
	emptyParses := 0
	priorRejected := false
	state := stateReady

	for iteration := 0; iteration < MaxAgentIterations; iteration++ {
		if state == stateFinal || state == stateFail {
			break
		}

		messages := append([]types.Message{types.NewSystemMessage(preamble)}, conversation...)
		if scratchpad.Len() > 0 {
			messages = append(messages, types.NewUserMessage(scratchpad.String()))
		}

		state = stateAwaitingLLM
		req := &engine.Request{
			Chain:   chain,
			ChatReq: &providers.ChatRequest{Model: chatReq.Model, Messages: messages},
		}

		raw, err := d.collectTurn(ctx, req, out)
		recoveredTurn := false
		if err != nil {
			var gwErr *types.Error
			if priorRejected || !errors.As(err, &gwErr) || gwErr.Code != types.ErrBadRequest {
				state = stateFail
				emit(ctx, out, Event{End: &StreamEnd{FinishReason: "error", Err: err}})
				return
			}
			// Self-healing: re-parse the error payload itself for
			// recoverable THOUGHT/ACTION/DRAFT/FINAL_ANSWER content.
			priorRejected = true
			recoveredTurn = true
			raw = err.Error()
		} else {
			priorRejected = false
		}

		state = stateParsing
		parsed := ParseResponse(raw)
		if len(parsed.Thoughts) == 0 && !parsed.HasAction && !parsed.HasFinal && !parsed.HasDraft {
			emptyParses++
			if emptyParses >= maxConsecutiveEmptyParses {
				state = stateFail
				emit(ctx, out, Event{End: &StreamEnd{FinishReason: "error", Err: fmt.Errorf("reasoning: %d consecutive empty parses", emptyParses)}})
				return
			}
			scratchpad.WriteString("\n(No recognizable THOUGHT, ACTION, DRAFT, or FINAL_ANSWER was found in your last reply. Continue.)\n")
			state = stateReady
			continue
		}
		emptyParses = 0

		for _, t := range parsed.Thoughts {
			scratchpad.WriteString(fmt.Sprintf("<THOUGHT title=%q>%s</THOUGHT>\n", t.Title, t.Content))
			if t.Title != "" {
				if n, ok := MaxPhase(t.Title); ok {
					d.maybeAdvancePhase(ctx, sessionID, n)
				}
			}
		}

		if parsed.HasDraft {
			scratchpad.WriteString(fmt.Sprintf("<DRAFT>%s</DRAFT>\n", parsed.Draft))
			if d.store != nil {
				if err := d.store.SetDraft(ctx, sessionID, parsed.Draft); err != nil {
					d.logger.Warn("reasoning: failed to persist draft", zap.Error(err))
				}
			}
		}

		if parsed.HasFinal {
			state = stateFinal
			emitContentRecovered(ctx, out, parsed.Final, recoveredTurn)
			emit(ctx, out, Event{End: &StreamEnd{FinishReason: "stop"}})
			return
		}

		if parsed.HasAction {
			state = stateReady
			observation := d.runAction(ctx, sessionID, parsed.Action)
			scratchpad.WriteString(fmt.Sprintf("<ACTION>%s</ACTION>\n<OBSERVATION>%s</OBSERVATION>\n", string(parsed.Action), observation))
			emitContentRecovered(ctx, out, fmt.Sprintf("\n<OBSERVATION>%s</OBSERVATION>\n", observation), recoveredTurn)
			continue
		}

		// Thoughts only, no action or final answer yet: stay in Ready
		// and let the next iteration continue the scratchpad.
		state = stateReady
	}

	if state != stateFinal && state != stateFail {
		emit(ctx, out, Event{End: &StreamEnd{FinishReason: "length", Err: fmt.Errorf("reasoning: exceeded %d agent iterations", MaxAgentIterations)}})
	}
}

// collectTurn drains one engine stream into a single string, relaying
// content chunks to the client as reasoning context per spec §4.9.2
// ("stream-echo to client"), and returns the assembled turn text.
func (d *ReActDriver) collectTurn(ctx context.Context, req *engine.Request, out chan<- Event) (string, error) {
	stream, err := d.engine.ExecuteStream(ctx, req)
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return builder.String(), chunk.Err
		}
		builder.WriteString(chunk.Delta.Content)
		if chunk.Delta.Content != "" {
			emitContent(ctx, out, chunk.Delta.Content)
		}
	}
	return builder.String(), nil
}

func (d *ReActDriver) maybeAdvancePhase(ctx context.Context, sessionID string, candidate int) {
	if d.store == nil {
		return
	}
	current, ok, err := d.store.GetPhase(ctx, sessionID)
	if err != nil {
		d.logger.Warn("reasoning: failed to read current phase", zap.Error(err))
		return
	}
	currentN := 0
	if ok {
		if n, found := MaxPhase(current); found {
			currentN = n
		}
	}
	if candidate > currentN {
		if err := d.store.SetPhase(ctx, sessionID, fmt.Sprintf("%d", candidate)); err != nil {
			d.logger.Warn("reasoning: failed to persist phase", zap.Error(err))
		}
	}
}

func (d *ReActDriver) runAction(ctx context.Context, sessionID string, action []byte) string {
	call, err := decodeAction(action)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	result := d.dispatcher.Dispatch(ctx, sessionID, call)
	if result.IsError() {
		return fmt.Sprintf(`{"error":%q}`, result.Error)
	}
	return string(result.Result)
}

func buildPreamble(active []toolorch.ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("You are an autonomous agent that reasons step by step using THOUGHT, DRAFT, ACTION, and FINAL_ANSWER tags.\n")
	b.WriteString("Emit <THOUGHT title=\"...\">...</THOUGHT> for internal reasoning, <DRAFT>...</DRAFT> to persist a running notebook, ")
	b.WriteString("<ACTION>{\"name\":\"tool\",\"arguments\":{...}}</ACTION> to invoke a tool, and <FINAL_ANSWER>...</FINAL_ANSWER> to finish.\n")
	b.WriteString(fmt.Sprintf("Current date: %s\n", time.Now().UTC().Format("2006-01-02")))
	if len(active) > 0 {
		b.WriteString("Available tools:\n")
		for _, t := range active {
			if !t.Enabled {
				continue
			}
			b.WriteString("- " + t.QualifiedName + ": " + t.Schema.Description + "\n")
		}
	}
	return b.String()
}

// conversationWithoutSystem strips any leading system message from the
// caller's seed messages since the ReAct driver builds its own dynamic
// system preamble fresh every iteration.
func conversationWithoutSystem(messages []types.Message) []types.Message {
	if len(messages) > 0 && messages[0].Role == types.RoleSystem {
		return append([]types.Message(nil), messages[1:]...)
	}
	return append([]types.Message(nil), messages...)
}

// decodeAction parses an <ACTION> payload of the shape
// {"name": "...", "arguments": {...}} into a dispatchable tool call.
// "tool_name" is accepted as an alias for "name".
func decodeAction(raw []byte) (types.ToolCall, error) {
	var action struct {
		Name      string          `json:"name"`
		ToolName  string          `json:"tool_name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &action); err != nil {
		return types.ToolCall{}, fmt.Errorf("malformed action payload: %w", err)
	}
	name := action.Name
	if name == "" {
		name = action.ToolName
	}
	if name == "" {
		return types.ToolCall{}, fmt.Errorf("action payload missing tool name")
	}
	args := action.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return types.ToolCall{ID: "react-" + name, Name: name, Arguments: args}, nil
}
