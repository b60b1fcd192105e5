package gatewayapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	handlers "github.com/nexusgate/gateway/api/handlers"
	"github.com/nexusgate/gateway/internal/ctxkeys"
	"github.com/nexusgate/gateway/internal/engine"
	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/internal/reasoning"
	"github.com/nexusgate/gateway/internal/respcache"
	"github.com/nexusgate/gateway/internal/router"
	"github.com/nexusgate/gateway/types"
)

// ChatHandler serves POST /v1/chat/completions per spec §6: one route,
// `stream` in the body selects unary-JSON vs SSE, and the resolved
// profile chain's lead Agent.ReasoningMode selects which of the three
// execution paths (plain engine call, native tool-calling, ReAct)
// actually answers the request.
//
// Grounded on api/handlers/chat.go's HandleCompletion/HandleStream split
// (SSE writer loop, flusher.Flush, `data: [DONE]\n\n` terminator,
// `event: error` frame) generalized from a single injected provider to
// the Router/Engine/Reasoning pipeline.
type ChatHandler struct {
	router AliasResolver
	engine StreamEngine
	native NativeReasoningDriver
	react  ReActReasoningDriver
	cache  *respcache.Cache
	logger *zap.Logger
}

// NewChatHandler builds a ChatHandler. cache may be nil, which disables
// response caching for this handler entirely.
func NewChatHandler(router AliasResolver, eng StreamEngine, native NativeReasoningDriver, react ReActReasoningDriver, cache *respcache.Cache, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{router: router, engine: eng, native: native, react: react, cache: cache, logger: logger}
}

// HandleCompletion dispatches unary or streaming based on req.Stream.
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handlers.WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !handlers.ValidateContentType(w, r, h.logger) {
		return
	}

	var req ChatCompletionRequest
	if err := handlers.DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		handlers.WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "model and messages are required", h.logger)
		return
	}
	req.UserAPIKey = bearerOverride(r)

	chain, _, err := h.router.Resolve(r.Context(), req.Model)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}

	chatReq := toProviderRequest(&req)
	sessionID := RequestIDFromContext(r.Context())
	if sessionID == "" {
		sessionID = "anon"
	}
	ctx := ctxkeys.WithRunID(r.Context(), sessionID)
	ctx = ctxkeys.WithLLMModel(ctx, chatReq.Model)

	if req.Stream {
		h.handleStream(ctx, w, chain, chatReq, sessionID)
		return
	}
	h.handleUnary(ctx, w, chain, chatReq, sessionID)
}

// fingerprintFor computes the response-cache key for a non-streaming,
// non-agentic request. A user-supplied key bypasses the shared pool (spec
// §9 OQ1) and must never be cached alongside pool-served responses, so
// fingerprintFor returns "" whenever chatReq carries one.
func (h *ChatHandler) fingerprintFor(chain []router.Profile, chatReq *providers.ChatRequest) string {
	if len(chain) == 0 || chatReq.Metadata["user_api_key"] != "" {
		return ""
	}
	msgs := make([]respcache.FingerprintMessage, len(chatReq.Messages))
	for i, m := range chatReq.Messages {
		msgs[i] = respcache.FingerprintMessage{Role: string(m.Role), Content: m.Content}
	}
	return respcache.Fingerprint(respcache.FingerprintInput{
		ProfileName: chain[0].Name,
		Model:       chatReq.Model,
		Messages:    msgs,
		Temperature: chatReq.Temperature,
		TopP:        chatReq.TopP,
		MaxTokens:   chatReq.MaxTokens,
		Stop:        chatReq.Stop,
		JSONMode:    chatReq.JSONMode,
	})
}

func (h *ChatHandler) leadMode(chain []router.Profile) router.ReasoningMode {
	if len(chain) == 0 {
		return router.ReasoningModeNone
	}
	return chain[0].Agent.ReasoningMode
}

func (h *ChatHandler) handleUnary(ctx context.Context, w http.ResponseWriter, chain []router.Profile, chatReq *providers.ChatRequest, sessionID string) {
	mode := h.leadMode(chain)

	if mode == router.ReasoningModeNone {
		fingerprint := h.fingerprintFor(chain, chatReq)
		if h.cache != nil && fingerprint != "" {
			if cached, err := h.cache.Get(ctx, fingerprint); err == nil {
				handlers.WriteJSON(w, http.StatusOK, fromProviderResponse(cached))
				return
			}
		}
		resp, err := h.engine.ExecuteUnary(ctx, &engine.Request{Chain: chain, ChatReq: chatReq, UserAPIKey: chatReq.Metadata["user_api_key"]})
		if err != nil {
			writeGatewayError(w, err, h.logger)
			return
		}
		if h.cache != nil && fingerprint != "" {
			if err := h.cache.Set(ctx, fingerprint, resp); err != nil {
				h.logger.Warn("respcache set failed", zap.Error(err))
			}
		}
		handlers.WriteJSON(w, http.StatusOK, fromProviderResponse(resp))
		return
	}

	events := h.runDriver(ctx, mode, sessionID, chain, chatReq)
	if events == nil {
		handlers.WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "no reasoning driver configured for this profile", h.logger)
		return
	}

	var content, reasoningContent string
	var finishReason string
	var usage *providers.ChatUsage
	var streamErr error
	for ev := range events {
		if ev.Chunk != nil {
			content += ev.Chunk.Delta.Content
			reasoningContent += ev.Chunk.Delta.ReasoningContent
		}
		if ev.End != nil {
			finishReason = ev.End.FinishReason
			usage = ev.End.Usage
			streamErr = ev.End.Err
		}
	}
	if streamErr != nil && content == "" {
		writeGatewayError(w, streamErr, h.logger)
		return
	}

	msg := types.NewAssistantMessage(content)
	msg.ReasoningContent = reasoningContent
	resp := ChatCompletionResponse{
		ID:      newID("chatcmpl"),
		Object:  "chat.completion",
		Model:   chatReq.Model,
		Choices: []ChatCompletionChoice{{Index: 0, Message: msg, FinishReason: finishReason}},
	}
	if usage != nil {
		resp.Usage = &ChatCompletionUsage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, TotalTokens: usage.TotalTokens}
	}
	handlers.WriteJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) handleStream(ctx context.Context, w http.ResponseWriter, chain []router.Profile, chatReq *providers.ChatRequest, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		handlers.WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming unsupported", h.logger)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	bw := bufio.NewWriter(w)

	mode := h.leadMode(chain)
	id := newID("chatcmpl")

	writeChunk := func(choice ChatCompletionChunkChoice) {
		chunk := ChatCompletionChunk{ID: id, Object: "chat.completion.chunk", Model: chatReq.Model, Choices: []ChatCompletionChunkChoice{choice}}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(bw, "data: %s\n\n", b)
		bw.Flush()
		flusher.Flush()
	}
	writeSSEError := func(err error) {
		b, _ := json.Marshal(map[string]string{"message": err.Error()})
		fmt.Fprintf(bw, "event: error\ndata: %s\n\n", b)
		bw.Flush()
		flusher.Flush()
	}
	done := func() {
		fmt.Fprint(bw, "data: [DONE]\n\n")
		bw.Flush()
		flusher.Flush()
	}

	if mode == router.ReasoningModeNone {
		stream, err := h.engine.ExecuteStream(ctx, &engine.Request{Chain: chain, ChatReq: chatReq})
		if err != nil {
			writeSSEError(err)
			done()
			return
		}
		for c := range stream {
			if c.Err != nil {
				writeSSEError(c.Err)
				break
			}
			writeChunk(ChatCompletionChunkChoice{Index: 0, Delta: c.Delta, FinishReason: c.FinishReason})
		}
		done()
		return
	}

	events := h.runDriver(ctx, mode, sessionID, chain, chatReq)
	if events == nil {
		writeSSEError(fmt.Errorf("no reasoning driver configured for this profile"))
		done()
		return
	}
	for ev := range events {
		if ev.Chunk != nil {
			writeChunk(ChatCompletionChunkChoice{Index: 0, Delta: ev.Chunk.Delta})
		}
		if ev.End != nil {
			if ev.End.Err != nil {
				writeSSEError(ev.End.Err)
			} else {
				writeChunk(ChatCompletionChunkChoice{Index: 0, Delta: types.Message{}, FinishReason: ev.End.FinishReason})
			}
		}
	}
	done()
}

func (h *ChatHandler) runDriver(ctx context.Context, mode router.ReasoningMode, sessionID string, chain []router.Profile, chatReq *providers.ChatRequest) <-chan reasoning.Event {
	switch mode {
	case router.ReasoningModeNativeTools:
		if h.native == nil {
			return nil
		}
		return h.native.Run(ctx, sessionID, chain, chatReq)
	case router.ReasoningModeReAct:
		if h.react == nil {
			return nil
		}
		return h.react.Run(ctx, sessionID, chain, chatReq)
	default:
		return nil
	}
}

func bearerOverride(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("X-Upstream-API-Key"), "Bearer ")
}

func toProviderRequest(req *ChatCompletionRequest) *providers.ChatRequest {
	cr := &providers.ChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	}
	if req.UserAPIKey != "" {
		cr.Metadata = map[string]string{"user_api_key": req.UserAPIKey}
	}
	return cr
}

func fromProviderResponse(resp *providers.ChatResponse) ChatCompletionResponse {
	out := ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.CreatedAt.Unix(),
		Model:   resp.Model,
		Usage: &ChatCompletionUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, ChatCompletionChoice{Index: c.Index, Message: c.Message, FinishReason: c.FinishReason})
	}
	return out
}

// writeGatewayError maps an engine/router error to spec §7's error-kind
// table via api/handlers/common.go's existing WriteError/status mapping.
func writeGatewayError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if gwErr, ok := err.(*types.Error); ok {
		handlers.WriteError(w, gwErr, logger)
		return
	}
	handlers.WriteError(w, types.NewError(types.ErrInternalError, err.Error()).WithCause(err), logger)
}
