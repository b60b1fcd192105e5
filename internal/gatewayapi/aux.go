package gatewayapi

import (
	"net/http"

	"go.uber.org/zap"

	handlers "github.com/nexusgate/gateway/api/handlers"
	"github.com/nexusgate/gateway/types"
)

// AuxHandler serves the thin pass-through endpoints spec §6 calls
// auxiliary to chat completions: embeddings and the two audio routes.
// Each still resolves its model through the same Router/AliasResolver as
// chat completions, rather than bypassing routing, per SPEC_FULL.md's
// "thin pass-through via the same chain mechanism" requirement.
//
// Grounded on api/handlers/chat.go's request-validate/convert/respond
// shape, reused here for the non-chat routes instead of duplicating a
// second handler family per endpoint.
type AuxHandler struct {
	router AliasResolver
	engine StreamEngine
	logger *zap.Logger
}

// NewAuxHandler builds an AuxHandler.
func NewAuxHandler(router AliasResolver, eng StreamEngine, logger *zap.Logger) *AuxHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuxHandler{router: router, engine: eng, logger: logger}
}

// HandleEmbeddings serves POST /v1/embeddings.
func (h *AuxHandler) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handlers.WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !handlers.ValidateContentType(w, r, h.logger) {
		return
	}
	var req EmbeddingsRequest
	if err := handlers.DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Model == "" || len(req.Input) == 0 {
		handlers.WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "model and input are required", h.logger)
		return
	}

	chain, _, err := h.router.Resolve(r.Context(), req.Model)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	vectors, err := h.engine.ExecuteEmbed(r.Context(), chain, req.Input)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}

	resp := EmbeddingsResponse{Object: "list", Model: req.Model}
	for i, v := range vectors {
		resp.Data = append(resp.Data, EmbeddingDataItem{Object: "embedding", Index: i, Embedding: v})
	}
	handlers.WriteJSON(w, http.StatusOK, resp)
}

// HandleSpeech serves POST /v1/audio/speech.
func (h *AuxHandler) HandleSpeech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handlers.WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !handlers.ValidateContentType(w, r, h.logger) {
		return
	}
	var req AudioSpeechRequest
	if err := handlers.DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Model == "" || req.Input == "" {
		handlers.WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "model and input are required", h.logger)
		return
	}

	chain, _, err := h.router.Resolve(r.Context(), req.Model)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	audio, err := h.engine.ExecuteSpeech(r.Context(), chain, req.Input, req.Voice)
	if err != nil {
		writeGatewayError(w, err, h.logger)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// HandleTranscription serves POST /v1/audio/transcriptions. Audio
// adapters in this gateway don't implement speech-to-text (the spec's
// provider set is text/TTS-facing), so this endpoint is a documented
// stub: it does not read the request body and returns 501 for every POST
// rather than silently accepting audio it cannot transcribe.
func (h *AuxHandler) HandleTranscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handlers.WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	handlers.WriteErrorMessage(w, http.StatusNotImplemented, types.ErrInvalidRequest, "audio transcription is not implemented by any configured provider", h.logger)
}

// StubHandler answers a fixed set of auxiliary routes spec §6 names as
// out-of-core-scope (auth registration, user keys, MCP refresh, admin)
// with a consistent 501, so clients probing the full OpenAI-compatible
// surface get a clear signal instead of a 404.
func StubHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteErrorMessage(w, http.StatusNotImplemented, types.ErrInvalidRequest, "not implemented: "+r.URL.Path, logger)
	}
}
