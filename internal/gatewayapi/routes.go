package gatewayapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/respcache"
)

// Deps bundles everything NewMux needs to wire the dispatch surface,
// kept as narrow interfaces (AliasResolver, AliasLister, StreamEngine,
// Native/ReActReasoningDriver) so internal/app can build them from its
// own concrete Router/Engine/reasoning.*Driver without this package
// importing the whole dependency graph.
type Deps struct {
	Resolver AliasResolver
	Lister   AliasLister
	Engine   StreamEngine
	Native   NativeReasoningDriver
	React    ReActReasoningDriver
	// Cache, if non-nil, serves/fills respcache entries for non-streaming,
	// non-agentic chat completions.
	Cache  *respcache.Cache
	Logger *zap.Logger
}

// AuthConfig configures BearerAuth and the per-IP RateLimiter, supplied
// by internal/app from the loaded config rather than hardcoded here.
type AuthConfig struct {
	ValidTokens    []string
	DisableAuth    bool
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewMux builds the full gatewayapi http.Handler: route registration per
// spec §6 over a plain http.ServeMux (grounded on
// cmd/agentflow/server.go's startHTTPServer), wrapped in the middleware
// chain.
func NewMux(ctx context.Context, deps Deps, auth AuthConfig) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	chat := NewChatHandler(deps.Resolver, deps.Engine, deps.Native, deps.React, deps.Cache, logger)
	models := NewModelsHandler(deps.Lister)
	aux := NewAuxHandler(deps.Resolver, deps.Engine, logger)
	stub := StubHandler(logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", chat.HandleCompletion)
	mux.HandleFunc("/v1/models", models.HandleList)
	mux.HandleFunc("/v1/embeddings", aux.HandleEmbeddings)
	mux.HandleFunc("/v1/audio/speech", aux.HandleSpeech)
	mux.HandleFunc("/v1/audio/transcriptions", aux.HandleTranscription)

	mux.HandleFunc("/v1/auth/register", stub)
	mux.HandleFunc("/v1/user/keys", stub)
	mux.HandleFunc("/v1/user/me", stub)
	mux.HandleFunc("/v1/mcp/refresh", stub)
	mux.HandleFunc("/admin/", stub)

	skipAuth := []string{"/v1/models"}
	return Chain(mux,
		Recovery(logger),
		RequestID(),
		RequestLogger(logger),
		SecurityHeaders(),
		CORS(auth.AllowedOrigins),
		RateLimiter(ctx, auth.RateLimitRPS, auth.RateLimitBurst),
		BearerAuth(auth.ValidTokens, skipAuth, auth.DisableAuth, logger),
	)
}
