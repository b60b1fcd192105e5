package gatewayapi

import (
	"context"

	"github.com/nexusgate/gateway/internal/engine"
	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/internal/reasoning"
	"github.com/nexusgate/gateway/internal/router"
)

// AliasResolver is the subset of internal/router.Router the gateway API
// depends on.
type AliasResolver interface {
	Resolve(ctx context.Context, aliasName string) ([]router.Profile, bool, error)
}

// AliasLister enumerates the runnable aliases for GET /v1/models. It is
// satisfied directly by router.Registry.
type AliasLister interface {
	List() []router.Alias
}

var _ AliasLister = router.Registry(nil)

// StreamEngine is the subset of internal/engine.Engine the non-agent
// path calls directly.
type StreamEngine interface {
	ExecuteUnary(ctx context.Context, req *engine.Request) (*providers.ChatResponse, error)
	ExecuteStream(ctx context.Context, req *engine.Request) (<-chan providers.StreamChunk, error)
	ExecuteEmbed(ctx context.Context, chain []router.Profile, input []string) ([][]float32, error)
	ExecuteSpeech(ctx context.Context, chain []router.Profile, text, voice string) ([]byte, error)
}

// NativeReasoningDriver is the subset of reasoning.NativeDriver the
// handler needs.
type NativeReasoningDriver interface {
	Run(ctx context.Context, sessionID string, chain []router.Profile, chatReq *providers.ChatRequest) <-chan reasoning.Event
}

// ReActReasoningDriver is the subset of reasoning.ReActDriver the
// handler needs. Its Run signature is identical to the native driver's,
// so both satisfy the same interface shape; kept as two named types for
// call-site clarity about which driver is selected.
type ReActReasoningDriver interface {
	Run(ctx context.Context, sessionID string, chain []router.Profile, chatReq *providers.ChatRequest) <-chan reasoning.Event
}
