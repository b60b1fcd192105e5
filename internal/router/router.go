// Package router resolves a requested alias to an ordered chain of
// provider/model profiles, rotating the head of the chain's main pool for
// load balancing and leaving the remainder as strict fallbacks.
//
// Grounded on llm/router/router.go's WeightedRouter / prefix-fast-path
// split: here the fast path is a literal alias lookup and the "weighted"
// path is main-pool rotation instead of scored candidate selection.
package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/rotation"
	"github.com/nexusgate/gateway/types"
)

// Profile is a resolved model profile: a provider + model name pair the
// Execution Engine can dispatch against. The profile's name is also the
// key under which its credential pool and adapter are registered.
type Profile struct {
	Name     string
	Provider string
	Model    string

	// Agent carries the optional reasoning-driver settings for this
	// profile, per SPEC_FULL.md §3's "Model Profile additionally
	// carries an optional AgentSettings struct" supplement: the
	// dispatcher decides whether (and how) to run an agent loop without
	// inspecting the request body.
	Agent AgentSettings
}

// ReasoningMode selects which reasoning driver (if any) wraps a
// profile's calls.
type ReasoningMode string

const (
	ReasoningModeNone        ReasoningMode = ""
	ReasoningModeNativeTools ReasoningMode = "native_tools"
	ReasoningModeReAct       ReasoningMode = "react"
)

// AgentSettings configures a profile's reasoning driver.
type AgentSettings struct {
	ReasoningMode ReasoningMode
	MaxIterations int
}

// Alias maps a requested model name to an ordered chain of profiles. When
// MainLength > 0 the leading MainLength entries form a rotated pool; the
// rest are strict fallbacks evaluated in order after the chosen pool
// member. MainLength == 0 (or 1) means the whole chain is sequential
// fallback with no pooling.
type Alias struct {
	Name       string
	Chain      []Profile
	MainLength int
	IsAgent    bool
}

// Registry supplies the alias table. Implementations may back it with a
// static config section or a hot-reloadable one.
type Registry interface {
	Lookup(name string) (Alias, bool)
	// List enumerates every registered alias, for GET /v1/models.
	List() []Alias
}

// StaticRegistry is a Registry over an in-memory map, the shape produced by
// config.Loader after parsing Gateway.Aliases.
type StaticRegistry struct {
	aliases map[string]Alias
	order   []string
}

// NewStaticRegistry builds a registry from a slice of aliases.
func NewStaticRegistry(aliases []Alias) *StaticRegistry {
	m := make(map[string]Alias, len(aliases))
	order := make([]string, 0, len(aliases))
	for _, a := range aliases {
		m[a.Name] = a
		order = append(order, a.Name)
	}
	return &StaticRegistry{aliases: m, order: order}
}

// List implements Registry, returning aliases in registration order.
func (r *StaticRegistry) List() []Alias {
	out := make([]Alias, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.aliases[name])
	}
	return out
}

// Lookup implements Registry.
func (r *StaticRegistry) Lookup(name string) (Alias, bool) {
	a, ok := r.aliases[name]
	return a, ok
}

// Router resolves aliases to an effective dispatch chain for a single
// request per spec §4.3.
type Router struct {
	registry Registry
	index    rotation.Index
	logger   *zap.Logger
}

// New builds a Router over registry, using index for main-pool rotation.
func New(registry Registry, index rotation.Index, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{registry: registry, index: index, logger: logger}
}

// ErrAliasNotFound is returned, wrapped in a *types.Error, when the
// requested alias has no registered chain. It is a terminal 404 for the
// caller, not retryable.
func newAliasNotFound(alias string) *types.Error {
	return types.NewError(types.ErrAliasNotFound, "model alias not found: "+alias).
		WithHTTPStatus(404).
		WithRetryable(false)
}

// Resolve returns the effective dispatch chain for alias: the chosen
// main-pool member (if any) followed by the strict fallbacks, per spec
// §4.3. The chain is never empty on success.
func (r *Router) Resolve(ctx context.Context, aliasName string) ([]Profile, bool, error) {
	alias, ok := r.registry.Lookup(aliasName)
	if !ok {
		return nil, false, newAliasNotFound(aliasName)
	}
	if len(alias.Chain) == 0 {
		return nil, false, newAliasNotFound(aliasName)
	}

	m := alias.MainLength
	if m <= 1 || m > len(alias.Chain) {
		// No pooling: the whole chain is sequential fallback.
		chain := make([]Profile, len(alias.Chain))
		copy(chain, alias.Chain)
		return chain, alias.IsAgent, nil
	}

	main := alias.Chain[:m]
	fallbacks := alias.Chain[m:]

	i, err := r.index.GetAndAdvance(ctx, "alias:"+aliasName, m)
	if err != nil {
		r.logger.Warn("router: rotation index failed, using slot 0",
			zap.String("alias", aliasName), zap.Error(err))
		i = 0
	}
	if i < 0 || i >= m {
		r.logger.Warn("router: rotation index out of bounds, falling back to slot 0",
			zap.String("alias", aliasName), zap.Int("index", i), zap.Int("main_length", m))
		i = 0
	}

	effective := make([]Profile, 0, 1+len(fallbacks))
	effective = append(effective, main[i])
	effective = append(effective, fallbacks...)
	return effective, alias.IsAgent, nil
}
