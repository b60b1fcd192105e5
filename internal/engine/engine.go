// Package engine implements the key-scoped retry loop that dispatches a
// resolved profile chain against the credential pool and provider
// adapters, interpreting each outcome per the key lifecycle protocol.
//
// Grounded on llm/retry/backoff.go's attempt-loop shape (attempt count,
// logged retries, ctx-aware waiting) and llm/circuitbreaker/breaker.go's
// state-checked call wrapper, generalized into the tagged-result control
// flow spec.md §9 calls for ("Exceptions for control flow"): a profile
// attempt resolves to one of release-and-return, quarantine-and-continue,
// retire-and-continue, or release-and-raise.
package engine

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/credential"
	"github.com/nexusgate/gateway/internal/ctxkeys"
	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/internal/router"
	"github.com/nexusgate/gateway/types"
)

// Pools resolves the credential pool registered for a provider name. nil
// means the provider has no gateway-managed pool (always ProviderUnavailable).
type Pools interface {
	Pool(provider string) (*credential.Pool, bool)
}

// Adapters resolves the provider.Adapter registered for a provider name.
type Adapters interface {
	Adapter(provider string) (providers.Adapter, bool)
}

// StaticRegistry is the simplest Pools/Adapters implementation, backing
// both off in-memory maps built at startup by internal/app.
type StaticRegistry struct {
	pools    map[string]*credential.Pool
	adapters map[string]providers.Adapter
}

// NewStaticRegistry builds a registry from the given maps.
func NewStaticRegistry(pools map[string]*credential.Pool, adapters map[string]providers.Adapter) *StaticRegistry {
	return &StaticRegistry{pools: pools, adapters: adapters}
}

// Pool implements Pools.
func (r *StaticRegistry) Pool(provider string) (*credential.Pool, bool) {
	p, ok := r.pools[provider]
	return p, ok
}

// Adapter implements Adapters.
func (r *StaticRegistry) Adapter(provider string) (providers.Adapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}

// Engine dispatches a resolved chain of router.Profile entries against the
// credential pool and provider adapters, per spec §4.5.
type Engine struct {
	pools    Pools
	adapters Adapters
	logger   *zap.Logger
}

// New builds an Engine.
func New(pools Pools, adapters Adapters, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{pools: pools, adapters: adapters, logger: logger}
}

// Request bundles a chat request with the optional user-supplied key
// override per spec §4.5 "User key override".
type Request struct {
	Chain      []router.Profile
	ChatReq    *providers.ChatRequest
	UserAPIKey string
}

func newProviderUnavailable(provider string) *types.Error {
	return types.NewError(types.ErrProviderUnavailable, "provider unavailable: "+provider).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true).
		WithProvider(provider)
}

// outcome tags how a single (profile, key) attempt should be treated,
// mirroring spec §4.5's 2xx/429/401/403/5xx/400 table.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeContinueSameProfile
	outcomeAdvanceProfile
	outcomeFatal
)

func classify(err error) (outcome, *types.Error) {
	if err == nil {
		return outcomeSuccess, nil
	}
	gwErr, ok := err.(*types.Error)
	if !ok {
		return outcomeAdvanceProfile, types.NewError(types.ErrUpstreamError, err.Error()).WithCause(err).WithRetryable(true)
	}
	switch {
	case gwErr.HTTPStatus == http.StatusTooManyRequests:
		return outcomeAdvanceProfile, gwErr
	case gwErr.HTTPStatus == http.StatusUnauthorized || gwErr.HTTPStatus == http.StatusForbidden:
		return outcomeContinueSameProfile, gwErr
	case gwErr.HTTPStatus >= 500:
		return outcomeContinueSameProfile, gwErr
	case gwErr.HTTPStatus == http.StatusBadRequest:
		return outcomeFatal, gwErr
	default:
		return outcomeAdvanceProfile, gwErr
	}
}

// attemptKey resolves the API key to use for one attempt against profile:
// the user override if present (bypassing the pool entirely, one attempt,
// no rotation/quarantine), otherwise an acquired pool key. err is non-nil
// when no key could be obtained this attempt (no pool, pool exhausted or
// acquire timeout), in which case the caller should advance to the next profile.
func (e *Engine) attemptKey(ctx context.Context, profile router.Profile, userKey string) (key string, fromPool bool, err error) {
	if userKey != "" {
		return userKey, false, nil
	}
	pool, ok := e.pools.Pool(profile.Provider)
	if !ok {
		return "", false, newProviderUnavailable(profile.Provider)
	}
	key, err = pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrAcquireTimeout) || errors.Is(err, credential.ErrProviderUnavailable) {
			return "", false, newProviderUnavailable(profile.Provider)
		}
		return "", false, err
	}
	return key, true, nil
}

// ExecuteUnary runs the non-streaming attempt loop across req.Chain. It
// returns the first successful response, or the last fatal/terminal error
// if every profile and every key attempt within it was exhausted.
func (e *Engine) ExecuteUnary(ctx context.Context, req *Request) (*providers.ChatResponse, error) {
	var lastErr error

	for _, profile := range req.Chain {
		adapter, ok := e.adapters.Adapter(profile.Provider)
		if !ok {
			lastErr = newProviderUnavailable(profile.Provider)
			continue
		}

		pool, hasPool := e.pools.Pool(profile.Provider)
		maxAttempts := 1
		if req.UserAPIKey == "" && hasPool {
			maxAttempts = pool.TotalKeys() + 1
		}
		if maxAttempts < 1 {
			maxAttempts = 1
		}

		advanceProfile := false
		for attempt := 0; attempt < maxAttempts; attempt++ {
			key, fromPool, err := e.attemptKey(ctx, profile, req.UserAPIKey)
			if err != nil {
				lastErr = err
				advanceProfile = true
				break
			}

			chatReq := *req.ChatReq
			chatReq.Model = profile.Model
			resp, callErr := adapter.ChatUnary(ctx, key, &chatReq)

			outc, gwErr := classify(callErr)
			switch outc {
			case outcomeSuccess:
				if fromPool {
					pool.Release(key)
				}
				return resp, nil
			case outcomeContinueSameProfile:
				if fromPool {
					if gwErr.Code == types.ErrAuthentication {
						pool.Retire(ctx, key, gwErr.Message)
					} else {
						pool.Quarantine(ctx, key, gwErr.Message, 0)
					}
				}
				lastErr = gwErr
				fields := []zap.Field{
					zap.String("provider", profile.Provider), zap.String("model", profile.Model), zap.Error(gwErr),
				}
				if runID, ok := ctxkeys.RunID(ctx); ok {
					fields = append(fields, zap.String("run_id", runID))
				}
				e.logger.Warn("engine: retrying profile with another key", fields...)
				continue
			case outcomeAdvanceProfile:
				if fromPool {
					pool.Quarantine(ctx, key, gwErr.Message, 0)
				}
				lastErr = gwErr
				advanceProfile = true
			case outcomeFatal:
				if fromPool {
					pool.Release(key)
				}
				return nil, gwErr
			}
			if advanceProfile {
				break
			}
		}
	}

	if lastErr == nil {
		lastErr = newProviderUnavailable("")
	}
	return nil, lastErr
}

// ExecuteStream runs the peek-first-chunk state machine of spec §4.5: a
// pre-first-byte failure silently advances to the next profile, while any
// failure after the first chunk has been emitted terminates the stream
// (bytes have already been committed to the client).
func (e *Engine) ExecuteStream(ctx context.Context, req *Request) (<-chan providers.StreamChunk, error) {
	var lastErr error

	for _, profile := range req.Chain {
		adapter, ok := e.adapters.Adapter(profile.Provider)
		if !ok {
			lastErr = newProviderUnavailable(profile.Provider)
			continue
		}

		pool, hasPool := e.pools.Pool(profile.Provider)
		maxAttempts := 1
		if req.UserAPIKey == "" && hasPool {
			maxAttempts = pool.TotalKeys() + 1
		}
		if maxAttempts < 1 {
			maxAttempts = 1
		}

		for attempt := 0; attempt < maxAttempts; attempt++ {
			key, fromPool, err := e.attemptKey(ctx, profile, req.UserAPIKey)
			if err != nil {
				lastErr = err
				break
			}

			chatReq := *req.ChatReq
			chatReq.Model = profile.Model
			upstream, openErr := adapter.ChatStream(ctx, key, &chatReq)

			outc, gwErr := classify(openErr)
			switch outc {
			case outcomeSuccess:
				// fallthrough into the peek below
			case outcomeContinueSameProfile:
				if fromPool {
					if gwErr.Code == types.ErrAuthentication {
						pool.Retire(ctx, key, gwErr.Message)
					} else {
						pool.Quarantine(ctx, key, gwErr.Message, 0)
					}
				}
				lastErr = gwErr
				continue
			case outcomeAdvanceProfile:
				if fromPool {
					pool.Quarantine(ctx, key, gwErr.Message, 0)
				}
				lastErr = gwErr
				goto nextProfile
			case outcomeFatal:
				if fromPool {
					pool.Release(key)
				}
				return nil, gwErr
			}

			first, hasFirst, peekErr := peekFirst(ctx, upstream)
			if peekErr != nil {
				// Pre-first-byte failure: silently advance, same as a
				// failed connect attempt.
				pOutc, pErr := classify(peekErr)
				if fromPool {
					if pOutc == outcomeContinueSameProfile {
						if pErr.Code == types.ErrAuthentication {
							pool.Retire(ctx, key, pErr.Message)
						} else {
							pool.Quarantine(ctx, key, pErr.Message, 0)
						}
					} else {
						pool.Quarantine(ctx, key, pErr.Message, 0)
					}
				}
				lastErr = pErr
				if pOutc == outcomeContinueSameProfile {
					continue
				}
				goto nextProfile
			}

			// First chunk committed: release the key now (its lease has
			// done its job) and hand the caller a channel that relays the
			// buffered first chunk followed by the rest of upstream
			// unchanged. Any failure from here terminates the stream.
			if fromPool {
				pool.Release(key)
			}
			if !hasFirst {
				return closedStream(), nil
			}
			return relay(ctx, first, upstream), nil
		}
	nextProfile:
		continue
	}

	if lastErr == nil {
		lastErr = newProviderUnavailable("")
	}
	return nil, lastErr
}

// peekFirst pulls the first chunk off upstream. An Err-carrying chunk is
// surfaced as a Go error so the caller can classify and decide whether to
// fall back silently; any other chunk is returned for relay.
func peekFirst(ctx context.Context, upstream <-chan providers.StreamChunk) (providers.StreamChunk, bool, error) {
	select {
	case chunk, ok := <-upstream:
		if !ok {
			return providers.StreamChunk{}, false, nil
		}
		if chunk.Err != nil {
			return providers.StreamChunk{}, false, chunk.Err
		}
		return chunk, true, nil
	case <-ctx.Done():
		return providers.StreamChunk{}, false, ctx.Err()
	}
}

// relay emits the already-pulled first chunk, then forwards the rest of
// upstream unchanged on a fresh channel.
func relay(ctx context.Context, first providers.StreamChunk, upstream <-chan providers.StreamChunk) <-chan providers.StreamChunk {
	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		select {
		case out <- first:
		case <-ctx.Done():
			return
		}
		for chunk := range upstream {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Err != nil {
				return
			}
		}
	}()
	return out
}

func closedStream() <-chan providers.StreamChunk {
	ch := make(chan providers.StreamChunk)
	close(ch)
	return ch
}

// ExecuteEmbed runs the same attempt loop as ExecuteUnary against
// Adapter.Embed, for the embeddings pass-through per spec §6.
func (e *Engine) ExecuteEmbed(ctx context.Context, chain []router.Profile, input []string) ([][]float32, error) {
	var lastErr error
	for _, profile := range chain {
		adapter, ok := e.adapters.Adapter(profile.Provider)
		if !ok {
			lastErr = newProviderUnavailable(profile.Provider)
			continue
		}
		pool, hasPool := e.pools.Pool(profile.Provider)
		maxAttempts := 1
		if hasPool {
			maxAttempts = pool.TotalKeys() + 1
		}
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		for attempt := 0; attempt < maxAttempts; attempt++ {
			key, fromPool, err := e.attemptKey(ctx, profile, "")
			if err != nil {
				lastErr = err
				break
			}
			vectors, callErr := adapter.Embed(ctx, key, input, profile.Model)
			outc, gwErr := classify(callErr)
			switch outc {
			case outcomeSuccess:
				if fromPool {
					pool.Release(key)
				}
				return vectors, nil
			case outcomeContinueSameProfile:
				if fromPool {
					if gwErr.Code == types.ErrAuthentication {
						pool.Retire(ctx, key, gwErr.Message)
					} else {
						pool.Quarantine(ctx, key, gwErr.Message, 0)
					}
				}
				lastErr = gwErr
				continue
			case outcomeFatal:
				if fromPool {
					pool.Release(key)
				}
				return nil, gwErr
			default:
				if fromPool {
					pool.Quarantine(ctx, key, gwErr.Message, 0)
				}
				lastErr = gwErr
			}
			break
		}
	}
	if lastErr == nil {
		lastErr = newProviderUnavailable("")
	}
	return nil, lastErr
}

// ExecuteSpeech runs the same attempt loop against Adapter.TTS, for the
// audio/speech pass-through per spec §6.
func (e *Engine) ExecuteSpeech(ctx context.Context, chain []router.Profile, text, voice string) ([]byte, error) {
	var lastErr error
	for _, profile := range chain {
		adapter, ok := e.adapters.Adapter(profile.Provider)
		if !ok {
			lastErr = newProviderUnavailable(profile.Provider)
			continue
		}
		pool, hasPool := e.pools.Pool(profile.Provider)
		maxAttempts := 1
		if hasPool {
			maxAttempts = pool.TotalKeys() + 1
		}
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		for attempt := 0; attempt < maxAttempts; attempt++ {
			key, fromPool, err := e.attemptKey(ctx, profile, "")
			if err != nil {
				lastErr = err
				break
			}
			audio, callErr := adapter.TTS(ctx, key, text, voice)
			outc, gwErr := classify(callErr)
			switch outc {
			case outcomeSuccess:
				if fromPool {
					pool.Release(key)
				}
				return audio, nil
			case outcomeContinueSameProfile:
				if fromPool {
					if gwErr.Code == types.ErrAuthentication {
						pool.Retire(ctx, key, gwErr.Message)
					} else {
						pool.Quarantine(ctx, key, gwErr.Message, 0)
					}
				}
				lastErr = gwErr
				continue
			case outcomeFatal:
				if fromPool {
					pool.Release(key)
				}
				return nil, gwErr
			default:
				if fromPool {
					pool.Quarantine(ctx, key, gwErr.Message, 0)
				}
				lastErr = gwErr
			}
			break
		}
	}
	if lastErr == nil {
		lastErr = newProviderUnavailable("")
	}
	return nil, lastErr
}
