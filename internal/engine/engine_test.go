package engine

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusgate/gateway/internal/credential"
	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/internal/router"
	"github.com/nexusgate/gateway/types"
)

// scriptedAdapter replays a fixed sequence of ChatUnary/ChatStream
// outcomes, one per call, so tests can drive the engine through a precise
// sequence of lifecycle transitions.
type scriptedAdapter struct {
	name           string
	unaryScript    []func() (*providers.ChatResponse, error)
	streamScript   []func() (<-chan providers.StreamChunk, error)
	unaryCalls     int
	streamCalls    int
	calledWithKeys []string
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) ChatUnary(_ context.Context, apiKey string, _ *providers.ChatRequest) (*providers.ChatResponse, error) {
	a.calledWithKeys = append(a.calledWithKeys, apiKey)
	fn := a.unaryScript[a.unaryCalls]
	a.unaryCalls++
	return fn()
}

func (a *scriptedAdapter) ChatStream(_ context.Context, apiKey string, _ *providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	a.calledWithKeys = append(a.calledWithKeys, apiKey)
	fn := a.streamScript[a.streamCalls]
	a.streamCalls++
	return fn()
}

func (a *scriptedAdapter) Embed(context.Context, string, []string, string) ([][]float32, error) {
	return nil, providers.ErrUnsupportedOperation
}
func (a *scriptedAdapter) TTS(context.Context, string, string, string) ([]byte, error) {
	return nil, providers.ErrUnsupportedOperation
}
func (a *scriptedAdapter) ListModels(context.Context, string) ([]providers.Model, error) {
	return nil, nil
}

func okResponse() (*providers.ChatResponse, error) {
	return &providers.ChatResponse{ID: "ok"}, nil
}

func errResponse(status int, code types.ErrorCode) func() (*providers.ChatResponse, error) {
	return func() (*providers.ChatResponse, error) {
		return nil, types.NewError(code, "boom").WithHTTPStatus(status).WithRetryable(status >= 500 || status == 429)
	}
}

func newPool(t *testing.T, provider string, keys ...string) *credential.Pool {
	t.Helper()
	p := credential.New(provider, nil)
	p.Seed(keys, credential.TierPaid)
	return p
}

func registry(pools map[string]*credential.Pool, adapters map[string]providers.Adapter) *StaticRegistry {
	return NewStaticRegistry(pools, adapters)
}

func TestExecuteUnary_SuccessOnFirstProfile(t *testing.T) {
	pool := newPool(t, "openai", "k1")
	adapter := &scriptedAdapter{name: "openai", unaryScript: []func() (*providers.ChatResponse, error){okResponse}}
	reg := registry(map[string]*credential.Pool{"openai": pool}, map[string]providers.Adapter{"openai": adapter})
	eng := New(reg, reg, nil)

	req := &Request{
		Chain:   []router.Profile{{Name: "p1", Provider: "openai", Model: "gpt-4o"}},
		ChatReq: &providers.ChatRequest{},
	}
	resp, err := eng.ExecuteUnary(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ID)
	assert.Equal(t, credential.Stats{Available: 1, TotalKeys: 1}, pool.Snapshot())
}

func TestExecuteUnary_RateLimitQuarantinesAndAdvancesProfile(t *testing.T) {
	poolA := newPool(t, "a", "ka")
	poolB := newPool(t, "b", "kb")
	adapterA := &scriptedAdapter{name: "a", unaryScript: []func() (*providers.ChatResponse, error){errResponse(http.StatusTooManyRequests, types.ErrRateLimited)}}
	adapterB := &scriptedAdapter{name: "b", unaryScript: []func() (*providers.ChatResponse, error){okResponse}}

	reg := registry(
		map[string]*credential.Pool{"a": poolA, "b": poolB},
		map[string]providers.Adapter{"a": adapterA, "b": adapterB},
	)
	eng := New(reg, reg, nil)

	req := &Request{
		Chain: []router.Profile{
			{Name: "p1", Provider: "a", Model: "m1"},
			{Name: "p2", Provider: "b", Model: "m2"},
		},
		ChatReq: &providers.ChatRequest{},
	}
	resp, err := eng.ExecuteUnary(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ID)

	statsA := poolA.Snapshot()
	assert.Equal(t, 1, statsA.Quarantined)
	assert.Equal(t, 0, statsA.Available)
}

func TestExecuteUnary_AuthErrorRetiresKeyAndRetriesSameProfile(t *testing.T) {
	pool := newPool(t, "openai", "bad-key", "good-key")
	adapter := &scriptedAdapter{
		name: "openai",
		unaryScript: []func() (*providers.ChatResponse, error){
			errResponse(http.StatusUnauthorized, types.ErrAuthentication),
			okResponse,
		},
	}
	reg := registry(map[string]*credential.Pool{"openai": pool}, map[string]providers.Adapter{"openai": adapter})
	eng := New(reg, reg, nil)

	req := &Request{
		Chain:   []router.Profile{{Name: "p1", Provider: "openai", Model: "gpt-4o"}},
		ChatReq: &providers.ChatRequest{},
	}
	resp, err := eng.ExecuteUnary(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ID)

	stats := pool.Snapshot()
	assert.Equal(t, 1, stats.Retired)
	assert.Equal(t, 1, stats.TotalKeys)
}

func TestExecuteUnary_BadRequestIsFatalAndReleasesKey(t *testing.T) {
	pool := newPool(t, "openai", "k1")
	adapter := &scriptedAdapter{name: "openai", unaryScript: []func() (*providers.ChatResponse, error){errResponse(http.StatusBadRequest, types.ErrBadRequest)}}
	reg := registry(map[string]*credential.Pool{"openai": pool}, map[string]providers.Adapter{"openai": adapter})
	eng := New(reg, reg, nil)

	req := &Request{
		Chain:   []router.Profile{{Name: "p1", Provider: "openai", Model: "gpt-4o"}},
		ChatReq: &providers.ChatRequest{},
	}
	_, err := eng.ExecuteUnary(context.Background(), req)
	require.Error(t, err)
	gwErr := err.(*types.Error)
	assert.Equal(t, types.ErrBadRequest, gwErr.Code)

	stats := pool.Snapshot()
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 0, stats.Quarantined)
}

func TestExecuteUnary_ExhaustsAllProfilesReturnsLastError(t *testing.T) {
	poolA := newPool(t, "a", "ka")
	poolB := newPool(t, "b", "kb")
	adapterA := &scriptedAdapter{name: "a", unaryScript: []func() (*providers.ChatResponse, error){errResponse(http.StatusTooManyRequests, types.ErrRateLimited)}}
	adapterB := &scriptedAdapter{name: "b", unaryScript: []func() (*providers.ChatResponse, error){errResponse(http.StatusTooManyRequests, types.ErrRateLimited)}}

	reg := registry(
		map[string]*credential.Pool{"a": poolA, "b": poolB},
		map[string]providers.Adapter{"a": adapterA, "b": adapterB},
	)
	eng := New(reg, reg, nil)

	req := &Request{
		Chain: []router.Profile{
			{Name: "p1", Provider: "a", Model: "m1"},
			{Name: "p2", Provider: "b", Model: "m2"},
		},
		ChatReq: &providers.ChatRequest{},
	}
	_, err := eng.ExecuteUnary(context.Background(), req)
	require.Error(t, err)
	gwErr := err.(*types.Error)
	assert.Equal(t, types.ErrRateLimited, gwErr.Code)
}

func TestExecuteUnary_UserKeyOverrideBypassesPoolSingleAttempt(t *testing.T) {
	pool := newPool(t, "openai", "system-key")
	adapter := &scriptedAdapter{name: "openai", unaryScript: []func() (*providers.ChatResponse, error){errResponse(http.StatusUnauthorized, types.ErrAuthentication)}}
	reg := registry(map[string]*credential.Pool{"openai": pool}, map[string]providers.Adapter{"openai": adapter})
	eng := New(reg, reg, nil)

	req := &Request{
		Chain:      []router.Profile{{Name: "p1", Provider: "openai", Model: "gpt-4o"}},
		ChatReq:    &providers.ChatRequest{},
		UserAPIKey: "user-owned-key",
	}
	_, err := eng.ExecuteUnary(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1, adapter.unaryCalls)
	assert.Equal(t, []string{"user-owned-key"}, adapter.calledWithKeys)

	stats := pool.Snapshot()
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 0, stats.Retired)
}

func chunkChan(chunks ...providers.StreamChunk) <-chan providers.StreamChunk {
	ch := make(chan providers.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func drain(t *testing.T, ch <-chan providers.StreamChunk) []providers.StreamChunk {
	t.Helper()
	var out []providers.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestExecuteStream_PreFirstByteFailureSilentlyAdvances(t *testing.T) {
	poolA := newPool(t, "a", "ka")
	poolB := newPool(t, "b", "kb")
	adapterA := &scriptedAdapter{
		name: "a",
		streamScript: []func() (<-chan providers.StreamChunk, error){
			func() (<-chan providers.StreamChunk, error) {
				return chunkChan(providers.StreamChunk{Err: types.NewError(types.ErrRateLimited, "limited").WithHTTPStatus(http.StatusTooManyRequests)}), nil
			},
		},
	}
	adapterB := &scriptedAdapter{
		name: "b",
		streamScript: []func() (<-chan providers.StreamChunk, error){
			func() (<-chan providers.StreamChunk, error) {
				return chunkChan(
					providers.StreamChunk{Delta: types.Message{Content: "hello"}},
					providers.StreamChunk{FinishReason: "stop"},
				), nil
			},
		},
	}
	reg := registry(
		map[string]*credential.Pool{"a": poolA, "b": poolB},
		map[string]providers.Adapter{"a": adapterA, "b": adapterB},
	)
	eng := New(reg, reg, nil)

	req := &Request{
		Chain: []router.Profile{
			{Name: "p1", Provider: "a", Model: "m1"},
			{Name: "p2", Provider: "b", Model: "m2"},
		},
		ChatReq: &providers.ChatRequest{},
	}
	stream, err := eng.ExecuteStream(context.Background(), req)
	require.NoError(t, err)
	chunks := drain(t, stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, "hello", chunks[0].Delta.Content)
	assert.Equal(t, "stop", chunks[1].FinishReason)

	assert.Equal(t, 1, poolA.Snapshot().Quarantined)
}

func TestExecuteStream_PostFirstByteFailureTerminatesStream(t *testing.T) {
	pool := newPool(t, "a", "ka")
	adapter := &scriptedAdapter{
		name: "a",
		streamScript: []func() (<-chan providers.StreamChunk, error){
			func() (<-chan providers.StreamChunk, error) {
				return chunkChan(
					providers.StreamChunk{Delta: types.Message{Content: "partial"}},
					providers.StreamChunk{Err: types.NewError(types.ErrUpstreamError, "connection reset")},
				), nil
			},
		},
	}
	reg := registry(map[string]*credential.Pool{"a": pool}, map[string]providers.Adapter{"a": adapter})
	eng := New(reg, reg, nil)

	req := &Request{
		Chain:   []router.Profile{{Name: "p1", Provider: "a", Model: "m1"}},
		ChatReq: &providers.ChatRequest{},
	}
	stream, err := eng.ExecuteStream(context.Background(), req)
	require.NoError(t, err)
	chunks := drain(t, stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, "partial", chunks[0].Delta.Content)
	assert.NotNil(t, chunks[1].Err)

	// The key was released back to available as soon as the first chunk
	// committed; the later mid-stream failure does not re-quarantine it,
	// since bytes are already on the wire to the client.
	assert.Equal(t, 1, pool.Snapshot().Available)
}
