package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/rotation"
	"github.com/nexusgate/gateway/types"
)

func profiles(names ...string) []Profile {
	out := make([]Profile, len(names))
	for i, n := range names {
		out[i] = Profile{Name: n, Provider: "openai", Model: n}
	}
	return out
}

func TestRouter_AliasNotFound(t *testing.T) {
	reg := NewStaticRegistry(nil)
	r := New(reg, rotation.NewInProcess(), zap.NewNop())

	_, _, err := r.Resolve(context.Background(), "missing")
	require.Error(t, err)

	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrAliasNotFound, gwErr.Code)
	assert.Equal(t, 404, gwErr.HTTPStatus)
	assert.False(t, gwErr.Retryable)
}

func TestRouter_NoMainLengthIsSequentialFallback(t *testing.T) {
	reg := NewStaticRegistry([]Alias{
		{Name: "fast", Chain: profiles("p1", "p2", "p3")},
	})
	r := New(reg, rotation.NewInProcess(), zap.NewNop())

	chain, isAgent, err := r.Resolve(context.Background(), "fast")
	require.NoError(t, err)
	assert.False(t, isAgent)
	require.Len(t, chain, 3)
	assert.Equal(t, "p1", chain[0].Name)
	assert.Equal(t, "p2", chain[1].Name)
	assert.Equal(t, "p3", chain[2].Name)
}

func TestRouter_MainPoolRotatesThenFallback(t *testing.T) {
	reg := NewStaticRegistry([]Alias{
		{Name: "balanced", Chain: profiles("m1", "m2", "m3", "fb1"), MainLength: 3, IsAgent: true},
	})
	idx := rotation.NewInProcess()
	r := New(reg, idx, zap.NewNop())
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		chain, isAgent, err := r.Resolve(ctx, "balanced")
		require.NoError(t, err)
		assert.True(t, isAgent)
		require.Len(t, chain, 2)
		seen[chain[0].Name] = true
		assert.Equal(t, "fb1", chain[1].Name)
	}
	assert.Equal(t, map[string]bool{"m1": true, "m2": true, "m3": true}, seen)
}

func TestRouter_MainLengthOneIsSequential(t *testing.T) {
	reg := NewStaticRegistry([]Alias{
		{Name: "single", Chain: profiles("only", "fb"), MainLength: 1},
	})
	r := New(reg, rotation.NewInProcess(), zap.NewNop())

	chain, _, err := r.Resolve(context.Background(), "single")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "only", chain[0].Name)
	assert.Equal(t, "fb", chain[1].Name)
}

func TestRouter_MainLengthLargerThanChainIsSequential(t *testing.T) {
	reg := NewStaticRegistry([]Alias{
		{Name: "odd", Chain: profiles("p1", "p2"), MainLength: 5},
	})
	r := New(reg, rotation.NewInProcess(), zap.NewNop())

	chain, _, err := r.Resolve(context.Background(), "odd")
	require.NoError(t, err)
	require.Len(t, chain, 2)
}

// fakeOutOfBoundsIndex always returns an index >= poolSize to exercise the
// tie-break-to-slot-0 path.
type fakeOutOfBoundsIndex struct{}

func (fakeOutOfBoundsIndex) GetAndAdvance(_ context.Context, _ string, poolSize int) (int, error) {
	return poolSize + 10, nil
}

func TestRouter_OutOfBoundsIndexFallsBackToSlotZero(t *testing.T) {
	reg := NewStaticRegistry([]Alias{
		{Name: "balanced", Chain: profiles("m1", "m2", "fb1"), MainLength: 2},
	})
	r := New(reg, fakeOutOfBoundsIndex{}, zap.NewNop())

	chain, _, err := r.Resolve(context.Background(), "balanced")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "m1", chain[0].Name)
}

func TestRouter_Fairness(t *testing.T) {
	reg := NewStaticRegistry([]Alias{
		{Name: "balanced", Chain: profiles("m1", "m2", "m3", "m4"), MainLength: 4},
	})
	idx := rotation.NewInProcess()
	r := New(reg, idx, zap.NewNop())
	ctx := context.Background()

	counts := map[string]int{}
	const n = 400
	for i := 0; i < n; i++ {
		chain, _, err := r.Resolve(ctx, "balanced")
		require.NoError(t, err)
		counts[chain[0].Name]++
	}

	lo, hi := n/4, n/4
	for _, c := range counts {
		assert.GreaterOrEqual(t, c, lo)
		assert.LessOrEqual(t, c, hi)
	}
}
