package rotation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fairness checks the spec's load-balancing invariant: over n requests
// against a pool of size poolSize, every slot is chosen floor(n/poolSize)
// or ceil(n/poolSize) times.
func fairness(t *testing.T, idx Index, key string, poolSize, n int) {
	t.Helper()
	counts := make([]int, poolSize)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		slot, err := idx.GetAndAdvance(ctx, key, poolSize)
		require.NoError(t, err)
		require.GreaterOrEqual(t, slot, 0)
		require.Less(t, slot, poolSize)
		counts[slot]++
	}
	lo := n / poolSize
	hi := (n + poolSize - 1) / poolSize
	for slot, c := range counts {
		require.GreaterOrEqualf(t, c, lo, "slot %d under-served: %d", slot, c)
		require.LessOrEqualf(t, c, hi, "slot %d over-served: %d", slot, c)
	}
}

func TestInProcess_Fairness(t *testing.T) {
	idx := NewInProcess()
	fairness(t, idx, "alias:main", 3, 300)
}

func TestInProcess_DistinctKeysIndependent(t *testing.T) {
	idx := NewInProcess()
	ctx := context.Background()

	a, err := idx.GetAndAdvance(ctx, "alias-a", 2)
	require.NoError(t, err)
	b, err := idx.GetAndAdvance(ctx, "alias-b", 2)
	require.NoError(t, err)
	require.Equal(t, 0, a)
	require.Equal(t, 0, b)
}

func TestInProcess_ZeroPoolSize(t *testing.T) {
	idx := NewInProcess()
	slot, err := idx.GetAndAdvance(context.Background(), "empty", 0)
	require.NoError(t, err)
	require.Equal(t, 0, slot)
}

func newMiniredisIndex(t *testing.T) *RedisIndex {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisIndex(rdb)
}

func TestRedisIndex_Fairness(t *testing.T) {
	idx := newMiniredisIndex(t)
	fairness(t, idx, "alias:main", 4, 400)
}

func TestRedisIndex_WrapsFromOne(t *testing.T) {
	idx := newMiniredisIndex(t)
	ctx := context.Background()

	first, err := idx.GetAndAdvance(ctx, "alias", 3)
	require.NoError(t, err)
	require.Equal(t, 0, first)

	second, err := idx.GetAndAdvance(ctx, "alias", 3)
	require.NoError(t, err)
	require.Equal(t, 1, second)
}

func TestFallback_UsesDurableWhenHealthy(t *testing.T) {
	durable := newMiniredisIndex(t)
	fb := NewFallback(durable, zap.NewNop())
	fairness(t, fb, "alias", 3, 300)
}

func TestFallback_DegradesWhenDurableErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	durable := NewRedisIndex(rdb)
	fb := NewFallback(durable, zap.NewNop())

	mr.Close() // durable backend now errors on every call

	slot, err := fb.GetAndAdvance(context.Background(), "alias", 2)
	require.NoError(t, err)
	require.GreaterOrEqual(t, slot, 0)
	require.Less(t, slot, 2)
}

func TestFallback_NilDurableBehavesLikeInProcess(t *testing.T) {
	fb := NewFallback(nil, zap.NewNop())
	fairness(t, fb, "alias", 2, 200)
}

func TestGetModel_EmptyVariants(t *testing.T) {
	idx := NewInProcess()
	name, err := GetModel(context.Background(), idx, "openai", "fast", nil)
	require.NoError(t, err)
	require.Empty(t, name)
}

func TestGetModel_Rotates(t *testing.T) {
	idx := NewInProcess()
	variants := []string{"gpt-a", "gpt-b"}
	ctx := context.Background()

	first, err := GetModel(ctx, idx, "openai", "fast", variants)
	require.NoError(t, err)
	second, err := GetModel(ctx, idx, "openai", "fast", variants)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
