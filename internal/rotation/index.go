// Package rotation implements the atomic round-robin counters used by the
// router to spread requests across an alias's main pool, and by provider
// adapters to rotate within a provider's own model-alias list.
package rotation

import (
	"context"
	"sync"
	"sync/atomic"
)

// Index hands out a monotonically increasing, pool-size-wrapped slot for a
// given key. Implementations never skip a slot.
type Index interface {
	// GetAndAdvance returns the current index in [0, poolSize) for key and
	// advances the counter atomically.
	GetAndAdvance(ctx context.Context, key string, poolSize int) (int, error)
}

// InProcess is the in-memory fallback backend: one atomic counter per key,
// guarded by a map mutex only for counter creation (the hot path is a
// lock-free atomic add).
type InProcess struct {
	mu       sync.Mutex
	counters map[string]*uint64
}

// NewInProcess creates an empty in-process rotation index.
func NewInProcess() *InProcess {
	return &InProcess{counters: make(map[string]*uint64)}
}

func (r *InProcess) counter(key string) *uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[key]
	if !ok {
		var zero uint64
		c = &zero
		r.counters[key] = c
	}
	return c
}

// GetAndAdvance implements Index.
func (r *InProcess) GetAndAdvance(_ context.Context, key string, poolSize int) (int, error) {
	if poolSize <= 0 {
		return 0, nil
	}
	c := r.counter(key)
	n := atomic.AddUint64(c, 1) - 1
	return int(n % uint64(poolSize)), nil
}

// GetModel rotates a provider's own model-name list (e.g. round-robining
// between several API-identical model deployments). It reuses the same
// Index contract keyed by "<provider>:<alias>".
func GetModel(ctx context.Context, idx Index, provider, alias string, variants []string) (string, error) {
	if len(variants) == 0 {
		return "", nil
	}
	i, err := idx.GetAndAdvance(ctx, provider+":"+alias, len(variants))
	if err != nil {
		return "", err
	}
	return variants[i], nil
}
