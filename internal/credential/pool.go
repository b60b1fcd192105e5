// Package credential implements the per-provider credential pool described
// in the gateway's dispatch engine: bounded queues of API keys with
// available/quarantined/retired lifecycle states.
package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAcquireTimeout is returned when acquire() could not obtain a key
// before its deadline elapsed.
var ErrAcquireTimeout = errors.New("credential: acquire timed out")

// ErrProviderUnavailable indicates a provider's pool is exhausted: every
// key is either quarantined or retired.
var ErrProviderUnavailable = errors.New("credential: provider unavailable")

// Tier distinguishes free and paid credentials loaded from separate files.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// quarantineEntry records why and until-when a key is sidelined.
type quarantineEntry struct {
	reason    string
	releaseAt time.Time
}

// Pool is the per-provider bounded multi-queue of credentials. It serializes
// all membership mutations (quarantine/retire/sweep) under a single mutex,
// while the available queue itself is a buffered channel so concurrent
// acquirers can block FIFO without holding that mutex.
type Pool struct {
	provider string
	logger   *zap.Logger

	mu          sync.Mutex
	available   chan string
	quarantined map[string]quarantineEntry
	retired     map[string]string
	totalKeys   int
	tiers       map[string]Tier

	acquireTimeout time.Duration
	quarantineTTL  time.Duration

	audit AuditSink
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithAcquireTimeout overrides the default 15s acquire deadline.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) { p.acquireTimeout = d }
}

// WithDefaultQuarantineTTL overrides the default 300s quarantine TTL used
// when quarantine() is called with ttl<=0.
func WithDefaultQuarantineTTL(d time.Duration) Option {
	return func(p *Pool) { p.quarantineTTL = d }
}

// WithAuditSink attaches an optional persistent audit trail for lifecycle
// transitions (see audit.go). Nil is a valid no-op sink.
func WithAuditSink(sink AuditSink) Option {
	return func(p *Pool) { p.audit = sink }
}

// New creates an empty pool for provider. Call LoadFromFiles or Seed to populate it.
func New(provider string, logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		provider:       provider,
		logger:         logger,
		quarantined:    make(map[string]quarantineEntry),
		retired:        make(map[string]string),
		tiers:          make(map[string]Tier),
		acquireTimeout: 15 * time.Second,
		quarantineTTL:  300 * time.Second,
		audit:          noopAudit{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.audit == nil {
		p.audit = noopAudit{}
	}
	return p
}

// Seed populates the pool's available queue with the given keys, already
// shuffled by the caller (see loader.go for the production loading path).
// Safe to call once, before the pool is used concurrently.
func (p *Pool) Seed(keys []string, tier Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.available == nil {
		// size the channel generously: total keys across both tiers can
		// still grow via subsequent Seed calls (e.g. free then paid).
		p.available = make(chan string, 4096)
	}
	for _, k := range keys {
		p.tiers[k] = tier
		p.totalKeys++
		p.available <- k
	}
}

// TotalKeys returns the monotone (decreases only on retirement) key count.
func (p *Pool) TotalKeys() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalKeys
}

// Acquire blocks up to the pool's acquire deadline for a free key. Returns
// ErrAcquireTimeout if none became available in time, or
// ErrProviderUnavailable if the pool has no keys at all.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.available == nil || p.totalKeys == 0 {
		p.mu.Unlock()
		return "", ErrProviderUnavailable
	}
	available := p.available
	p.mu.Unlock()

	deadline := p.acquireTimeout
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case key := <-available:
		return key, nil
	case <-timer.C:
		return "", ErrAcquireTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Release returns a held key to the available queue, unless it has since
// been quarantined or retired by a concurrent caller.
func (p *Pool) Release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, retired := p.retired[key]; retired {
		return
	}
	if _, quarantined := p.quarantined[key]; quarantined {
		return
	}
	p.available <- key
}

// Quarantine removes key from availability for ttl (defaulting to the
// pool's configured quarantine TTL). A background Sweep call later returns
// it to available once the TTL elapses, unless it was retired meanwhile.
func (p *Pool) Quarantine(ctx context.Context, key, reason string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = p.quarantineTTL
	}
	p.mu.Lock()
	if _, retired := p.retired[key]; retired {
		p.mu.Unlock()
		return
	}
	p.quarantined[key] = quarantineEntry{reason: reason, releaseAt: time.Now().Add(ttl)}
	p.mu.Unlock()

	p.logger.Warn("credential quarantined",
		zap.String("provider", p.provider), zap.String("reason", reason), zap.Duration("ttl", ttl))
	p.audit.RecordQuarantine(ctx, p.provider, key, reason, ttl)
}

// Retire permanently removes key. A retired key never re-enters available
// or quarantined, and decrements TotalKeys.
func (p *Pool) Retire(ctx context.Context, key, reason string) {
	p.mu.Lock()
	if _, already := p.retired[key]; already {
		p.mu.Unlock()
		return
	}
	delete(p.quarantined, key)
	p.retired[key] = reason
	p.totalKeys--
	p.mu.Unlock()

	p.logger.Error("credential retired",
		zap.String("provider", p.provider), zap.String("reason", reason))
	p.audit.RecordRetire(ctx, p.provider, key, reason)
}

// Sweep atomically moves any expired quarantined keys back to available.
// Intended to be called by a periodic background task (see sweeper.go).
func (p *Pool) Sweep(ctx context.Context) {
	now := time.Now()
	var released []string

	p.mu.Lock()
	for key, entry := range p.quarantined {
		if !now.Before(entry.releaseAt) {
			delete(p.quarantined, key)
			released = append(released, key)
		}
	}
	p.mu.Unlock()

	for _, key := range released {
		p.Release(key)
	}
	if len(released) > 0 {
		p.logger.Debug("quarantine sweep released keys",
			zap.String("provider", p.provider), zap.Int("count", len(released)))
		p.audit.RecordSweepRelease(ctx, p.provider, released)
	}
}

// Stats is a point-in-time snapshot used for metrics and invariant tests.
type Stats struct {
	Available   int
	Quarantined int
	Retired     int
	TotalKeys   int
}

// Snapshot returns the current partition sizes.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Available:   len(p.available),
		Quarantined: len(p.quarantined),
		Retired:     len(p.retired),
		TotalKeys:   p.totalKeys,
	}
}
