package credential

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Manager owns one Pool per provider and runs the periodic quarantine
// sweep shared by all of them.
type Manager struct {
	logger   *zap.Logger
	interval time.Duration
	pools    map[string]*Pool
}

// NewManager creates a pool manager. interval defaults to 10s per spec §4.1.
func NewManager(logger *zap.Logger, interval time.Duration) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Manager{logger: logger, interval: interval, pools: make(map[string]*Pool)}
}

// Register adds a pool under its provider name, replacing any prior pool
// for that provider (used on config hot-reload).
func (m *Manager) Register(provider string, pool *Pool) {
	m.pools[provider] = pool
}

// Pool returns the pool for provider, or nil if not registered.
func (m *Manager) Pool(provider string) *Pool {
	return m.pools[provider]
}

// Run sweeps every registered pool on each tick until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for provider, pool := range m.pools {
				pool.Sweep(ctx)
				_ = provider
			}
		}
	}
}
