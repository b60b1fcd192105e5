package toolorch

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const enablementPollInterval = 2 * time.Second

// enablementWatcher polls a JSON file of tool-name -> enabled on a
// fixed interval and reports its latest contents, grounded on
// config/watcher.go's mtime-poll idiom (stat, compare ModTime,
// re-read on change) but fixed to the 2s cadence the orchestrator
// needs rather than the config package's debounced multi-path form.
type enablementWatcher struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	lastMod time.Time
	flags   map[string]bool
}

func newEnablementWatcher(path string, logger *zap.Logger) *enablementWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &enablementWatcher{path: path, logger: logger, flags: make(map[string]bool)}
}

func (w *enablementWatcher) Enabled(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	enabled, ok := w.flags[name]
	if !ok {
		return true // unlisted tools default to enabled
	}
	return enabled
}

// Start blocks until ctx is cancelled, reloading the file whenever its
// mtime advances.
func (w *enablementWatcher) Start(ctx context.Context) {
	w.reload()
	ticker := time.NewTicker(enablementPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

func (w *enablementWatcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.RLock()
	unchanged := !info.ModTime().After(w.lastMod)
	w.mu.RUnlock()
	if unchanged {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("toolorch: failed to read tool enablement file", zap.Error(err))
		return
	}

	var flags map[string]bool
	if err := json.Unmarshal(data, &flags); err != nil {
		w.logger.Warn("toolorch: failed to parse tool enablement file", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.flags = flags
	w.lastMod = info.ModTime()
	w.mu.Unlock()

	w.logger.Info("toolorch: reloaded tool enablement file", zap.Int("entries", len(flags)))
}
