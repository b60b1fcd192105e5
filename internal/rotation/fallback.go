package rotation

import (
	"context"

	"go.uber.org/zap"
)

// Fallback prefers a durable backend (e.g. RedisIndex) and transparently
// degrades to an in-process counter if the durable backend errors, so a
// transient store outage never blocks routing. Falling back loses
// cross-replica consistency for the duration of the outage, not
// correctness within this process.
type Fallback struct {
	durable   Index
	inProcess *InProcess
	logger    *zap.Logger
}

// NewFallback wraps durable with an in-process backstop. durable may be nil,
// in which case Fallback behaves exactly like InProcess.
func NewFallback(durable Index, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{durable: durable, inProcess: NewInProcess(), logger: logger}
}

// GetAndAdvance implements Index.
func (f *Fallback) GetAndAdvance(ctx context.Context, key string, poolSize int) (int, error) {
	if f.durable == nil {
		return f.inProcess.GetAndAdvance(ctx, key, poolSize)
	}
	i, err := f.durable.GetAndAdvance(ctx, key, poolSize)
	if err != nil {
		f.logger.Warn("rotation: durable backend failed, using in-process counter",
			zap.String("key", key), zap.Error(err))
		return f.inProcess.GetAndAdvance(ctx, key, poolSize)
	}
	return i, nil
}
