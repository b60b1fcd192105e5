package rotation

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisIndex is the durable backend from spec §4.2: a shared INCR-backed
// counter so rotation stays consistent across gateway replicas. Semantics
// are identical to InProcess — monotonic increment modulo pool size.
type RedisIndex struct {
	rdb       *redis.Client
	keyPrefix string
}

// NewRedisIndex creates a durable rotation index over rdb.
func NewRedisIndex(rdb *redis.Client) *RedisIndex {
	return &RedisIndex{rdb: rdb, keyPrefix: "gateway:rotation:"}
}

// GetAndAdvance implements Index using a single atomic INCR. Redis INCR
// wraps to 1 on first use so we subtract 1 before taking the modulo, mirroring
// InProcess's zero-based counter.
func (r *RedisIndex) GetAndAdvance(ctx context.Context, key string, poolSize int) (int, error) {
	if poolSize <= 0 {
		return 0, nil
	}
	n, err := r.rdb.Incr(ctx, r.keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("rotation: redis incr: %w", err)
	}
	return int((n - 1) % int64(poolSize)), nil
}
