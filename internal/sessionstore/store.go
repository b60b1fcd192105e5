// Package sessionstore implements the per-session lease, cancellation
// flag, and draft/phase key-value store of spec §4.7, plus the
// SignatureStore/ContextCacheStore collaborators internal/providers'
// Gemini adapter needs.
//
// Grounded directly on llm/context/session.go's RedisSessionStore: the
// same Lua-script conditional-write idiom, generalized from whole-session
// optimistic locking to a lease token, and the same "degrade, don't
// crash" posture when Redis is unreachable.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLeaseLost is returned by Release/Extend when the caller no longer
// holds the lease (another holder acquired it, or it expired).
var ErrLeaseLost = errors.New("sessionstore: lease lost")

const (
	defaultLeaseTTL   = 60 * time.Second
	defaultCellTTL    = 30 * time.Minute
	cacheContentTTL   = time.Hour
)

// Store implements the session lease/cancel/draft/phase surface over
// Redis, degrading gracefully when Redis is unreachable: Lease always
// succeeds and cancellation is never observed, per spec §4.7. It also
// satisfies providers.SignatureStore and providers.ContextCacheStore so
// the Gemini adapter can be wired directly against it.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New builds a Store. rdb must be non-nil; pass a client pointed at an
// address that may become unreachable — Store degrades per call, not at
// construction time.
func New(rdb *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, logger: logger}
}

func leaseKey(sessionID string) string  { return "gateway:session:lease:" + sessionID }
func cancelKey(sessionID string) string { return "gateway:session:cancel:" + sessionID }
func draftKey(sessionID string) string  { return "gateway:session:draft:" + sessionID }
func phaseKey(sessionID string) string  { return "gateway:session:phase:" + sessionID }

func (s *Store) unavailable(err error) bool {
	return err != nil && !errors.Is(err, redis.Nil)
}

// Lease attempts to acquire ownership of sessionID for holder, conditional
// on no other live holder existing (SET NX), with ttl defaulting to 60s.
// If Redis is unreachable, Lease degrades to always-succeed per spec §4.7.
func (s *Store) Lease(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	ok, err := s.rdb.SetNX(ctx, leaseKey(sessionID), holder, ttl).Result()
	if err != nil {
		s.logger.Warn("sessionstore: lease degraded (redis unavailable)",
			zap.String("session_id", sessionID), zap.Error(err))
		return true, nil
	}
	return ok, nil
}

// Release performs a compare-and-delete: the lease is removed only if
// holder still owns it. Returns ErrLeaseLost if another holder has since
// taken it, or nil (no-op) if the lease had already expired.
func (s *Store) Release(ctx context.Context, sessionID, holder string) error {
	script := redis.NewScript(`
		local key = KEYS[1]
		local holder = ARGV[1]
		local current = redis.call('GET', key)
		if not current then
			return 0
		end
		if current ~= holder then
			return -1
		end
		redis.call('DEL', key)
		return 1
	`)
	result, err := script.Run(ctx, s.rdb, []string{leaseKey(sessionID)}, holder).Int()
	if err != nil {
		if s.unavailable(err) {
			s.logger.Warn("sessionstore: release degraded (redis unavailable)",
				zap.String("session_id", sessionID), zap.Error(err))
			return nil
		}
		return err
	}
	if result == -1 {
		return ErrLeaseLost
	}
	return nil
}

// Extend refreshes the TTL on a held lease, failing with ErrLeaseLost if
// holder no longer owns it.
func (s *Store) Extend(ctx context.Context, sessionID, holder string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	script := redis.NewScript(`
		local key = KEYS[1]
		local holder = ARGV[1]
		local ttl = tonumber(ARGV[2])
		local current = redis.call('GET', key)
		if current ~= holder then
			return -1
		end
		redis.call('EXPIRE', key, ttl)
		return 1
	`)
	result, err := script.Run(ctx, s.rdb, []string{leaseKey(sessionID)}, holder, int(ttl.Seconds())).Int()
	if err != nil {
		if s.unavailable(err) {
			return nil
		}
		return err
	}
	if result == -1 {
		return ErrLeaseLost
	}
	return nil
}

// SetCancelled raises the cancellation flag drivers check between
// reasoning iterations. Swallowed (logged) when Redis is unreachable,
// since cancellation is never observed in degraded mode anyway.
func (s *Store) SetCancelled(ctx context.Context, sessionID string) error {
	err := s.rdb.Set(ctx, cancelKey(sessionID), "1", defaultCellTTL).Err()
	if err != nil && s.unavailable(err) {
		s.logger.Warn("sessionstore: cancel flag not durable (redis unavailable)",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return err
}

// IsCancelled reports the cancellation flag. Degraded mode always reports
// false: "cancellation is never observed" per spec §4.7.
func (s *Store) IsCancelled(ctx context.Context, sessionID string) (bool, error) {
	exists, err := s.rdb.Exists(ctx, cancelKey(sessionID)).Result()
	if err != nil {
		if s.unavailable(err) {
			return false, nil
		}
		return false, err
	}
	return exists > 0, nil
}

// SetDraft stores the reasoning scratchpad draft for sessionID with the
// default 30-minute cell TTL.
func (s *Store) SetDraft(ctx context.Context, sessionID, draft string) error {
	return s.rdb.Set(ctx, draftKey(sessionID), draft, defaultCellTTL).Err()
}

// GetDraft returns the stored draft, or "" with ok=false if absent.
func (s *Store) GetDraft(ctx context.Context, sessionID string) (string, bool, error) {
	return s.getString(ctx, draftKey(sessionID))
}

// SetPhase stores the current reasoning phase label for sessionID.
func (s *Store) SetPhase(ctx context.Context, sessionID, phase string) error {
	return s.rdb.Set(ctx, phaseKey(sessionID), phase, defaultCellTTL).Err()
}

// GetPhase returns the stored phase, or "" with ok=false if absent.
func (s *Store) GetPhase(ctx context.Context, sessionID string) (string, bool, error) {
	return s.getString(ctx, phaseKey(sessionID))
}

func (s *Store) getString(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// Set implements providers.SignatureStore.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, "gateway:kv:"+key, value, ttl).Err()
}

// Get implements providers.SignatureStore.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	return s.getString(ctx, "gateway:kv:"+key)
}

// Lookup implements providers.ContextCacheStore.
func (s *Store) Lookup(ctx context.Context, hash string) (string, bool, error) {
	return s.getString(ctx, "gateway:cachecontent:"+hash)
}

// Upsert implements providers.ContextCacheStore: returns the previously
// stored name for hash, or calls create and persists its result.
func (s *Store) Upsert(ctx context.Context, hash string, create func(ctx context.Context) (string, error)) (string, error) {
	if name, ok, err := s.Lookup(ctx, hash); err != nil {
		return "", err
	} else if ok {
		return name, nil
	}

	name, err := create(ctx)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, "gateway:cachecontent:"+hash, name, cacheContentTTL).Err(); err != nil {
		s.logger.Warn("sessionstore: failed to persist cached-content name", zap.Error(err))
	}
	return name, nil
}
