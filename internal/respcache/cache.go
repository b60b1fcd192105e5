// Package respcache implements the fingerprint-keyed non-streaming
// response cache of spec §4.6: a stable hash over a whitelisted, sorted
// subset of request fields plus the resolved profile name, with the same
// admission rule applied on both write and read.
//
// Grounded on llm/cache/prompt_cache.go's MultiLevelCache (local LRU +
// Redis, CacheableCheck admission predicate) and llm/cache/hash_key.go's
// stable-hash key strategy, repurposed around the gateway's fingerprint
// instead of a raw full-request hash.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/providers"
)

// ErrCacheMiss is returned by Get when no admissible entry exists.
var ErrCacheMiss = errors.New("respcache: cache miss")

// FingerprintMessage is the whitelisted view of a message used for
// keying: role and text content only, so metadata fields that don't
// affect the provider's output (trace ids, timestamps) never perturb the
// fingerprint.
type FingerprintMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FingerprintInput carries the request fields the spec whitelists for
// cache keying, normalized so field order and map iteration order never
// change the resulting hash (spec §8 "Fingerprint stability").
type FingerprintInput struct {
	ProfileName string
	Model       string
	Messages    []FingerprintMessage
	Temperature float32
	TopP        float32
	MaxTokens   int
	Stop        []string
	JSONMode    bool
}

// Fingerprint computes a stable hash over the whitelisted fields ∪
// {profile_name}, per spec §3. Stop sequences are sorted before hashing
// so their input order never affects the key.
func Fingerprint(in FingerprintInput) string {
	stop := append([]string(nil), in.Stop...)
	sort.Strings(stop)

	canonical := struct {
		Profile     string                `json:"profile"`
		Model       string                `json:"model"`
		Messages    []FingerprintMessage  `json:"messages"`
		Temperature float32               `json:"temperature"`
		TopP        float32               `json:"top_p"`
		MaxTokens   int                   `json:"max_tokens"`
		Stop        []string              `json:"stop"`
		JSONMode    bool                  `json:"json_mode"`
	}{
		Profile:     in.ProfileName,
		Model:       in.Model,
		Messages:    in.Messages,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		MaxTokens:   in.MaxTokens,
		Stop:        stop,
		JSONMode:    in.JSONMode,
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		data = []byte(in.ProfileName + "|" + in.Model)
	}
	sum := sha256.Sum256(data)
	return "respcache:" + hex.EncodeToString(sum[:16])
}

// errorSignatures are substrings that mark content as an error leak
// rather than an admissible completion, per spec §4.6's admission rules.
var errorSignatures = []string{
	"rate limit reached",
	"traceback (most recent call last)",
	"internal server error",
	"panic:",
}

// IsAdmissible applies the §4.6 admission rules: non-empty/non-whitespace,
// no known error signature, and — if JSON-parseable as an object — no
// error field and no status_code >= 400. Applied identically on write and
// on read (a previously-admitted entry may fail re-validation if the
// rules change, and is then silently treated as a miss).
func IsAdmissible(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}

	lower := strings.ToLower(trimmed)
	for _, sig := range errorSignatures {
		if strings.Contains(lower, sig) {
			return false
		}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		if _, hasError := obj["error"]; hasError {
			return false
		}
		if status, ok := obj["status_code"]; ok {
			if n, ok := toFloat(status); ok && n >= 400 {
				return false
			}
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// Entry is a cached non-streaming response.
type Entry struct {
	Response  *providers.ChatResponse `json:"response"`
	CreatedAt time.Time               `json:"created_at"`
	HitCount  int                     `json:"hit_count"`
}

// Cache is the fingerprint-keyed local+Redis cache. A nil redis client
// disables the distributed tier and runs local-only, same as the
// teacher's MultiLevelCache with EnableRedis=false.
type Cache struct {
	local  *lruCache
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// Config configures a Cache.
type Config struct {
	LocalMaxSize int
	TTL          time.Duration
}

// DefaultConfig mirrors the teacher's DefaultCacheConfig sizing.
func DefaultConfig() Config {
	return Config{LocalMaxSize: 1000, TTL: time.Hour}
}

// New builds a Cache. redisClient may be nil for local-only caching.
func New(redisClient *redis.Client, cfg Config, logger *zap.Logger) *Cache {
	if cfg.LocalMaxSize <= 0 {
		cfg.LocalMaxSize = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		local:  newLRUCache(cfg.LocalMaxSize, cfg.TTL),
		redis:  redisClient,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

func (c *Cache) redisKey(fingerprint string) string {
	return "gateway:respcache:" + fingerprint
}

// Get returns the cached response for fingerprint, or ErrCacheMiss if
// absent or if the stored content no longer passes IsAdmissible.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*providers.ChatResponse, error) {
	if entry, ok := c.local.get(fingerprint); ok {
		if admissibleEntry(entry) {
			return entry.Response, nil
		}
		c.local.delete(fingerprint)
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, c.redisKey(fingerprint)).Bytes()
		if err == nil {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err == nil && admissibleEntry(&entry) {
				c.local.set(fingerprint, &entry)
				return entry.Response, nil
			}
			return nil, ErrCacheMiss
		}
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("respcache: redis get failed", zap.Error(err))
		}
	}

	return nil, ErrCacheMiss
}

// Set stores resp under fingerprint if its content passes IsAdmissible.
// A non-admissible response is silently skipped, not an error.
func (c *Cache) Set(ctx context.Context, fingerprint string, resp *providers.ChatResponse) error {
	if !admissibleResponse(resp) {
		return nil
	}

	entry := &Entry{Response: resp, CreatedAt: time.Now()}
	c.local.set(fingerprint, entry)

	if c.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := c.redis.Set(ctx, c.redisKey(fingerprint), data, c.ttl).Err(); err != nil {
			c.logger.Warn("respcache: redis set failed", zap.Error(err))
			return err
		}
	}
	return nil
}

func admissibleResponse(resp *providers.ChatResponse) bool {
	if resp == nil || len(resp.Choices) == 0 {
		return false
	}
	for _, choice := range resp.Choices {
		if !IsAdmissible(choice.Message.Content) {
			return false
		}
	}
	return true
}

func admissibleEntry(e *Entry) bool {
	return admissibleResponse(e.Response)
}
