package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ContextCacheThreshold is the length threshold (summed over the text
// parts of the prefix contents) above which the Gemini adapter upserts a
// cached-content object instead of resending the whole prefix every turn.
// Default per DESIGN.md's Open Question decision.
const ContextCacheThreshold = 32000

// ContextCacheStore resolves a content hash to a provider-side cached
// content object name, and lets the adapter upsert one. Grounded on
// llm/cache/prompt_cache.go's hash-keyed CacheEntry shape, repurposed for
// Gemini's cachedContent reference instead of a full response cache.
type ContextCacheStore interface {
	Lookup(ctx context.Context, hash string) (name string, ok bool, err error)
	Upsert(ctx context.Context, hash string, create func(ctx context.Context) (name string, err error)) (string, error)
}

// HashPrefix deterministically hashes the marshaled prefix contents
// (everything except the final turn) for use as a ContextCacheStore key.
func HashPrefix(prefix any) (string, error) {
	data, err := json.Marshal(prefix)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ShouldCacheContext reports whether prefixCharCount exceeds the
// threshold and context caching should be attempted for this turn.
func ShouldCacheContext(prefixCharCount int) bool {
	return prefixCharCount > ContextCacheThreshold
}
