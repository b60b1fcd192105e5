package providers

import (
	"context"
	"fmt"
	"time"
)

// SignatureStore is the narrow collaborator the Gemini signature roundtrip
// needs from the Session Store (§4.7), kept as an interface here so this
// package doesn't import internal/sessionstore directly. Grounded on
// llm/thought_signatures.go's ThoughtSignatureManager, which is backed by
// the same kind of TTL key/value store.
type SignatureStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
}

const signatureTTL = time.Hour

// SignatureAnnotation formats a thought_signature as the HTML comment
// embedded in the last textual chunk of a Gemini response, per spec §4.4.
func SignatureAnnotation(signature string) string {
	return fmt.Sprintf("<!--thought_signature:%s-->", signature)
}

// StoreToolCallSignature persists signature keyed by the tool call id it
// was emitted alongside, so it can be reattached when the caller sends
// that tool call's result back on the next turn.
func StoreToolCallSignature(ctx context.Context, store SignatureStore, toolCallID, signature string) error {
	if store == nil || toolCallID == "" || signature == "" {
		return nil
	}
	return store.Set(ctx, signatureKey(toolCallID), signature, signatureTTL)
}

// ReattachToolCallSignature retrieves a previously stored signature for
// toolCallID, returning ok=false if none was stored or it expired.
func ReattachToolCallSignature(ctx context.Context, store SignatureStore, toolCallID string) (string, bool, error) {
	if store == nil || toolCallID == "" {
		return "", false, nil
	}
	return store.Get(ctx, signatureKey(toolCallID))
}

func signatureKey(toolCallID string) string {
	return "gemini:thought_signature:" + toolCallID
}
