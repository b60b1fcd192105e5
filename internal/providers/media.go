package providers

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"sync"

	"github.com/nexusgate/gateway/types"
)

// MediaUploader externalizes inline base64 image data to a URL the
// provider can fetch, per spec §4.4 ("hand them to an external Media
// Uploader, replacing with a URL"). It is an out-of-core collaborator;
// concrete implementations (e.g. S3, GCS) live outside this package.
type MediaUploader interface {
	Upload(ctx context.Context, mimeType string, data []byte) (url string, err error)
}

var dataURLPattern = regexp.MustCompile(`^data:([a-zA-Z0-9.+-]+/[a-zA-Z0-9.+-]+);base64,(.+)$`)

// UploadCache caches externalized URLs by content hash so the same inline
// image attached across a conversation's turns is uploaded once.
type UploadCache struct {
	uploader MediaUploader
	mu       sync.Mutex
	byHash   map[string]string
}

// NewUploadCache wraps uploader with a content-hash cache.
func NewUploadCache(uploader MediaUploader) *UploadCache {
	return &UploadCache{uploader: uploader, byHash: make(map[string]string)}
}

// Externalize replaces every base64 ImageContent in msgs with a URL
// ImageContent, uploading through the cache. Messages with no base64
// images, and adapters with no uploader configured, pass through
// unchanged.
func (c *UploadCache) Externalize(ctx context.Context, msgs []types.Message) ([]types.Message, error) {
	if c == nil || c.uploader == nil {
		return msgs, nil
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	for i, m := range out {
		if len(m.Images) == 0 {
			continue
		}
		images := make([]types.ImageContent, len(m.Images))
		copy(images, m.Images)
		for j, img := range images {
			if img.Type != "base64" && img.Type != "" {
				continue
			}
			raw := img.Data
			mimeType := "image/png"
			if match := dataURLPattern.FindStringSubmatch(raw); match != nil {
				mimeType, raw = match[1], match[2]
			}
			if raw == "" {
				continue
			}
			url, err := c.upload(ctx, mimeType, raw)
			if err != nil {
				return nil, err
			}
			images[j] = types.ImageContent{Type: "url", URL: url}
		}
		out[i].Images = images
	}
	return out, nil
}

func (c *UploadCache) upload(ctx context.Context, mimeType, base64Data string) (string, error) {
	sum := sha256.Sum256([]byte(base64Data))
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	if url, ok := c.byHash[key]; ok {
		c.mu.Unlock()
		return url, nil
	}
	c.mu.Unlock()

	decoded, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		decoded = []byte(base64Data)
	}
	url, err := c.uploader.Upload(ctx, mimeType, decoded)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.byHash[key] = url
	c.mu.Unlock()
	return url, nil
}
