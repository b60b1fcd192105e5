package providers

import (
	"net/http"
	"time"

	"github.com/nexusgate/gateway/internal/tlsutil"
)

// SharedClient builds the single *http.Client every adapter is injected
// with, per spec §5. One pooled transport for the whole gateway process
// instead of one per adapter instance. Grounded on
// llm/providers/openaicompat.New's tlsutil.SecureHTTPClient call, hoisted
// to module scope so every adapter shares the same connection pool.
func SharedClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return tlsutil.SecureHTTPClient(timeout)
}
