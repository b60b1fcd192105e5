package toolorch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nexusgate/gateway/agent/protocol/mcp"
	"github.com/nexusgate/gateway/internal/tlsutil"
)

// remoteClient talks JSON-RPC over a single HTTP POST per call, the
// streamable-http shape of MCP: no persistent connection is kept open,
// a per-user Mcp-Session-Id header scopes server-side session state.
//
// Grounded on agent/protocol/mcp's SSETransport.Send, stripped of the
// paired SSE read loop since each request/response round-trips on the
// same POST.
type remoteClient struct {
	baseURL    string
	httpClient *http.Client
	nextID     int64
}

func newRemoteClient(baseURL string) *remoteClient {
	return &remoteClient{
		baseURL:    baseURL,
		httpClient: tlsutil.SecureHTTPClient(0),
	}
}

func (c *remoteClient) call(ctx context.Context, sessionID, method string, params map[string]any) (json.RawMessage, error) {
	c.nextID++
	req := mcp.NewMCPRequest(c.nextID, method, params)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("toolorch: marshal mcp request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("MCP-Protocol-Version", mcp.MCPVersion)
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("toolorch: mcp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("toolorch: mcp server returned status %d", resp.StatusCode)
	}

	var msg mcp.MCPMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("toolorch: decode mcp response: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("toolorch: mcp error %d: %s", msg.Error.Code, msg.Error.Message)
	}

	return json.Marshal(msg.Result)
}

func (c *remoteClient) listTools(ctx context.Context, sessionID string) ([]mcp.ToolDefinition, error) {
	raw, err := c.call(ctx, sessionID, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var tools []mcp.ToolDefinition
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("toolorch: parse tools/list: %w", err)
	}
	return tools, nil
}

func (c *remoteClient) callTool(ctx context.Context, sessionID, name string, args map[string]any) (json.RawMessage, error) {
	return c.call(ctx, sessionID, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
}
