// Package toolorch unifies native in-process tools, remote MCP-protocol
// tools, and provider-side function declarations behind a single
// dispatch surface.
//
// Grounded on agent/protocol/mcp (JSON-RPC message shape, HTTP/SSE
// transport) for the remote surface, llm/tools/executor.go for native
// dispatch, llm/circuitbreaker/breaker.go for the per-server breaker,
// and config/watcher.go's mtime-poll idiom for the tool-enablement file
// watcher.
package toolorch

import (
	"encoding/json"

	"github.com/nexusgate/gateway/types"
)

// ToolDescriptor describes one tool as seen by the caller building a
// provider request: a qualified name ("server::tool" for remote tools,
// a bare name for native ones), its JSON Schema, and whether it is
// currently enabled and reachable.
type ToolDescriptor struct {
	QualifiedName string           `json:"qualified_name"`
	Schema        types.ToolSchema `json:"schema"`
	Enabled       bool             `json:"enabled"`
}

// ServerStatus is the health bit tracked per remote MCP server.
type ServerStatus int

const (
	ServerOnline ServerStatus = iota
	ServerOffline
)

func (s ServerStatus) String() string {
	if s == ServerOnline {
		return "ONLINE"
	}
	return "OFFLINE"
}

// ServerConfig describes one configured remote MCP server.
type ServerConfig struct {
	Name    string
	BaseURL string
	// Enabled gates this server's tools out of ActiveTools entirely,
	// independent of its online/offline health.
	Enabled bool
}

// Result mirrors llm/tools's ToolResult shape, kept local so the
// orchestrator doesn't force every caller to import llm/tools just to
// read a dispatch result.
type Result struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
}

func (r Result) IsError() bool { return r.Error != "" }

func errorResult(call types.ToolCall, err error) Result {
	return Result{ToolCallID: call.ID, Name: call.Name, Error: err.Error()}
}
