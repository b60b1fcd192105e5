package toolorch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexusgate/gateway/agent/protocol/mcp"
	"github.com/nexusgate/gateway/llm/tools"
	"github.com/nexusgate/gateway/types"
)

func newNativeRegistry(t *testing.T) tools.ToolRegistry {
	t.Helper()
	reg := tools.NewDefaultRegistry(zap.NewNop())
	err := reg.Register("get_weather", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"temp_f":72}`), nil
	}, tools.ToolMetadata{
		Schema: types.ToolSchema{Name: "get_weather", Description: "current weather"},
	})
	require.NoError(t, err)
	return reg
}

// mcpTestServer serves a minimal JSON-RPC tools/list + tools/call surface.
func mcpTestServer(t *testing.T, toolName string, callResult any, fail bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req mcp.MCPMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "tools/list":
			tools := []mcp.ToolDefinition{{Name: toolName, Description: "remote tool", InputSchema: map[string]any{}}}
			resp := mcp.NewMCPResponse(req.ID, tools)
			_ = json.NewEncoder(w).Encode(resp)
		case "tools/call":
			resp := mcp.NewMCPResponse(req.ID, callResult)
			_ = json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestDispatch_RoutesNativeToolDirectly(t *testing.T) {
	reg := newNativeRegistry(t)
	o := New(reg, nil, "", nil)

	result := o.Dispatch(context.Background(), "sess-1", types.ToolCall{ID: "c1", Name: "get_weather", Arguments: json.RawMessage(`{}`)})
	require.False(t, result.IsError(), result.Error)
	assert.JSONEq(t, `{"temp_f":72}`, string(result.Result))
}

func TestDispatch_ExpandsBareNameToDefaultRemoteServer(t *testing.T) {
	srv := mcpTestServer(t, "search", map[string]any{"hits": 3}, false)
	defer srv.Close()

	reg := newNativeRegistry(t)
	o := New(reg, []ServerConfig{{Name: "web", BaseURL: srv.URL, Enabled: true}}, "", nil)
	o.refreshAll(context.Background(), "sess-1")

	result := o.Dispatch(context.Background(), "sess-1", types.ToolCall{ID: "c2", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`)})
	require.False(t, result.IsError(), result.Error)
	assert.JSONEq(t, `{"hits":3}`, string(result.Result))
}

func TestDispatch_QualifiedNameWithPluralizationTypo(t *testing.T) {
	srv := mcpTestServer(t, "lookup", "ok", false)
	defer srv.Close()

	reg := newNativeRegistry(t)
	o := New(reg, []ServerConfig{{Name: "dbs", BaseURL: srv.URL, Enabled: true}}, "", nil)
	o.refreshAll(context.Background(), "sess-1")

	// caller wrote "db::lookup" (singular) but the server is configured as "dbs"
	result := o.Dispatch(context.Background(), "sess-1", types.ToolCall{ID: "c3", Name: "db::lookup"})
	require.False(t, result.IsError(), result.Error)
}

func TestDispatch_OfflineServerReturnsErrorResult(t *testing.T) {
	srv := mcpTestServer(t, "search", nil, true)
	defer srv.Close()

	reg := newNativeRegistry(t)
	o := New(reg, []ServerConfig{{Name: "web", BaseURL: srv.URL, Enabled: true}}, "", nil)
	o.refreshAll(context.Background(), "sess-1") // fails, server stays offline

	result := o.Dispatch(context.Background(), "sess-1", types.ToolCall{ID: "c4", Name: "web::search"})
	assert.True(t, result.IsError())
}

func TestDispatch_UnknownToolWithNoServersConfigured(t *testing.T) {
	reg := newNativeRegistry(t)
	o := New(reg, nil, "", nil)

	result := o.Dispatch(context.Background(), "sess-1", types.ToolCall{ID: "c5", Name: "mystery_tool"})
	assert.True(t, result.IsError())
}

func TestDispatchAll_RunsAllCallsConcurrently(t *testing.T) {
	reg := newNativeRegistry(t)
	o := New(reg, nil, "", nil)

	calls := []types.ToolCall{
		{ID: "a", Name: "get_weather", Arguments: json.RawMessage(`{}`)},
		{ID: "b", Name: "get_weather", Arguments: json.RawMessage(`{}`)},
	}
	results := o.DispatchAll(context.Background(), "sess-1", calls)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.IsError())
	}
}

func TestActiveTools_MergesNativeAndOnlineRemote(t *testing.T) {
	srv := mcpTestServer(t, "search", "ok", false)
	defer srv.Close()

	reg := newNativeRegistry(t)
	o := New(reg, []ServerConfig{{Name: "web", BaseURL: srv.URL, Enabled: true}}, "", nil)
	o.refreshAll(context.Background(), "sess-1")

	descriptors := o.ActiveTools()
	names := make(map[string]bool)
	for _, d := range descriptors {
		names[d.QualifiedName] = true
	}
	assert.True(t, names["get_weather"])
	assert.True(t, names["web::search"])
}

func TestActiveTools_ExcludesOfflineServerTools(t *testing.T) {
	srv := mcpTestServer(t, "search", nil, true)
	defer srv.Close()

	reg := newNativeRegistry(t)
	o := New(reg, []ServerConfig{{Name: "web", BaseURL: srv.URL, Enabled: true}}, "", nil)
	o.refreshAll(context.Background(), "sess-1")

	descriptors := o.ActiveTools()
	for _, d := range descriptors {
		assert.NotEqual(t, "web::search", d.QualifiedName)
	}
}

func TestEnablementWatcher_DisablesListedTool(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/tools.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"get_weather": false}`), 0o644))

	w := newEnablementWatcher(path, nil)
	w.reload()

	assert.False(t, w.Enabled("get_weather"))
	assert.True(t, w.Enabled("unlisted_tool"))
}
