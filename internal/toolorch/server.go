package toolorch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/agent/protocol/mcp"
	"github.com/nexusgate/gateway/llm/circuitbreaker"
)

// remoteServer pairs a remote MCP client with its circuit breaker and
// cached tool list. A tripped breaker marks the server OFFLINE and
// drops the cached list; the next successful refresh repopulates both.
type remoteServer struct {
	cfg     ServerConfig
	client  *remoteClient
	breaker circuitbreaker.CircuitBreaker

	mu     sync.RWMutex
	status ServerStatus
	tools  []mcp.ToolDefinition
}

func newRemoteServer(cfg ServerConfig, logger *zap.Logger) *remoteServer {
	return &remoteServer{
		cfg:    cfg,
		client: newRemoteClient(cfg.BaseURL),
		breaker: circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
			Threshold:        3,
			Timeout:          10 * time.Second,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 1,
		}, logger),
		status: ServerOffline,
	}
}

func (s *remoteServer) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *remoteServer) Tools() []mcp.ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools
}

// Refresh re-probes the server's tool list through the breaker. A
// failure marks the server OFFLINE and wipes the cached list; a
// success marks it ONLINE and repopulates it.
func (s *remoteServer) Refresh(ctx context.Context, sessionID string) error {
	result, err := s.breaker.CallWithResult(ctx, func() (any, error) {
		return s.client.listTools(ctx, sessionID)
	})
	if err != nil {
		s.mu.Lock()
		s.status = ServerOffline
		s.tools = nil
		s.mu.Unlock()
		return err
	}

	tools, _ := result.([]mcp.ToolDefinition)
	s.mu.Lock()
	s.status = ServerOnline
	s.tools = tools
	s.mu.Unlock()
	return nil
}

// CallTool dispatches through the breaker, marking the server OFFLINE
// on failure the same way Refresh does.
func (s *remoteServer) CallTool(ctx context.Context, sessionID, name string, args map[string]any) (any, error) {
	result, err := s.breaker.CallWithResult(ctx, func() (any, error) {
		return s.client.callTool(ctx, sessionID, name, args)
	})
	if err != nil {
		s.mu.Lock()
		s.status = ServerOffline
		s.tools = nil
		s.mu.Unlock()
		return nil, err
	}
	return result, nil
}
