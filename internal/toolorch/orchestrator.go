package toolorch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/pool"
	"github.com/nexusgate/gateway/llm/tools"
	"github.com/nexusgate/gateway/types"
)

const qualifiedNameSeparator = "::"

// maxConcurrentDispatches bounds how many tool calls from a single
// DispatchAll batch run at once; a model can request far more tool
// calls in one turn than the remote MCP servers can usefully serve in
// parallel.
const maxConcurrentDispatches = 16

// Orchestrator unifies native, remote-MCP, and (indirectly, via
// ActiveTools feeding the provider request builder) provider-declared
// tool surfaces behind one Dispatch call.
//
// Grounded on llm/tools's DefaultRegistry/DefaultExecutor for the
// native half, and agent/protocol/mcp plus the per-server breaker in
// server.go for the remote half.
type Orchestrator struct {
	registry tools.ToolRegistry
	executor tools.ToolExecutor

	mu           sync.RWMutex
	servers      []*remoteServer // preserves configuration order; first is the default fuzzy-routing target
	serverByName map[string]*remoteServer

	enablement   *enablementWatcher
	dispatchPool *pool.GoroutinePool
	logger       *zap.Logger
}

// New builds an Orchestrator. enablementFilePath may be empty, in which
// case every discovered tool defaults to enabled.
func New(registry tools.ToolRegistry, servers []ServerConfig, enablementFilePath string, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatchPoolCfg := pool.DefaultGoroutinePoolConfig()
	dispatchPoolCfg.MaxWorkers = maxConcurrentDispatches
	o := &Orchestrator{
		registry:     registry,
		executor:     tools.NewDefaultExecutor(registry, logger),
		serverByName: make(map[string]*remoteServer),
		dispatchPool: pool.NewGoroutinePool(dispatchPoolCfg),
		logger:       logger,
	}
	for _, cfg := range servers {
		rs := newRemoteServer(cfg, logger)
		o.servers = append(o.servers, rs)
		o.serverByName[cfg.Name] = rs
	}
	if enablementFilePath != "" {
		o.enablement = newEnablementWatcher(enablementFilePath, logger)
	}
	return o
}

// Start runs background refresh and the enablement watcher until ctx
// is cancelled. Call once, in a goroutine.
func (o *Orchestrator) Start(ctx context.Context, sessionID string, refreshInterval time.Duration) {
	if o.enablement != nil {
		go o.enablement.Start(ctx)
	}
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}
	o.refreshAll(ctx, sessionID)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.refreshAll(ctx, sessionID)
		}
	}
}

func (o *Orchestrator) refreshAll(ctx context.Context, sessionID string) {
	o.mu.RLock()
	servers := append([]*remoteServer(nil), o.servers...)
	o.mu.RUnlock()

	for _, s := range servers {
		if err := s.Refresh(ctx, sessionID); err != nil {
			o.logger.Warn("toolorch: server refresh failed",
				zap.String("server", s.cfg.Name), zap.Error(err))
		}
	}
}

// resolveServer looks up a server by exact name, falling back to a
// pluralization-corrected match ("tool"/"tools") for minor typos.
func (o *Orchestrator) resolveServer(name string) *remoteServer {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if s, ok := o.serverByName[name]; ok {
		return s
	}
	if s, ok := o.serverByName[name+"s"]; ok {
		return s
	}
	if trimmed := strings.TrimSuffix(name, "s"); trimmed != name {
		if s, ok := o.serverByName[trimmed]; ok {
			return s
		}
	}
	return nil
}

func (o *Orchestrator) defaultServer() *remoteServer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.servers) == 0 {
		return nil
	}
	return o.servers[0]
}

// splitQualified expands a bare name (no "::" prefix) against the
// first configured remote server, per spec's fuzzy-routing rule.
func (o *Orchestrator) splitQualified(qualifiedOrBare string) (server *remoteServer, toolName string) {
	if idx := strings.Index(qualifiedOrBare, qualifiedNameSeparator); idx >= 0 {
		serverName := qualifiedOrBare[:idx]
		toolName = qualifiedOrBare[idx+len(qualifiedNameSeparator):]
		return o.resolveServer(serverName), toolName
	}
	return o.defaultServer(), qualifiedOrBare
}

// Dispatch routes a single tool call to its native implementation or
// the appropriate remote MCP server.
func (o *Orchestrator) Dispatch(ctx context.Context, sessionID string, call types.ToolCall) Result {
	if o.registry.Has(call.Name) {
		r := o.executor.ExecuteOne(ctx, call)
		return Result{ToolCallID: r.ToolCallID, Name: r.Name, Result: r.Result, Error: r.Error}
	}

	server, toolName := o.splitQualified(call.Name)
	if server == nil {
		return errorResult(call, fmt.Errorf("toolorch: no remote server configured for %q", call.Name))
	}
	if server.Status() == ServerOffline {
		return errorResult(call, fmt.Errorf("toolorch: server %q is offline", server.cfg.Name))
	}

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return errorResult(call, fmt.Errorf("toolorch: invalid arguments: %w", err))
		}
	}

	raw, err := server.CallTool(ctx, sessionID, toolName, args)
	if err != nil {
		return errorResult(call, err)
	}
	resultJSON, err := json.Marshal(raw)
	if err != nil {
		return errorResult(call, fmt.Errorf("toolorch: marshal result: %w", err))
	}
	return Result{ToolCallID: call.ID, Name: call.Name, Result: resultJSON}
}

// DispatchAll runs every call through the orchestrator's bounded
// dispatchPool and waits for all of them, mirroring
// llm/tools.DefaultExecutor.Execute's fan-out shape but capping
// concurrency at maxConcurrentDispatches regardless of batch size.
func (o *Orchestrator) DispatchAll(ctx context.Context, sessionID string, calls []types.ToolCall) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		idx, c := i, call
		err := o.dispatchPool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			results[idx] = o.Dispatch(taskCtx, sessionID, c)
			return nil
		})
		if err != nil {
			// Pool saturated or closed: run inline rather than drop the call.
			wg.Done()
			results[idx] = o.Dispatch(ctx, sessionID, c)
		}
	}
	wg.Wait()
	return results
}

// Close shuts down the orchestrator's dispatch pool, waiting for any
// in-flight tool calls to finish.
func (o *Orchestrator) Close() {
	o.dispatchPool.Close()
}

// ActiveTools lists every tool currently eligible for inclusion in a
// provider request: native tools (always reachable) plus remote tools
// from ONLINE servers, intersected with the enablement file's flags.
func (o *Orchestrator) ActiveTools() []ToolDescriptor {
	var out []ToolDescriptor

	for _, schema := range o.registry.List() {
		if o.isEnabled(schema.Name) {
			out = append(out, ToolDescriptor{QualifiedName: schema.Name, Schema: schema, Enabled: true})
		}
	}

	o.mu.RLock()
	servers := append([]*remoteServer(nil), o.servers...)
	o.mu.RUnlock()

	for _, s := range servers {
		if !s.cfg.Enabled || s.Status() != ServerOnline {
			continue
		}
		for _, def := range s.Tools() {
			qualified := s.cfg.Name + qualifiedNameSeparator + def.Name
			if !o.isEnabled(qualified) {
				continue
			}
			out = append(out, ToolDescriptor{QualifiedName: qualified, Schema: def.ToLLMToolSchema(), Enabled: true})
		}
	}

	return out
}

func (o *Orchestrator) isEnabled(name string) bool {
	if o.enablement == nil {
		return true
	}
	return o.enablement.Enabled(name)
}
