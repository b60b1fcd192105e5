// Package app is the dependency-injection root of the Universal AI
// Gateway: it turns a loaded config.Config into a fully wired
// gatewayapi.NewMux handler, building the credential pools, rotation
// index, router, provider adapters, execution engine, response cache,
// session store, tool orchestrator, and reasoning drivers each endpoint
// depends on.
//
// Grounded on cmd/agentflow/server.go's Server struct and its staged
// construction idiom (initHandlers before startHTTPServer), generalized
// from one agent handler to the full Router/Engine/Reasoning pipeline.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nexusgate/gateway/config"
	"github.com/nexusgate/gateway/internal/credential"
	"github.com/nexusgate/gateway/internal/database"
	"github.com/nexusgate/gateway/internal/engine"
	"github.com/nexusgate/gateway/internal/gatewayapi"
	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/internal/providers/anthropic"
	"github.com/nexusgate/gateway/internal/providers/gemini"
	"github.com/nexusgate/gateway/internal/providers/openaicompat"
	"github.com/nexusgate/gateway/internal/reasoning"
	"github.com/nexusgate/gateway/internal/respcache"
	"github.com/nexusgate/gateway/internal/rotation"
	"github.com/nexusgate/gateway/internal/router"
	"github.com/nexusgate/gateway/internal/sessionstore"
	"github.com/nexusgate/gateway/internal/toolorch"
	"github.com/nexusgate/gateway/llm/tools"
)

const (
	credentialSweepInterval = 10 * time.Second
	toolRefreshInterval     = 30 * time.Second
	providerClientTimeout   = 2 * time.Minute
)

// App owns every long-lived resource internal/app constructs: the mux
// served by cmd/gatewayd and the handles needed to close them down
// cleanly (Redis client, DB connection). Background goroutines
// (credential sweep, tool orchestrator refresh) run for the lifetime of
// the context passed to New.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Handler http.Handler

	redisClient  *redis.Client
	db           *gorm.DB
	dbPool       *database.PoolManager
	credMgr      *credential.Manager
	orchestrator *toolorch.Orchestrator
}

// New builds the full dependency graph and returns an App whose Handler
// field is ready to be passed to an *http.Server. ctx governs the
// lifetime of background goroutines (credential sweep, tool refresh);
// cancel it to stop them before calling Close.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		app.redisClient = rdb
	}

	auditSink := app.buildAuditSink(cfg)

	pools, credMgr := buildCredentialPools(cfg.Gateway, auditSink, logger)
	app.credMgr = credMgr
	go credMgr.Run(ctx)

	var durable rotation.Index
	if rdb != nil {
		durable = rotation.NewRedisIndex(rdb)
	}
	index := rotation.NewFallback(durable, logger)

	registry := router.NewStaticRegistry(buildAliases(cfg.Gateway.Aliases))
	rt := router.New(registry, index, logger)

	var store *sessionstore.Store
	if rdb != nil {
		store = sessionstore.New(rdb, logger)
	} else {
		logger.Warn("sessionstore disabled: no redis.addr configured; ReAct driver and Gemini signature/context-cache roundtrip are unavailable")
	}

	httpClient := providers.SharedClient(providerClientTimeout)
	adapters := buildAdapters(cfg.Gateway.Providers, httpClient, store, logger)

	engineRegistry := engine.NewStaticRegistry(pools, adapters)
	eng := engine.New(engineRegistry, engineRegistry, logger)

	var cache *respcache.Cache
	if cfg.Gateway.ResponseCacheEnabled {
		cache = respcache.New(rdb, respcache.DefaultConfig(), logger)
	}

	toolRegistry := tools.NewDefaultRegistry(logger)
	orchestrator := toolorch.New(toolRegistry, buildToolServers(cfg.Gateway.MCPServers), cfg.Gateway.ToolEnablementFile, logger)
	app.orchestrator = orchestrator
	go orchestrator.Start(ctx, "startup", toolRefreshInterval)

	native := reasoning.NewNativeDriver(eng, orchestrator, logger)

	// react stays a nil gatewayapi.ReActReasoningDriver (not a typed-nil
	// *reasoning.ReActDriver boxed in the interface) when store is nil, so
	// ChatHandler's nil check in runDriver sees a genuine nil.
	var react gatewayapi.ReActReasoningDriver
	if store != nil {
		react = reasoning.NewReActDriver(eng, orchestrator, store, logger)
	}

	app.Handler = gatewayapi.NewMux(ctx, gatewayapi.Deps{
		Resolver: rt,
		Lister:   registry,
		Engine:   eng,
		Native:   native,
		React:    react,
		Cache:    cache,
		Logger:   logger,
	}, gatewayapi.AuthConfig{
		ValidTokens:    cfg.Server.BearerTokens,
		DisableAuth:    cfg.Server.DisableAuth,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitRPS:   float64(cfg.Server.RateLimitRPS),
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})

	return app, nil
}

// buildAuditSink opens a GORM connection and a credential.GormAuditSink
// when a database driver is configured; absence of one just means
// quarantine/retire events aren't durably logged, not that pools fail to
// build.
func (a *App) buildAuditSink(cfg *config.Config) credential.AuditSink {
	if cfg.Database.Driver == "" {
		return nil
	}
	db, err := openDatabase(cfg.Database)
	if err != nil {
		a.Logger.Warn("credential audit sink disabled: database unavailable", zap.Error(err))
		return nil
	}
	a.db = db

	poolCfg := database.DefaultPoolConfig()
	if pm, err := database.NewPoolManager(db, poolCfg, a.Logger); err != nil {
		a.Logger.Warn("database pool manager init failed, using unmanaged connection", zap.Error(err))
	} else {
		a.dbPool = pm
	}

	sink, err := credential.NewGormAuditSink(db, a.Logger)
	if err != nil {
		a.Logger.Warn("credential audit sink init failed", zap.Error(err))
		return nil
	}
	return sink
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres)", cfg.Driver)
	}
	return gorm.Open(dialector, &gorm.Config{})
}

// buildCredentialPools loads one credential.Pool per distinct provider
// named in the alias chains, registering each with a shared sweep
// Manager per spec §4.1's 10s quarantine-expiry tick.
func buildCredentialPools(gw config.GatewayConfig, auditSink credential.AuditSink, logger *zap.Logger) (map[string]*credential.Pool, *credential.Manager) {
	mgr := credential.NewManager(logger, credentialSweepInterval)
	pools := make(map[string]*credential.Pool)
	for _, name := range distinctProviders(gw.Aliases) {
		var opts []credential.Option
		if auditSink != nil {
			opts = append(opts, credential.WithAuditSink(auditSink))
		}
		pool := credential.New(name, logger, opts...)
		if err := pool.LoadFromFiles(gw.CredentialDir, name); err != nil {
			logger.Warn("credential pool: key file load failed", zap.String("provider", name), zap.Error(err))
		}
		pools[name] = pool
		mgr.Register(name, pool)
	}
	return pools, mgr
}

func distinctProviders(aliases []config.GatewayAlias) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range aliases {
		for _, p := range a.Chain {
			if p.Provider != "" && !seen[p.Provider] {
				seen[p.Provider] = true
				out = append(out, p.Provider)
			}
		}
	}
	return out
}

func buildAliases(gwAliases []config.GatewayAlias) []router.Alias {
	aliases := make([]router.Alias, 0, len(gwAliases))
	for _, a := range gwAliases {
		chain := make([]router.Profile, 0, len(a.Chain))
		for _, p := range a.Chain {
			chain = append(chain, router.Profile{
				Name:     p.Name,
				Provider: p.Provider,
				Model:    p.Model,
				Agent: router.AgentSettings{
					ReasoningMode: router.ReasoningMode(p.ReasoningMode),
					MaxIterations: p.MaxIterations,
				},
			})
		}
		aliases = append(aliases, router.Alias{
			Name:       a.Name,
			Chain:      chain,
			MainLength: a.MainLength,
			IsAgent:    a.IsAgent,
		})
	}
	return aliases
}

// buildAdapters constructs one provider adapter per configured backend.
// store, if non-nil, doubles as the Gemini adapter's SignatureStore and
// ContextCacheStore (internal/sessionstore.Store implements both).
func buildAdapters(providerCfgs []config.GatewayProviderConfig, httpClient *http.Client, store *sessionstore.Store, logger *zap.Logger) map[string]providers.Adapter {
	adapters := make(map[string]providers.Adapter, len(providerCfgs))
	for _, pc := range providerCfgs {
		switch pc.Kind {
		case "anthropic":
			adapters[pc.Name] = anthropic.New(anthropic.Config{
				BaseURL:      pc.BaseURL,
				APIVersion:   pc.APIVersion,
				DefaultModel: pc.DefaultModel,
			}, httpClient, logger)
		case "gemini":
			cfg := gemini.Config{BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel}
			if store != nil {
				cfg.SignatureStore = store
				cfg.CacheStore = store
			}
			adapters[pc.Name] = gemini.New(cfg, httpClient, logger)
		default:
			adapters[pc.Name] = openaicompat.New(openaicompat.Config{
				ProviderName: pc.Name,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			}, httpClient, logger)
		}
	}
	return adapters
}

func buildToolServers(mcpServers []config.GatewayMCPServer) []toolorch.ServerConfig {
	servers := make([]toolorch.ServerConfig, 0, len(mcpServers))
	for _, s := range mcpServers {
		servers = append(servers, toolorch.ServerConfig{Name: s.Name, BaseURL: s.BaseURL, Enabled: s.Enabled})
	}
	return servers
}

// Close releases resources App owns directly. Background goroutines
// started in New exit on their own once the ctx passed to New is
// cancelled; Close does not cancel that context itself.
func (a *App) Close() error {
	var errs []string
	if a.orchestrator != nil {
		a.orchestrator.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if a.dbPool != nil {
		if err := a.dbPool.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	} else if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("app: close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
