// Package main provides the gateway server implementation: dependency
// wiring for every gateway component (queue, router, health checker,
// retry executor, cache manager, backpressure controller, engine,
// discussion orchestrator, stream manager) behind the HTTP/Metrics
// listener pair.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/BaSui01/agentflow/api/handlers"
	"github.com/BaSui01/agentflow/config"
	"github.com/BaSui01/agentflow/internal/backpressure"
	"github.com/BaSui01/agentflow/internal/cache"
	"github.com/BaSui01/agentflow/internal/cachemgr"
	"github.com/BaSui01/agentflow/internal/discussion"
	"github.com/BaSui01/agentflow/internal/engine"
	"github.com/BaSui01/agentflow/internal/health"
	"github.com/BaSui01/agentflow/internal/metrics"
	"github.com/BaSui01/agentflow/internal/providers"
	"github.com/BaSui01/agentflow/internal/queue"
	"github.com/BaSui01/agentflow/internal/reliability"
	"github.com/BaSui01/agentflow/internal/retry"
	"github.com/BaSui01/agentflow/internal/router"
	"github.com/BaSui01/agentflow/internal/server"
	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/internal/streammgr"
	"github.com/BaSui01/agentflow/internal/telemetry"
	"github.com/BaSui01/agentflow/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Server is the gateway's main process: it owns every component's
// lifecycle and the HTTP/Metrics listener pair.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	store        *store.Store
	queue        *queue.Queue
	router       *router.Router
	health       *health.Checker
	backpressure *backpressure.Controller
	reliability  *reliability.Tracker
	cacheMgr     *cachemgr.Manager
	retryExec    *retry.Executor
	engine       *engine.Engine
	discussion   *discussion.Orchestrator
	streams      *streammgr.Manager
	redisFront   *cache.Manager

	askHandler        *handlers.AskHandler
	streamHandler     *handlers.StreamHandler
	statusHandler     *handlers.StatusHandler
	cacheHandler      *handlers.CacheHandler
	discussionHandler *handlers.DiscussionHandler
	costHandler       *handlers.CostHandler
	healthHandler     *handlers.HealthHandler

	metricsCollector *metrics.Collector
	telemetry        *telemetry.Providers

	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	wg sync.WaitGroup
}

// NewServer creates a new gateway server instance.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// Start wires and starts every component, then both listeners.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("agentflow_gateway", s.logger)

	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	s.engine.Start(context.Background())
	s.health.Start(context.Background())
	s.cacheMgr.Start(context.Background())
	s.backpressure.Start()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("gateway started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// combinedPerformanceSource blends ReliabilityTracker's EMA score with
// ProviderChecker's live availability, satisfying router.PerformanceSource
// without either component needing to know about routing.
type combinedPerformanceSource struct {
	rel    *reliability.Tracker
	health *health.Checker
}

func (c combinedPerformanceSource) PerformanceScore(provider string) float64 {
	return c.rel.Score(provider).Score
}

func (c combinedPerformanceSource) IsHealthy(provider string) bool {
	return c.health.IsAvailable(provider)
}

// openDatabase opens a *gorm.DB for the configured driver. Dialector
// selection mirrors internal/migration.NewMigratorFromDatabaseConfig's
// driver switch, reused here for the live connection instead of a
// migration URL.
func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN()), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func buildPricingTable() store.PricingTable {
	// TODO: load per-provider rates from an admin-managed table instead of
	// a fixed baseline once the pricing CRUD endpoints exist.
	return store.PricingTable{}
}

// initComponents builds the full dependency graph: store -> queue ->
// reliability -> health -> router -> backpressure -> cache -> retry ->
// streams -> engine -> discussion.
func (s *Server) initComponents() error {
	db, err := openDatabase(s.cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(store.AllModels()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	poolCfg := store.PoolConfig{
		MaxIdleConns:    s.cfg.Database.MaxIdleConns,
		MaxOpenConns:    s.cfg.Database.MaxOpenConns,
		ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
	}
	pool, err := store.NewPool(db, poolCfg, s.logger)
	if err != nil {
		return fmt.Errorf("new pool: %w", err)
	}

	s.store = store.New(pool, buildPricingTable(), s.logger, 100)

	s.queue = queue.New(s.cfg.Queue.MaxDepth, s.cfg.Queue.MaxConcurrent)

	s.reliability = reliability.New()

	healthCfg := health.Config{
		CheckInterval:       s.cfg.Health.CheckInterval,
		CheckTimeout:        s.cfg.Health.CheckTimeout,
		FailuresToUnhealthy: s.cfg.Health.FailuresToUnhealthy,
		SuccessesToHealthy:  s.cfg.Health.SuccessesToHealthy,
	}
	s.health = health.New(healthCfg, s.logger)

	s.router = router.New(s.cfg.Router.DefaultProvider, combinedPerformanceSource{rel: s.reliability, health: s.health})
	rules := make([]router.Rule, 0, len(s.cfg.Router.Rules))
	for _, rule := range s.cfg.Router.Rules {
		rules = append(rules, router.Rule{
			Keywords:    rule.Keywords,
			Provider:    rule.Provider,
			Model:       rule.Model,
			Priority:    rule.Priority,
			Description: rule.Description,
		})
	}
	s.router.SetRules(rules)
	for name, providers := range s.cfg.Router.Groups {
		s.router.SetGroup(name, providers)
	}

	s.backpressure = backpressure.New(
		backpressure.Config{
			BaselineMaxConcurrent: s.cfg.Backpressure.BaselineMaxConcurrent,
			SampleInterval:        s.cfg.Backpressure.SampleInterval,
			SuccessWindowSize:     s.cfg.Backpressure.SuccessWindowSize,
		},
		func() (int, int) { return s.queue.Depth(), s.cfg.Queue.MaxDepth },
		s.queue.SetMaxConcurrent,
	)

	s.cacheMgr = cachemgr.New(cachemgr.Config{
		TTL:           s.cfg.Cache.TTL,
		SweepInterval: s.cfg.Cache.SweepInterval,
		MaxEntries:    s.cfg.Cache.MaxEntries,
	}, s.store, s.logger)
	s.cacheMgr.SetMetrics(s.metricsCollector)

	if s.cfg.Cache.RedisFrontEnabled {
		front, err := cache.NewManager(cache.Config{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
			DefaultTTL:   s.cfg.Cache.TTL,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("redis front: %w", err)
		}
		s.redisFront = front
		s.cacheMgr.SetFront(front)
	}

	s.retryExec = retry.New(retry.Config{
		Transient: retry.Policy{
			MaxRetries: s.cfg.Retry.Transient.MaxRetries,
			BaseDelay:  s.cfg.Retry.Transient.BaseDelay,
			MaxDelay:   s.cfg.Retry.Transient.MaxDelay,
		},
		RateLimit: retry.Policy{
			MaxRetries: s.cfg.Retry.RateLimit.MaxRetries,
			BaseDelay:  s.cfg.Retry.RateLimit.BaseDelay,
			MaxDelay:   s.cfg.Retry.RateLimit.MaxDelay,
		},
		FallbackEnabled: s.cfg.Retry.FallbackEnabled,
	}, s.health, s.reliability)
	s.retryExec.SetMetrics(s.metricsCollector)

	s.streams = streammgr.New(s.store)

	s.engine = engine.New(
		engine.DefaultConfig(),
		s.queue, s.store, s.health, s.backpressure, s.reliability,
		s.router, s.cacheMgr, s.retryExec, s.streams, s.logger,
	)
	s.engine.SetMetrics(s.metricsCollector)

	for _, p := range s.cfg.Providers {
		s.engine.RegisterBackend(providers.NewOpenAIBackend(p.Name, p.BaseURL, p.APIKey, p.Model, p.Timeout))
	}

	s.discussion = discussion.New(s.store, s.buildProviderCaller(), s.logger)

	return nil
}

// buildProviderCaller adapts the engine's registered backends into the
// single-prompt ProviderCaller signature the discussion orchestrator needs.
func (s *Server) buildProviderCaller() discussion.ProviderCaller {
	return func(ctx context.Context, provider, prompt string) (string, error) {
		result, err := s.engine.Execute(ctx, &types.Request{
			Provider: provider,
			Message:  prompt,
			TimeoutS: s.cfg.Discussion.ProviderTimeoutS,
		})
		if err != nil {
			return "", err
		}
		if !result.Success {
			return "", fmt.Errorf("%s: %s", provider, result.Error)
		}
		return result.Response, nil
	}
}

func (s *Server) initHandlers() error {
	s.askHandler = handlers.NewAskHandler(s.queue, s.store, s.cacheMgr, s.logger)
	s.streamHandler = handlers.NewStreamHandler(s.queue, s.store, s.streams, s.logger)
	s.statusHandler = handlers.NewStatusHandler(s.queue, s.health, s.reliability, s.backpressure, s.logger)
	s.cacheHandler = handlers.NewCacheHandler(s.cacheMgr, s.logger)
	s.discussionHandler = handlers.NewDiscussionHandler(s.discussion, s.store, s.logger)
	s.costHandler = handlers.NewCostHandler(s.store, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", func(ctx context.Context) error {
		return s.store.Ping(ctx)
	}))
	if s.redisFront != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", s.redisFront.Ping))
	}

	s.logger.Info("handlers initialized")
	return nil
}

func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("configuration reloaded")
		s.cfg = newConfig
		s.queue.SetMaxConcurrent(newConfig.Queue.MaxConcurrent)
	})

	if err := s.hotReloadManager.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)

	return nil
}

// startHTTPServer registers every route and wraps the mux in the full
// middleware chain.
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("/api/ask", s.askHandler.HandleAsk)
	mux.HandleFunc("/api/reply/", s.askHandler.HandleReply)
	mux.HandleFunc("/api/ask/stream", s.streamHandler.HandleAskStream)
	mux.HandleFunc("/api/stream/", s.streamHandler.HandleStreamTail)
	mux.HandleFunc("/api/streams", s.streamHandler.HandleSearchThinking)

	mux.HandleFunc("/api/status", s.statusHandler.HandleStatus)
	mux.HandleFunc("/api/providers", s.statusHandler.HandleProviders)
	mux.HandleFunc("/api/admin/providers/{name}/enable", s.statusHandler.HandleProviderEnable)
	mux.HandleFunc("/api/admin/providers/{name}/disable", s.statusHandler.HandleProviderDisable)
	mux.HandleFunc("/api/queue", s.statusHandler.HandleQueue)

	mux.HandleFunc("/api/cache/stats", s.cacheHandler.HandleStats)
	mux.HandleFunc("/api/cache/stats/detailed", s.cacheHandler.HandleDetailed)
	mux.HandleFunc("/api/cache", s.cacheHandler.HandleClear)
	mux.HandleFunc("/api/cache/cleanup", s.cacheHandler.HandleCleanup)

	mux.HandleFunc("/api/discussions", s.discussionHandler.HandleList)
	mux.HandleFunc("/api/discussion/start", s.discussionHandler.HandleStart)
	mux.HandleFunc("/api/discussion/{id}/continue", s.discussionHandler.HandleContinue)
	mux.HandleFunc("/api/discussion/{id}", s.discussionHandler.HandleGet)

	mux.HandleFunc("/api/cost/summary", s.costHandler.HandleSummary)
	mux.HandleFunc("/api/cost/by-provider", s.costHandler.HandleByProvider)
	mux.HandleFunc("/api/cost/by-day", s.costHandler.HandleByDay)

	if s.configAPIHandler != nil {
		s.configAPIHandler.RegisterRoutes(mux)
		s.logger.Info("configuration API registered")
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	ctx := context.Background()
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
		JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks on the HTTP manager's signal listener, then
// performs Shutdown.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the hot-reload watcher and both listeners, then the
// engine, health checker, cache manager and backpressure controller in the
// order Start launched them, and finally flushes telemetry.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("hot reload manager shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	if s.engine != nil {
		s.engine.Stop()
	}
	if s.health != nil {
		s.health.Stop()
	}
	if s.cacheMgr != nil {
		s.cacheMgr.Stop()
	}
	if s.backpressure != nil {
		s.backpressure.Stop()
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.logger.Info("graceful shutdown completed")
}
