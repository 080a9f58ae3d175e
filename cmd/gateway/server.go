package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/syranol/inference-gateway/api/handlers"
	"github.com/syranol/inference-gateway/config"
	"github.com/syranol/inference-gateway/gateway"
	"github.com/syranol/inference-gateway/internal/cache"
	"github.com/syranol/inference-gateway/internal/database"
	"github.com/syranol/inference-gateway/internal/ledger"
	"github.com/syranol/inference-gateway/internal/metrics"
	"github.com/syranol/inference-gateway/internal/server"
	"github.com/syranol/inference-gateway/internal/telemetry"
	"github.com/syranol/inference-gateway/llm/upstream"
)

// metricsNamespace Prometheus 指标前缀
const metricsNamespace = "gateway"

// skipAuthPaths 不需要认证的探针路径
var skipAuthPaths = []string{"/healthz", "/upstream-health", "/ready", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装网关的全部组件并管理其生命周期
type Server struct {
	reloader  *config.Reloader
	logger    *zap.Logger
	providers *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector    *metrics.Collector
	upstream     *upstream.Client
	orchestrator *gateway.Orchestrator
	cacheManager *cache.Manager
	dbPool       *database.PoolManager
	ledger       *ledger.Store

	healthHandler  *handlers.HealthHandler
	chatHandler    *handlers.ChatHandler
	sessionHandler *handlers.SessionHandler

	// 中间件后台任务（限流清理）的生命周期
	bgCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(reloader *config.Reloader, providers *telemetry.Providers, logger *zap.Logger) *Server {
	return &Server{
		reloader:  reloader,
		providers: providers,
		logger:    logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化组件并启动 API 与 Metrics 服务器
func (s *Server) Start(ctx context.Context) error {
	cfg := s.reloader.Current()

	s.collector = metrics.NewCollector(metricsNamespace, s.logger)

	s.initUpstream(cfg.Upstream)
	s.initCache(cfg.Redis)
	if err := s.initLedger(cfg.Database); err != nil {
		return fmt.Errorf("failed to init session ledger: %w", err)
	}
	if err := s.initOrchestrator(cfg); err != nil {
		return fmt.Errorf("failed to init orchestrator: %w", err)
	}
	s.initHandlers(cfg)

	s.reloader.OnReload(func(_, next *config.Config) {
		s.logger.Info("model policy updated",
			zap.Strings("allow", next.Models.Allow),
			zap.String("summary_default", next.Models.SummaryDefault))
	})
	if err := s.reloader.Start(ctx); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	if err := s.startHTTPServer(cfg.Server); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(cfg.Server); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.Bool("summary_cache", s.cacheManager != nil),
		zap.Bool("session_ledger", s.ledger != nil),
		zap.Bool("telemetry", s.providers.Enabled()),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initUpstream(uc config.UpstreamConfig) {
	s.upstream = upstream.New(upstream.Config{
		BaseURL:        uc.BaseURL,
		Path:           uc.ChatPath,
		APIKey:         uc.APIKey,
		RequestTimeout: uc.RequestTimeout,
		PingTimeout:    uc.PingTimeout,
		MaxRetries:     uc.MaxRetries,
		RetryBackoff:   uc.RetryBackoff,
		OnCall:         s.collector.RecordUpstreamCall,
	}, s.logger)
}

// initCache Redis 不可用时降级为无缓存运行
func (s *Server) initCache(rc config.RedisConfig) {
	if !rc.Enabled {
		return
	}
	m, err := cache.NewManager(cache.ConfigFrom(rc), s.logger)
	if err != nil {
		s.logger.Warn("redis unavailable, summary cache disabled", zap.Error(err))
		return
	}
	s.cacheManager = m
}

func (s *Server) initLedger(dc config.DatabaseConfig) error {
	if !dc.Enabled() {
		s.logger.Info("database not configured, session ledger disabled")
		return nil
	}
	db, err := database.Open(dc, s.logger)
	if err != nil {
		return err
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(dc), s.logger,
		database.WithStatsRecorder(s.collector))
	if err != nil {
		return err
	}
	store, err := ledger.NewStore(pool, s.logger, ledger.WithQueryRecorder(s.collector))
	if err != nil {
		_ = pool.Close()
		return err
	}
	s.dbPool = pool
	s.ledger = store
	return nil
}

func (s *Server) initOrchestrator(cfg *config.Config) error {
	opts := gateway.DefaultOptions()
	opts.SummaryTimeout = cfg.Reasoning.SummaryTimeout
	opts.MaxReasoningChars = cfg.Reasoning.MaxChars
	opts.ParseNativeReasoning = cfg.Reasoning.ParseNative
	opts.DefaultSummaryModel = cfg.Models.SummaryDefault
	opts.Observers = []gateway.Observer{s.collector}
	if s.cacheManager != nil {
		opts.Cache = cache.NewSummaryCache(s.cacheManager, cfg.Redis.SummaryTTL, s.collector)
	}
	if s.ledger != nil {
		opts.Observers = append(opts.Observers, s.ledger)
	}

	o, err := gateway.New(s.upstream, opts, s.logger)
	if err != nil {
		return err
	}
	s.orchestrator = o
	return nil
}

func (s *Server) initHandlers(cfg *config.Config) {
	s.healthHandler = handlers.NewHealthHandler(s.upstream, s.logger)
	s.healthHandler.RegisterCheck(handlers.UpstreamCheck(s.upstream))
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewCheck("redis", s.cacheManager.Ping))
	}
	if s.dbPool != nil {
		s.healthHandler.RegisterCheck(handlers.NewCheck("database", s.dbPool.Ping))
	}

	// 模型策略按请求读取，热更新后立即生效
	models := func() config.ModelsConfig { return s.reloader.Current().Models }
	s.chatHandler = handlers.NewChatHandler(s.orchestrator, models, s.logger).
		WithOriginPatterns(cfg.Server.CORSAllowedOrigins...)

	if s.ledger != nil {
		s.sessionHandler = handlers.NewSessionHandler(s.ledger, s.logger)
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册 API 路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /upstream-health", s.healthHandler.HandleUpstreamHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /v1/chat/completions", s.chatHandler.HandleStream)
	mux.HandleFunc("GET /v1/chat/ws", s.chatHandler.HandleWebSocket)

	if s.sessionHandler != nil {
		mux.HandleFunc("GET /v1/sessions/{request_id}", s.sessionHandler.HandleGet)
	}
	return mux
}

// handler 组装中间件链
func (s *Server) handler(sc config.ServerConfig) http.Handler {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(sc.CORSAllowedOrigins),
	}
	if len(sc.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(sc.APIKeys, skipAuthPaths, s.logger))
	}
	if sc.JWT.Enabled() {
		chain = append(chain, JWTAuth(sc.JWT, skipAuthPaths, s.logger))
	}
	if sc.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(bgCtx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger))
	}
	return Chain(s.routes(), chain...)
}

func (s *Server) startHTTPServer(sc config.ServerConfig) error {
	s.httpManager = server.NewManager(s.handler(sc), server.ConfigFrom(sc), s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer(sc config.ServerConfig) error {
	if sc.MetricsPort == 0 {
		s.logger.Info("metrics port not set, metrics server disabled")
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.MetricsConfigFrom(sc), s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown(ctx)
	}
	s.Shutdown()
}

// Shutdown 按依赖逆序关闭所有组件
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	s.reloader.Stop()

	// 先停 API，在途会话结束后观察者才完成写入
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("database close error", zap.Error(err))
		}
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.providers.Shutdown(flushCtx); err != nil {
		s.logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
