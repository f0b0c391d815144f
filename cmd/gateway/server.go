package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/openrouter-proxy/gateway/config"
	"github.com/openrouter-proxy/gateway/internal/adminapi"
	"github.com/openrouter-proxy/gateway/internal/authgate"
	"github.com/openrouter-proxy/gateway/internal/breaker"
	"github.com/openrouter-proxy/gateway/internal/healthcheck"
	"github.com/openrouter-proxy/gateway/internal/metrics"
	"github.com/openrouter-proxy/gateway/internal/proxy"
	"github.com/openrouter-proxy/gateway/internal/registry"
	"github.com/openrouter-proxy/gateway/internal/rotation"
	"github.com/openrouter-proxy/gateway/internal/server"
	"github.com/openrouter-proxy/gateway/internal/store"
	"github.com/openrouter-proxy/gateway/internal/vault"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the gateway's main process: it owns the State Store
// connection and every dataplane component built on top of it, and
// manages the public HTTP listener, the metrics listener, and graceful
// shutdown.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	store            *store.Store
	vault            *vault.Vault
	registry         *registry.Registry
	breakers         *breaker.Registry
	rotationEngine   *rotation.Engine
	proxyEngine      *proxy.Engine
	gate             *authgate.Gate
	healthHandler    *healthcheck.Handler
	adminHandlers    *adminapi.Handlers
	metricsCollector *metrics.Collector

	hotReloadManager *config.HotReloadManager

	rotationCancel context.CancelFunc
	wg             sync.WaitGroup
}

// NewServer creates a new Server instance from the loaded configuration.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, configPath: configPath, logger: logger}
}

// Start wires every component together and starts both listeners. It
// returns once both listeners are accepting connections; it does not
// block for the server's lifetime (see WaitForShutdown).
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("openrouter_gateway", s.logger)

	if err := s.initStore(); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if err := s.initDataplane(); err != nil {
		return fmt.Errorf("init dataplane: %w", err)
	}
	if err := s.initHotReload(); err != nil {
		return fmt.Errorf("init hot reload: %w", err)
	}

	rotationCtx, cancel := context.WithCancel(context.Background())
	s.rotationCancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rotationEngine.Run(rotationCtx)
	}()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("gateway started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)
	return nil
}

func (s *Server) initStore() error {
	storeCfg := store.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	}
	st, err := store.New(storeCfg, s.logger)
	if err != nil {
		return err
	}
	s.store = st
	return nil
}

func (s *Server) initDataplane() error {
	v, err := vault.New(vault.Config{MasterKeyHex: s.cfg.Vault.MasterKeyHex}, s.store, s.logger)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}
	s.vault = v

	s.registry = registry.New(s.store, s.vault, s.logger)

	s.breakers = breaker.NewRegistry(breaker.Config{
		FailureThreshold: s.cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  s.cfg.Breaker.RecoveryTimeout,
		MaxHalfOpenCalls: s.cfg.Breaker.MaxHalfOpenCalls,
	}, s.logger)

	s.rotationEngine = rotation.New(rotation.Config{
		DefaultStrategy: rotation.Strategy(s.cfg.Rotation.DefaultStrategy),
		CleanupInterval: s.cfg.Rotation.CleanupInterval,
		CleanupRetry:    s.cfg.Rotation.CleanupRetry,
	}, s.registry, s.breakers, s.logger)

	s.proxyEngine = proxy.New(proxy.Config{
		BaseURL:        s.cfg.Upstream.BaseURL,
		RequestTimeout: s.cfg.Upstream.RequestTimeout,
		MaxAttempts:    s.cfg.Upstream.MaxAttempts,
		BaseBackoff:    s.cfg.Upstream.BaseBackoff,
		MaxBackoff:     s.cfg.Upstream.MaxBackoff,
	}, s.rotationEngine, s.vault, s.metricsCollector, s.logger)

	s.gate = authgate.New(s.registry, s.metricsCollector, s.logger)

	s.healthHandler = healthcheck.New(s.logger)
	s.healthHandler.RegisterCheck(healthcheck.StoreCheck{Pinger: s.store.Ping})

	s.adminHandlers = adminapi.New(s.registry, s.breakers, s.rotationEngine, s.logger)

	return nil
}

func (s *Server) initHotReload() error {
	s.hotReloadManager = config.NewHotReloadManager(s.cfg, s.configPath, "GATEWAY", s.logger)
	s.hotReloadManager.OnReload(func(oldCfg, newCfg *config.Config) {
		s.cfg = newCfg
		s.rotationEngine.SetStrategy(rotation.Strategy(newCfg.Rotation.DefaultStrategy))
		s.logger.Info("config reloaded", zap.String("strategy", newCfg.Rotation.DefaultStrategy))
	})
	if s.configPath == "" {
		return nil
	}
	s.hotReloadManager.Start(context.Background())
	return nil
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	adminMux := http.NewServeMux()
	s.adminHandlers.Register(adminMux)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	adminHandler := Chain(adminMux,
		APIKeyAuth(s.cfg.Admin.Token, skipAuthPaths, s.logger),
		RateLimiter(context.Background(), s.cfg.Admin.IPRateLimit, s.cfg.Admin.IPRateBurst, s.logger),
	)
	if s.cfg.Admin.Enabled {
		mux.Handle("/admin/", adminHandler)
	}

	mux.Handle("/", http.HandlerFunc(s.proxyEngine.Proxy))

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		ClientIP(),
		SecurityHeaders(),
		MetricsMiddleware(s.metricsCollector),
		RequestLogger(s.logger),
		s.gate.Middleware,
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * s.cfg.Server.ReadTimeout,
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

// WaitForShutdown blocks until a shutdown signal arrives, then runs Shutdown.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown tears every component down in reverse dependency order.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()

	if s.hotReloadManager != nil {
		s.hotReloadManager.Stop()
	}
	if s.rotationCancel != nil {
		s.rotationCancel()
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

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
