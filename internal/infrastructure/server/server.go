package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/index"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/tracing"
)

// Server wraps the index HTTP server and its dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	store    *index.Store
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	registry *prometheus.Registry
}

// NewServer creates a new index server instance. A nil logger is replaced
// by one built from cfg.Logging.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		if cfg.Logging.Development {
			logger = logging.NewDevelopment()
		} else {
			logger = logging.NewDefault()
		}
	}

	logger.Info("Initializing package index",
		zap.String("dir", cfg.Index.Dir),
		zap.String("port", cfg.Index.Port),
		zap.String("device", cfg.Index.DeviceInfo),
	)

	info, err := os.Stat(cfg.Index.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open index directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("index path %s is not a directory", cfg.Index.Dir)
	}

	// Initialize metrics first (needed by the router)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	store := index.NewStore(cfg.Index.Dir, cfg.Packages.ArchiveExt, logger)

	// Create router
	if !cfg.Logging.Development && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(index.CORS(index.CORSConfig{
		AllowOrigins: cfg.Index.AllowOrigins,
		MaxAge:       12 * time.Hour,
	}))
	if cfg.Index.RateLimit > 0 {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.Index.RateLimit),
			zap.Int("burst", cfg.Index.Burst),
		)
		router.Use(index.RateLimit(index.RateLimitConfig{
			RequestsPerSecond: cfg.Index.RateLimit,
			Burst:             cfg.Index.Burst,
		}))
	}

	// Register routes
	index.NewHandlers(store, cfg.Index.DeviceInfo, logger).Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	logger.Info("Index server initialized")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Index.Host, cfg.Index.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:    store,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		registry: registry,
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store returns the envelope store being served.
func (s *Server) Store() *index.Store {
	return s.store
}

// Run serves until Close is called.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("Graceful shutdown failed", zap.Error(err))
		return fmt.Errorf("failed to shut down: %w", err)
	}

	// Sync logger before exit
	_ = s.logger.Sync()

	return nil
}
