// Package httpapi serves the query and ingestion endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/ingest"
	"github.com/fyrsmithlabs/docrag/internal/logging"
	"github.com/fyrsmithlabs/docrag/internal/query"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/service"
	"github.com/fyrsmithlabs/docrag/internal/source"
)

// Backend is the engine behind the endpoints. *service.Service implements it.
type Backend interface {
	Query(ctx context.Context, text string) (*query.Result, error)
	Ingest(ctx context.Context, docs []rag.Document) (*ingest.Report, error)
	IngestAndQuery(ctx context.Context, docs []rag.Document, text string) (*query.Result, *ingest.Report, error)
	Reset(ctx context.Context) error
	Stats() service.Stats
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// DataDir is the directory uploads are stored in and documents are
	// loaded from.
	DataDir string
	Source  source.Options
	// MaxUploadBytes bounds a whole upload request body. Defaults to 32MB.
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 32 << 20

// Server provides the docrag HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	backend Backend
	logger  *logging.Logger
	config  *Config
}

// NewServer creates a server and registers its routes.
func NewServer(backend Backend, logger *logging.Logger, cfg *Config) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend cannot be nil", rag.ErrConfiguration)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required for request tracking", rag.ErrConfiguration)
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8000, DataDir: "./data"}
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", rag.ErrConfiguration)
	}
	if err := cfg.Source.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(metricsMiddleware())

	s := &Server{
		echo:    e,
		backend: backend,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/query", s.handleQuery)
	v1.POST("/ingest", s.handleIngest)
	v1.GET("/stats", s.handleStats)
	v1.DELETE("/index", s.handleResetIndex)
	v1.POST("/upload_file", s.handleUpload, middleware.BodyLimit(fmt.Sprintf("%dB", s.config.MaxUploadBytes)))
	v1.DELETE("/delete_files", s.handleDeleteFiles)
}

// requestLogger tags the request context with the request ID and logs
// one line per request.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				// Let the error handler set the final status before logging.
				c.Error(err)
			}
			logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on Host:Port until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
