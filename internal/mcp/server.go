// Package mcp exposes the query engine as MCP tools over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/ingest"
	"github.com/fyrsmithlabs/docrag/internal/logging"
	"github.com/fyrsmithlabs/docrag/internal/query"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/service"
	"github.com/fyrsmithlabs/docrag/internal/source"
)

// Backend is the engine the tools call. *service.Service implements it.
type Backend interface {
	Query(ctx context.Context, text string) (*query.Result, error)
	Ingest(ctx context.Context, docs []rag.Document) (*ingest.Report, error)
	Reset(ctx context.Context) error
	Stats() service.Stats
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default: "docrag").
	Name    string
	Version string
	// DataDir is the directory rag_ingest loads from.
	DataDir string
	Source  source.Options
}

// Server wraps an MCP server with the docrag tools registered.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	config  *Config
	metrics *Metrics
	logger  *logging.Logger
}

// NewServer creates a server and registers its tools.
func NewServer(backend Backend, logger *logging.Logger, cfg *Config) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", rag.ErrConfiguration)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Name == "" {
		cfg.Name = "docrag"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", rag.ErrConfiguration)
	}
	if err := cfg.Source.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		backend: backend,
		config:  cfg,
		metrics: NewMetrics(logger.Underlying()),
		logger:  logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting mcp server", zap.String("data_dir", s.config.DataDir))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Connect serves a single session on t. Used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// instrument wraps a tool handler with metrics and logging.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.Start(ctx, name)
		res, out, err := h(ctx, req, in)
		elapsed := done(err)
		if err != nil {
			s.logger.Warn(ctx, "tool failed", zap.String("tool", name), zap.Duration("duration", elapsed), zap.Error(err))
		} else {
			s.logger.Debug(ctx, "tool completed", zap.String("tool", name), zap.Duration("duration", elapsed))
		}
		return res, out, err
	}
}
