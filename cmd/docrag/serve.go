package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/httpapi"
	"github.com/fyrsmithlabs/docrag/internal/mcp"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/source"
)

var (
	serveHost  string
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the query, ingest and upload endpoints over HTTP. With --watch the
data directory is re-ingested whenever it changes.

Examples:
  docrag serve
  docrag serve --host 0.0.0.0 --port 9000 --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, true)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		host, port := a.cfg.Server.Host, a.cfg.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		srv, err := httpapi.NewServer(a.svc, a.logger, &httpapi.Config{
			Host:    host,
			Port:    port,
			DataDir: a.cfg.Source.Path,
			Source:  a.cfg.Source.Options(),
		})
		if err != nil {
			return err
		}

		if serveWatch {
			go func() {
				if err := a.watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error(ctx, "watcher stopped", zap.Error(err))
				}
			}()
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(sctx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long: `Serve rag_query, rag_ingest, rag_stats and rag_reset as MCP tools on
stdin/stdout. Logs go to stderr.

Example client configuration:
  {"command": "docrag", "args": ["mcp", "--config", "/path/to/config.yaml"]}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, true)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		srv, err := mcp.NewServer(a.svc, a.logger, &mcp.Config{
			Version: version,
			DataDir: a.cfg.Source.Path,
			Source:  a.cfg.Source.Options(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "docrag %s mcp server ready (data %s)\n", version, a.cfg.Source.Path)
		return srv.Run(ctx)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-ingest the data directory whenever it changes",
	Long: `Ingest the data directory once, then again after every debounced batch of
filesystem changes until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		err = a.watch(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 8000, "listen port (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "re-ingest the data directory on change")
}

// watch ingests once, then after each change batch, until ctx is done.
// Ingest failures are logged and the watcher keeps running.
func (a *app) watch(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.Source.Path, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	w, err := source.NewWatcher(a.cfg.Source.Path, a.cfg.Source.Debounce.Duration(), a.logger.Underlying().Named("watcher"))
	if err != nil {
		return err
	}
	defer w.Stop()
	if err := w.Start(ctx); err != nil {
		return err
	}

	a.ingestOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch, ok := <-w.Changes():
			if !ok {
				return nil
			}
			a.logger.Debug(ctx, "data directory changed", zap.Int("paths", len(ch.Paths)))
			a.ingestOnce(ctx)
		}
	}
}

func (a *app) ingestOnce(ctx context.Context) {
	docs, err := a.loadDocuments(ctx)
	if errors.Is(err, rag.ErrNoDocuments) {
		a.logger.Info(ctx, "no documents to ingest", zap.String("data_dir", a.cfg.Source.Path))
		return
	}
	if err != nil {
		a.logger.Error(ctx, "loading documents", zap.Error(err))
		return
	}
	report, err := a.svc.Ingest(ctx, docs)
	if err != nil {
		a.logger.Error(ctx, "ingest failed", zap.Error(err))
		return
	}
	a.logger.Info(ctx, "ingest complete",
		zap.String("run_id", report.RunID),
		zap.Uint64("generation", report.Generation),
		zap.Int("segments_added", report.SegmentsAdded),
		zap.Int("segments_removed", report.SegmentsRemoved))
}
