// Docrag indexes a directory of documents incrementally and answers
// questions about them.
//
// Usage:
//
//	# Index ./data into ./storage
//	docrag ingest
//
//	# Ask a question
//	docrag query "What does the lighthouse keeper do at dusk?"
//
//	# Serve the HTTP API, or MCP over stdio
//	docrag serve
//	docrag mcp
//
// Configuration is read from ~/.config/docrag/config.yaml (or --config),
// a .env file and the environment. See internal/config for details.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML config file; empty uses the default location.
	configPath string
	// dataDir overrides source.path.
	dataDir string
	// storageDir overrides storage.path.
	storageDir string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Incremental document indexing and question answering",
	Long: `docrag keeps a persistent vector index of a document directory up to date
and answers questions from it. Only new or changed documents are re-embedded.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.SetVersionTemplate(versionString() + "\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/docrag/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "document directory (overrides source.path)")
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage", "", "index storage directory (overrides storage.path)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	return fmt.Sprintf("docrag %s (commit %s, built %s)", version, gitCommit, buildDate)
}
