// Sentinel: multi-agent handoff MCP server
//
// Sentinel drives one AI through a chain of roles (Architect, Designer,
// reviewers, Builder, QA, Security) and validates every handoff before
// the workflow moves on.
//
// Usage:
//
//	sentinel serve                         # Start MCP server (stdio transport)
//	sentinel status --session <id>         # Show a stored workflow
//	sentinel reset --session <id> --role R # Resume a blocked workflow
//	sentinel version
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/sentinel/internal/config"
	"github.com/HendryAvila/sentinel/internal/logging"
	"github.com/HendryAvila/sentinel/internal/metrics"
	sentinelserver "github.com/HendryAvila/sentinel/internal/server"
)

var (
	// configPath is the YAML config file; empty means ~/.sentinel/config.yaml.
	configPath string
	// metricsAddr overrides metrics.addr when set.
	metricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Multi-agent handoff MCP server",
	Long: `sentinel is an MCP server that runs a build workflow as a chain of roles.
Every handoff between roles passes a validation gate; reviewers can send
work back, and a blocked workflow waits for a human.`,
	Version:       sentinelserver.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.sentinel/config.yaml)")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

// serveCmd runs the MCP server over stdio.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	Long: `Start the MCP server on stdin/stdout.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "sentinel": {
        "command": "sentinel",
        "args": ["serve"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sentinel v%s\n", sentinelserver.Version)
	},
}

// loadConfig loads configuration and the logger every command needs.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	rec := metrics.NewRecorder()
	s, cleanup, err := sentinelserver.New(sentinelserver.Deps{
		Config:   cfg,
		Logger:   logger,
		Recorder: rec,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, rec, logger)
		defer stop()
	}

	// stdio server manages its own signal handling and lifecycle.
	return server.ServeStdio(s)
}

// serveMetrics exposes the recorder on addr/metrics until stop is called.
// Metrics are best-effort: a listener failure is logged, not fatal.
func serveMetrics(addr string, rec *metrics.Recorder, logger *zap.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics endpoint stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
