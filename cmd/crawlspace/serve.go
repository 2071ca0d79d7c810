package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomctl/crawlspace/internal/api"
	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/engine"
	"github.com/loomctl/crawlspace/internal/observability"
	"github.com/loomctl/crawlspace/internal/results"
	"github.com/loomctl/crawlspace/internal/scraper"
	"github.com/loomctl/crawlspace/internal/seeds"
	"github.com/loomctl/crawlspace/internal/state"
)

const shutdownTimeout = 30 * time.Second

var (
	serveHost           string
	servePort           int
	serveResultsBackend string
	serveStateBackend   string
	serveMaxWorkers     int
	serveNoJS           bool
)

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl engine and its control API",
		Long:  "Start the crawl engine, the seed fetcher, and the HTTP control API, then serve until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&serveResultsBackend, "results-backend", "", "results backend: fs, sql, mongo, remote")
	cmd.Flags().StringVar(&serveStateBackend, "state-backend", "", "state storage: memory, external")
	cmd.Flags().IntVar(&serveMaxWorkers, "max-workers", 0, "worker pool upper bound (overrides config)")
	cmd.Flags().BoolVar(&serveNoJS, "no-js", false, "scrape with plain HTTP instead of a headless browser")

	return cmd
}

// runServe wires the engine together and serves until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyServeOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Log)
	logger.Info("starting crawlspace",
		"version", config.Version,
		"state_backend", cfg.State.StorageType,
		"results_backend", cfg.Results.Backend,
		"javascript", cfg.Scraper.JavaScriptEnabled,
	)

	store, err := state.New(cfg.State, logger)
	if err != nil {
		return fmt.Errorf("create state store: %w", err)
	}
	res, err := results.New(cfg.Results, logger)
	if err != nil {
		return fmt.Errorf("create results manager: %w", err)
	}
	scr, err := scraper.New(cfg.Scraper, logger)
	if err != nil {
		return fmt.Errorf("create scraper: %w", err)
	}
	collector, err := seeds.NewFetcher(cfg.Seeds, logger)
	if err != nil {
		return fmt.Errorf("create seed fetcher: %w", err)
	}

	metrics := observability.NewMetrics()
	eng := engine.New(cfg, store, res, scr, metrics, logger)

	srv := api.NewServer(cfg.API, eng, collector, metrics, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	// Block until a shutdown signal arrives.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("api shutdown failed", "error", err)
	}
	if err := eng.Shutdown(ctx); err != nil {
		logger.Error("engine shutdown failed", "error", err)
	}
	if err := collector.Close(); err != nil {
		logger.Warn("seed fetcher close failed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// applyServeOverrides applies command-line flag values to the config.
func applyServeOverrides(cfg *config.Config) {
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveResultsBackend != "" {
		cfg.Results.Backend = serveResultsBackend
	}
	if serveStateBackend != "" {
		cfg.State.StorageType = serveStateBackend
	}
	if serveMaxWorkers > 0 {
		cfg.Engine.MaxWorkers = serveMaxWorkers
	}
	if serveNoJS {
		cfg.Scraper.JavaScriptEnabled = false
	}
}
