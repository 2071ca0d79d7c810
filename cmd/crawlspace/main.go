package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomctl/crawlspace/internal/analyzer"
	"github.com/loomctl/crawlspace/internal/config"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crawlspace",
		Short: "crawlspace — priority-driven web crawl engine",
		Long: `crawlspace runs prioritized, multi-tenant web crawls behind a small
control-plane API.

Features:
  • Score-ordered frontier: the highest-scoring known URL is always crawled next
  • Keyword, regex, and LLM content analyzers with weighted composite scoring
  • Headless-browser or plain HTTP page scraping
  • Pluggable results backends: filesystem, SQLite, MongoDB, remote service
  • In-memory or Redis crawl state for restart survival
  • Search-engine seed discovery (Google, Bing, DuckDuckGo)
  • Prometheus metrics endpoint`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedsCmd())
	rootCmd.AddCommand(analyzersCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crawlspace %s\n", config.Version)
		},
	}
}

// analyzersCmd creates the "analyzers" subcommand for listing the
// configurable analyzer kinds.
func analyzersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyzers",
		Short: "List supported content analyzers",
		Run: func(cmd *cobra.Command, args []string) {
			for _, info := range analyzer.Infos() {
				fmt.Printf("%s\n  %s\n", info.Type, info.Description)
				for _, f := range info.Fields {
					required := "optional"
					if f.Required {
						required = "required"
					}
					fmt.Printf("    %-18s %-22s %s\n", f.Name, f.Type, required)
				}
				fmt.Println()
			}
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Engine:\n")
			fmt.Printf("  Max Workers:       %d\n", cfg.Engine.MaxWorkers)
			fmt.Printf("  Idle Sleep:        %s\n", cfg.Engine.IdleSleep())
			fmt.Printf("\nScraper:\n")
			fmt.Printf("  JavaScript:        %v\n", cfg.Scraper.JavaScriptEnabled)
			fmt.Printf("  Timeout:           %s\n", cfg.Scraper.Timeout())
			fmt.Printf("  Proxy:             %s\n", orNone(cfg.Scraper.ProxyServer))
			fmt.Printf("\nLLM Analyzer:\n")
			fmt.Printf("  Service URL:       %s\n", cfg.LLM.ServiceURL)
			fmt.Printf("  Request Timeout:   %s\n", cfg.LLM.RequestTimeout())
			fmt.Printf("\nResults:\n")
			fmt.Printf("  Backend:           %s\n", cfg.Results.Backend)
			fmt.Printf("  Data Dir:          %s\n", cfg.Results.CrawlDataDir)
			fmt.Printf("  Database Path:     %s\n", cfg.Results.DatabasePath)
			fmt.Printf("  Mongo URI:         %s\n", cfg.Results.MongoURI)
			fmt.Printf("  Remote URL:        %s\n", orNone(cfg.Results.ServiceURL))
			fmt.Printf("\nState Store:\n")
			fmt.Printf("  Storage Type:      %s\n", cfg.State.StorageType)
			fmt.Printf("  Redis URL:         %s\n", cfg.State.RedisURL)
			fmt.Printf("  Key Prefix:        %s\n", cfg.State.KeyPrefix)
			fmt.Printf("\nSeeds:\n")
			fmt.Printf("  Request Timeout:   %s\n", cfg.Seeds.RequestTimeout())
			fmt.Printf("  Rate Limit Delay:  %s\n", cfg.Seeds.RateLimitDelay())
			fmt.Printf("  Max Retries:       %d\n", cfg.Seeds.MaxRetries)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Listen:            %s:%d\n", cfg.API.Host, cfg.API.Port)
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// setupLogger creates a structured logger from the log configuration.
// The --verbose flag overrides the configured level.
func setupLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
