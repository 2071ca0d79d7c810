package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/seeds"
)

var (
	seedsEngines string
	seedsCount   int
	seedsJSON    bool
)

// seedsCmd creates the "seeds" subcommand for one-shot seed discovery.
func seedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seeds [query]",
		Short: "Collect seed URLs from web search engines",
		Long:  "Query one or more search engines for a term and print the discovered result URLs, deduplicated across engines.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSeeds,
	}

	cmd.Flags().StringVarP(&seedsEngines, "engines", "e", "duckduckgo", "comma-separated engines: google, bing, duckduckgo")
	cmd.Flags().IntVarP(&seedsCount, "count", "n", 10, "results per engine (1-100)")
	cmd.Flags().BoolVar(&seedsJSON, "json", false, "print results as a JSON array")

	return cmd
}

// runSeeds executes the seeds command.
func runSeeds(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg.Log)

	query := strings.Join(args, " ")
	var reqs []seeds.Request
	for _, eng := range strings.Split(seedsEngines, ",") {
		if eng = strings.TrimSpace(eng); eng != "" {
			reqs = append(reqs, seeds.Request{
				SearchEngine: eng,
				Query:        query,
				ResultCount:  seedsCount,
			})
		}
	}

	fetcher, err := seeds.NewFetcher(cfg.Seeds, logger)
	if err != nil {
		return fmt.Errorf("create seed fetcher: %w", err)
	}
	defer fetcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	urls, err := fetcher.Collect(ctx, reqs)
	if err != nil {
		return fmt.Errorf("collect seeds: %w", err)
	}

	if seedsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(urls)
	}

	fmt.Printf("🔍 Seed discovery for %q\n", query)
	fmt.Printf("   Engines: %s, %d results each\n\n", seedsEngines, seedsCount)
	for _, u := range urls {
		fmt.Println(u)
	}
	fmt.Printf("\n✅ %d seed URLs in %s\n", len(urls), time.Since(start).Round(time.Millisecond))
	return nil
}
