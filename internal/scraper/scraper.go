package scraper

import (
	"context"
	"log/slog"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/types"
)

// Scraper turns a URL into an unscored crawl record: rendered page
// source, extracted visible text and the page's outbound http(s) links.
// Failures surface as *types.ScrapeError.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*types.CrawlRecord, error)
	Close() error
}

// New creates the scraper selected by the configuration: a headless
// browser when JavaScript rendering is enabled, a plain HTTP client
// otherwise.
func New(cfg config.ScraperConfig, logger *slog.Logger) (Scraper, error) {
	if cfg.JavaScriptEnabled {
		return NewBrowserScraper(cfg, logger)
	}
	return NewHTTPScraper(cfg, logger)
}
