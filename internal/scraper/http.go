package scraper

import (
	"context"
	"log/slog"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/fetch"
	"github.com/loomctl/crawlspace/internal/types"
)

// HTTPScraper fetches pages over plain HTTP without rendering. Pages
// that need JavaScript come back as served, which is fine for static
// sites and keeps crawls cheap.
type HTTPScraper struct {
	client *fetch.Client
	logger *slog.Logger
}

// NewHTTPScraper creates a scraper backed by the shared fetch client.
func NewHTTPScraper(cfg config.ScraperConfig, logger *slog.Logger) (*HTTPScraper, error) {
	client, err := fetch.NewClient(cfg.Timeout(), cfg.UserAgent, cfg.ProxyServer, logger)
	if err != nil {
		return nil, err
	}
	return &HTTPScraper{
		client: client,
		logger: logger.With("component", "http_scraper"),
	}, nil
}

// Scrape implements Scraper.
func (s *HTTPScraper) Scrape(ctx context.Context, pageURL string) (*types.CrawlRecord, error) {
	body, finalURL, err := s.client.GetPage(ctx, pageURL)
	if err != nil {
		return nil, &types.ScrapeError{URL: pageURL, Err: err}
	}
	return buildRecord(pageURL, finalURL, body)
}

// Close releases the underlying HTTP client.
func (s *HTTPScraper) Close() error {
	return s.client.Close()
}
