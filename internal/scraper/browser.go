package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/types"
)

// BrowserScraper renders pages in headless Chromium via Rod. Every page
// carries stealth patches; rendered pages are recycled through a fixed
// pool.
type BrowserScraper struct {
	browser  *rod.Browser
	cfg      config.ScraperConfig
	logger   *slog.Logger
	pagePool chan *rod.Page
}

// NewBrowserScraper launches a headless Chromium instance and connects
// to it.
func NewBrowserScraper(cfg config.ScraperConfig, logger *slog.Logger) (*BrowserScraper, error) {
	s := &BrowserScraper{
		cfg:    cfg,
		logger: logger.With("component", "browser_scraper"),
	}

	launchURL, err := s.launchBrowser()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	s.browser = browser
	s.pagePool = make(chan *rod.Page, runtime.NumCPU())

	s.logger.Info("browser scraper ready",
		"max_pages", cap(s.pagePool),
		"proxy", cfg.ProxyServer != "",
	)

	return s, nil
}

// launchBrowser starts a Chromium instance with appropriate flags.
func (s *BrowserScraper) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if s.cfg.ProxyServer != "" {
		l = l.Proxy(s.cfg.ProxyServer)
	}

	return l.Launch()
}

// Scrape implements Scraper.
func (s *BrowserScraper) Scrape(ctx context.Context, pageURL string) (*types.CrawlRecord, error) {
	start := time.Now()

	page, err := s.getPage()
	if err != nil {
		return nil, &types.ScrapeError{URL: pageURL, Err: fmt.Errorf("acquire page: %w", err)}
	}
	defer s.putPage(page)

	if s.cfg.UserAgent != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: s.cfg.UserAgent,
		})
		if err != nil {
			s.logger.Warn("failed to set user agent", "error", err)
		}
	}

	timeout := s.cfg.Timeout()
	nav := page.Context(ctx)

	if err := nav.Timeout(timeout).Navigate(pageURL); err != nil {
		return nil, &types.ScrapeError{URL: pageURL, Err: fmt.Errorf("navigate: %w", err)}
	}

	// Idle-network wait so dynamic content settles before capture.
	if err := nav.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		s.logger.Warn("page stability timeout, continuing", "url", pageURL, "error", err)
	}

	html, err := nav.HTML()
	if err != nil {
		return nil, &types.ScrapeError{URL: pageURL, Err: fmt.Errorf("page html: %w", err)}
	}

	// Final URL (after any redirects) anchors link resolution.
	finalURL := pageURL
	if info, err := nav.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	rec, err := buildRecord(pageURL, finalURL, []byte(html))
	if err != nil {
		return nil, err
	}

	s.logger.Debug("page rendered",
		"url", pageURL,
		"final_url", finalURL,
		"size", len(html),
		"links", len(rec.Links),
		"duration", time.Since(start),
	)

	return rec, nil
}

// Close shuts down the browser and releases resources.
func (s *BrowserScraper) Close() error {
	close(s.pagePool)
	for page := range s.pagePool {
		_ = page.Close()
	}
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}

// getPage retrieves a page from the pool or creates a stealth page.
func (s *BrowserScraper) getPage() (*rod.Page, error) {
	select {
	case page := <-s.pagePool:
		return page, nil
	default:
		return stealth.Page(s.browser)
	}
}

// putPage returns a page to the pool.
func (s *BrowserScraper) putPage(page *rod.Page) {
	// Navigate to blank to free memory from the last page
	_ = page.Navigate("about:blank")

	select {
	case s.pagePool <- page:
	default:
		_ = page.Close() // Pool full, close the page
	}
}
