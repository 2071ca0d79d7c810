package seeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/fetch"
	"github.com/loomctl/crawlspace/internal/types"
)

// maxResultCount bounds result_count per request.
const maxResultCount = 100

// Request asks one search engine for up to ResultCount result URLs.
type Request struct {
	SearchEngine string `json:"search_engine"`
	Query        string `json:"query"`
	ResultCount  int    `json:"result_count"`
}

// Fetcher collects seed URLs from public search engines. It exists to
// help clients build seed lists; the crawl workers never call it.
type Fetcher struct {
	cfg     config.SeedsConfig
	client  *fetch.Client
	engines map[string]engineParser
	logger  *slog.Logger
}

// NewFetcher creates a seed fetcher with one shared HTTP client.
func NewFetcher(cfg config.SeedsConfig, logger *slog.Logger) (*Fetcher, error) {
	client, err := fetch.NewClient(cfg.RequestTimeout(), cfg.UserAgent, "", logger)
	if err != nil {
		return nil, err
	}

	return &Fetcher{
		cfg:    cfg,
		client: client,
		engines: map[string]engineParser{
			"google":     &googleEngine{baseURL: cfg.GoogleBaseURL},
			"bing":       &bingEngine{baseURL: cfg.BingBaseURL},
			"duckduckgo": &duckduckgoEngine{baseURL: cfg.DuckDuckGoBaseURL},
		},
		logger: logger.With("component", "seed_fetcher"),
	}, nil
}

// Close releases the underlying HTTP client.
func (f *Fetcher) Close() error {
	return f.client.Close()
}

// Collect resolves every request and merges the results in request
// order, deduplicated keeping the first occurrence. Engines run
// concurrently; requests to the same engine run sequentially with the
// configured delay between them. A request that keeps failing
// contributes nothing rather than failing the batch.
func (f *Fetcher) Collect(ctx context.Context, reqs []Request) ([]string, error) {
	type indexed struct {
		idx int
		req Request
	}

	groups := make(map[string][]indexed)
	for i, r := range reqs {
		name := strings.ToLower(strings.TrimSpace(r.SearchEngine))
		if _, ok := f.engines[name]; !ok {
			return nil, fmt.Errorf("%w: unknown search engine %q", types.ErrInvalidSpec, r.SearchEngine)
		}
		if strings.TrimSpace(r.Query) == "" {
			return nil, fmt.Errorf("%w: empty query for engine %q", types.ErrInvalidSpec, name)
		}
		if r.ResultCount <= 0 || r.ResultCount > maxResultCount {
			return nil, fmt.Errorf("%w: result_count must be in (0,%d], got %d",
				types.ErrInvalidSpec, maxResultCount, r.ResultCount)
		}
		groups[name] = append(groups[name], indexed{idx: i, req: r})
	}

	results := make([][]string, len(reqs))

	var wg sync.WaitGroup
	for name, group := range groups {
		wg.Add(1)
		go func(name string, group []indexed) {
			defer wg.Done()
			eng := f.engines[name]
			for j, item := range group {
				if j > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(f.cfg.RateLimitDelay()):
					}
				}
				results[item.idx] = f.query(ctx, eng, item.req)
			}
		}(name, group)
	}
	wg.Wait()

	seen := make(map[string]bool)
	merged := []string{}
	for _, urls := range results {
		for _, u := range urls {
			if !seen[u] {
				seen[u] = true
				merged = append(merged, u)
			}
		}
	}

	f.logger.Info("seed collection complete", "requests", len(reqs), "seeds", len(merged))
	return merged, nil
}

// query performs one search with retries. 429 responses wait out the
// server-requested delay; other transient failures back off
// exponentially. Persistent failure yields an empty result.
func (f *Fetcher) query(ctx context.Context, eng engineParser, req Request) []string {
	searchURL := eng.searchURL(req.Query, req.ResultCount)
	maxRetries := f.cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		body, err := f.client.Get(ctx, searchURL)
		if err == nil {
			urls, perr := eng.parse(body)
			if perr != nil {
				f.logger.Warn("search result parse failed",
					"engine", eng.name(), "query", req.Query, "error", perr)
				return []string{}
			}
			if len(urls) > req.ResultCount {
				urls = urls[:req.ResultCount]
			}
			f.logger.Debug("search complete",
				"engine", eng.name(), "query", req.Query, "results", len(urls))
			return urls
		}

		var fetchErr *types.FetchError
		retryable := errors.As(err, &fetchErr) && fetchErr.Retryable
		f.logger.Warn("search request failed",
			"engine", eng.name(),
			"query", req.Query,
			"attempt", attempt,
			"max_retries", maxRetries,
			"retryable", retryable,
			"error", err,
		)
		if !retryable || attempt == maxRetries {
			break
		}

		delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		if fetchErr.StatusCode == http.StatusTooManyRequests {
			delay = fetchErr.RetryAfter
		}
		select {
		case <-ctx.Done():
			return []string{}
		case <-time.After(delay):
		}
	}
	return []string{}
}
