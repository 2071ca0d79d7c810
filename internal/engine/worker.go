package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loomctl/crawlspace/internal/types"
)

// runWorker executes one crawl worker task on the shared pool. It loops
// while the crawl is RUNNING: pop the best URL, scrape, score, enqueue
// discovered links at the parent's composite, persist the record. No
// failure may take the worker down; per-URL errors are counted and the
// loop continues.
func (e *Engine) runWorker(ctx context.Context, c *crawl, workerID int) {
	logger := e.logger.With("component", "worker", "crawl_id", c.id, "worker_id", workerID)
	e.metrics.ActiveWorkers.Add(1)
	defer e.metrics.ActiveWorkers.Add(-1)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker exiting", "reason", "shutdown")
			return
		default:
		}

		st, err := e.store.CurrentState(ctx, c.id)
		if err != nil {
			if errors.Is(err, types.ErrCrawlNotFound) {
				logger.Debug("worker exiting", "reason", "crawl removed")
				return
			}
			// State store outage: transient, ride it out.
			logger.Warn("state check failed", "error", err)
			if !e.pause(ctx, time.Second) {
				return
			}
			continue
		}
		if st != types.StateRunning {
			logger.Debug("worker exiting", "reason", "crawl stopped", "state", st)
			return
		}

		url, ok, err := e.store.PopNextURL(ctx, c.id)
		if err != nil {
			logger.Warn("frontier pop failed", "error", err)
			if incErr := e.store.IncErrors(ctx, c.id); incErr != nil {
				logger.Warn("error counter increment failed", "error", incErr)
			}
			if !e.pause(ctx, time.Second) {
				return
			}
			continue
		}
		if !ok {
			if !e.pause(ctx, e.cfg.Engine.IdleSleep()) {
				return
			}
			continue
		}

		e.processURL(ctx, logger, c, url)
	}
}

// processURL handles one popped URL end to end.
func (e *Engine) processURL(ctx context.Context, logger *slog.Logger, c *crawl, url string) {
	logger = logger.With("url", url)

	// The pop itself counts as crawled, before the blacklist check.
	if err := e.store.IncCrawled(ctx, c.id); err != nil {
		logger.Warn("crawled counter increment failed", "error", err)
	}

	if c.blacklist.BlockedURL(url) {
		logger.Debug("url skipped, host blacklisted")
		return
	}

	rec, err := e.scraper.Scrape(ctx, url)
	if err != nil {
		e.metrics.ScrapeErrors.Add(1)
		if incErr := e.store.IncErrors(ctx, c.id); incErr != nil {
			logger.Warn("error counter increment failed", "error", incErr)
		}
		logger.Warn("scrape failed", "error", err)
		return
	}
	e.metrics.PagesScraped.Add(1)

	scores, composite := c.pipeline.Run(ctx, rec.ExtractedContent)
	rec.Scores = scores
	rec.CompositeScore = composite

	// Discovered links inherit the parent's composite score.
	entries := make([]types.FrontierEntry, 0, len(rec.Links))
	for _, link := range rec.Links {
		if c.blacklist.BlockedURL(link) {
			continue
		}
		entries = append(entries, types.FrontierEntry{URL: link, Score: composite})
	}
	if len(entries) > 0 {
		if err := e.store.AddURLs(ctx, c.id, entries); err != nil {
			logger.Warn("link enqueue failed", "links", len(entries), "error", err)
		} else {
			e.metrics.LinksEnqueued.Add(int64(len(entries)))
		}
	}

	if err := e.results.StoreRecord(ctx, rec, c.resultsID, c.id); err != nil {
		e.metrics.StoreErrors.Add(1)
		if incErr := e.store.IncErrors(ctx, c.id); incErr != nil {
			logger.Warn("error counter increment failed", "error", incErr)
		}
		logger.Error("record store failed, record dropped", "error", err)
	} else {
		e.metrics.RecordsStored.Add(1)
	}

	if err := e.store.IncProcessed(ctx, c.id); err != nil {
		logger.Warn("processed counter increment failed", "error", err)
	}

	logger.Debug("page processed", "composite", composite, "links", len(rec.Links))
}

// pause sleeps d unless the context ends first; reports whether the
// worker should keep going.
func (e *Engine) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
