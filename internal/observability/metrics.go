package observability

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Metrics tracks process-wide operational counters. All fields are safe
// for concurrent use; a single instance is shared by every crawl.
type Metrics struct {
	// Lifecycle metrics
	CrawlsCreated atomic.Int64
	CrawlsStarted atomic.Int64
	CrawlsStopped atomic.Int64
	CrawlsDeleted atomic.Int64

	// Page metrics
	PagesScraped  atomic.Int64
	ScrapeErrors  atomic.Int64
	LinksEnqueued atomic.Int64

	// Scoring metrics
	AnalyzerFailures atomic.Int64

	// Persistence metrics
	RecordsStored atomic.Int64
	StoreErrors   atomic.Int64

	// Worker pool metrics
	ActiveWorkers atomic.Int32

	// Seed discovery metrics
	SeedQueries atomic.Int64
}

// NewMetrics creates a zeroed Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ServeHTTP serves the counters in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		typ   string
		help  string
		value int64
	}{
		{"crawlspace_crawls_created_total", "counter", "Total crawls created", m.CrawlsCreated.Load()},
		{"crawlspace_crawls_started_total", "counter", "Total crawls started", m.CrawlsStarted.Load()},
		{"crawlspace_crawls_stopped_total", "counter", "Total crawls stopped", m.CrawlsStopped.Load()},
		{"crawlspace_crawls_deleted_total", "counter", "Total crawls deleted", m.CrawlsDeleted.Load()},
		{"crawlspace_pages_scraped_total", "counter", "Total pages scraped", m.PagesScraped.Load()},
		{"crawlspace_scrape_errors_total", "counter", "Total scrape failures", m.ScrapeErrors.Load()},
		{"crawlspace_links_enqueued_total", "counter", "Total links enqueued to frontiers", m.LinksEnqueued.Load()},
		{"crawlspace_analyzer_failures_total", "counter", "Total analyzer failures", m.AnalyzerFailures.Load()},
		{"crawlspace_records_stored_total", "counter", "Total records stored", m.RecordsStored.Load()},
		{"crawlspace_store_errors_total", "counter", "Total record store failures", m.StoreErrors.Load()},
		{"crawlspace_active_workers", "gauge", "Workers currently processing a URL", int64(m.ActiveWorkers.Load())},
		{"crawlspace_seed_queries_total", "counter", "Total search engine seed queries", m.SeedQueries.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", metric.name, metric.typ)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// Snapshot returns all counters as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"crawls_created":    m.CrawlsCreated.Load(),
		"crawls_started":    m.CrawlsStarted.Load(),
		"crawls_stopped":    m.CrawlsStopped.Load(),
		"crawls_deleted":    m.CrawlsDeleted.Load(),
		"pages_scraped":     m.PagesScraped.Load(),
		"scrape_errors":     m.ScrapeErrors.Load(),
		"links_enqueued":    m.LinksEnqueued.Load(),
		"analyzer_failures": m.AnalyzerFailures.Load(),
		"records_stored":    m.RecordsStored.Load(),
		"store_errors":      m.StoreErrors.Load(),
		"active_workers":    int64(m.ActiveWorkers.Load()),
		"seed_queries":      m.SeedQueries.Load(),
	}
}
