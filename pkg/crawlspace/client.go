// Package crawlspace provides an HTTP client for driving a remote
// crawlspace server.
//
// Example usage:
//
//	client := crawlspace.NewClient("http://localhost:8080")
//
//	handle, err := client.CreateCrawl(ctx, spec)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.StartCrawl(ctx, handle.CrawlID)
//	status, _ := client.CrawlStatus(ctx, handle.CrawlID)
//	records, _ := client.Records(ctx, handle.CrawlID, 10, "composite")
package crawlspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loomctl/crawlspace/internal/analyzer"
	"github.com/loomctl/crawlspace/internal/seeds"
	"github.com/loomctl/crawlspace/internal/types"
)

const (
	apiBase         = "/api/v1"
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 64 << 20 // 64 MB, records responses carry page sources
)

// Client talks to a crawlspace control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for the server at baseURL, for example
// "http://localhost:8080".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// CrawlHandle identifies a crawl and its state after a lifecycle call.
type CrawlHandle struct {
	CrawlID  string             `json:"crawl_id"`
	RunState types.RunStateEnum `json:"run_state"`
}

// Health checks that the server is reachable and serving.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

// CreateCrawl registers a new crawl from its spec.
func (c *Client) CreateCrawl(ctx context.Context, spec *types.CrawlSpec) (*CrawlHandle, error) {
	body := map[string]any{"crawl_spec": spec}
	var handle CrawlHandle
	if err := c.doJSON(ctx, http.MethodPost, "/crawls", body, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// StartCrawl transitions a crawl to RUNNING.
func (c *Client) StartCrawl(ctx context.Context, id string) (*CrawlHandle, error) {
	var handle CrawlHandle
	if err := c.doJSON(ctx, http.MethodPost, "/crawls/"+id+"/start", nil, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// StopCrawl transitions a crawl to STOPPED.
func (c *Client) StopCrawl(ctx context.Context, id string) (*CrawlHandle, error) {
	var handle CrawlHandle
	if err := c.doJSON(ctx, http.MethodPost, "/crawls/"+id+"/stop", nil, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// DeleteCrawl removes a stopped crawl and reports the deletion time.
func (c *Client) DeleteCrawl(ctx context.Context, id string) (time.Time, error) {
	var resp struct {
		CrawlDeletedTime string `json:"crawl_deleted_time"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/crawls/"+id, nil, &resp); err != nil {
		return time.Time{}, err
	}
	deleted, err := time.Parse(time.RFC3339, resp.CrawlDeletedTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse crawl_deleted_time: %w", err)
	}
	return deleted, nil
}

// ListCrawls returns info for every registered crawl.
func (c *Client) ListCrawls(ctx context.Context) ([]*types.CrawlInfo, error) {
	var resp struct {
		Crawls []*types.CrawlInfo `json:"crawls"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/crawls", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Crawls, nil
}

// CrawlInfo returns one crawl's info.
func (c *Client) CrawlInfo(ctx context.Context, id string) (*types.CrawlInfo, error) {
	var resp struct {
		Info *types.CrawlInfo `json:"info"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/crawls/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Info, nil
}

// CrawlStatus returns one crawl's counter snapshot and state history.
func (c *Client) CrawlStatus(ctx context.Context, id string) (*types.CrawlStatus, error) {
	var resp struct {
		Status *types.CrawlStatus `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/crawls/"+id+"/status", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Status, nil
}

// AllStatuses returns status snapshots for every registered crawl.
func (c *Client) AllStatuses(ctx context.Context) ([]*types.CrawlStatus, error) {
	var resp struct {
		Crawls []*types.CrawlStatus `json:"crawls"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/crawls/status", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Crawls, nil
}

// DownloadSpec fetches the crawl's stored spec.
func (c *Client) DownloadSpec(ctx context.Context, id string) (*types.CrawlSpec, error) {
	var spec types.CrawlSpec
	if err := c.doJSON(ctx, http.MethodGet, "/crawls/"+id+"/spec/download", nil, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Records returns the crawl's top records ordered by the chosen score
// type, "composite" or an analyzer name.
func (c *Client) Records(ctx context.Context, id string, count int, scoreType string) ([]*types.CrawlRecord, error) {
	body := map[string]any{"record_count": count, "score_type": scoreType}
	var resp struct {
		Records []*types.CrawlRecord `json:"records"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/results/"+id+"/records", body, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// CollectSeeds asks the server to gather seed URLs from web search
// engines.
func (c *Client) CollectSeeds(ctx context.Context, reqs []seeds.Request) ([]string, error) {
	body := map[string]any{"search_engine_seeds": reqs}
	var resp struct {
		SeedURLs []string `json:"seed_urls"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/seeds/collect", body, &resp); err != nil {
		return nil, err
	}
	return resp.SeedURLs, nil
}

// AnalyzerInfos lists the analyzer kinds the server supports.
func (c *Client) AnalyzerInfos(ctx context.Context) ([]analyzer.Info, error) {
	var resp struct {
		Analyzers []analyzer.Info `json:"analyzers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/analyzers/info", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Analyzers, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiBase+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
