package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/types"
)

// workbookOp is the request envelope of the remote workbook service.
type workbookOp struct {
	Operation     string         `json:"operation"`
	OperationInfo workbookOpInfo `json:"operation_info"`
}

type workbookOpInfo struct {
	Documents []*types.CrawlRecord `json:"documents"`
	Source    string               `json:"source"`
}

// RemoteManager forwards records to an external workbook service. Storage
// is best-effort: a record that keeps failing after all retries is logged
// and dropped. Bucket lifecycle and queries are owned by the remote
// service, so CreateCrawl and DeleteCrawl are unsupported here.
type RemoteManager struct {
	baseURL     string
	maxRetries  int
	backoffBase float64
	client      *http.Client
	logger      *slog.Logger
}

// NewRemoteManager builds the client for the configured service.
func NewRemoteManager(cfg config.ResultsConfig, logger *slog.Logger) *RemoteManager {
	retries := cfg.ServiceMaxRetries
	if retries < 1 {
		retries = 1
	}
	base := cfg.ServiceRetryExponentialBase
	if base <= 0 {
		base = 2
	}
	return &RemoteManager{
		baseURL:     strings.TrimRight(cfg.ServiceURL, "/"),
		maxRetries:  retries,
		backoffBase: base,
		client:      &http.Client{Timeout: cfg.ServiceTimeout()},
		logger:      logger.With("component", "results_remote"),
	}
}

func (m *RemoteManager) Name() string { return "remote" }

func (m *RemoteManager) CreateCrawl(ctx context.Context, spec *types.CrawlSpec, id types.CrawlResultsID) error {
	return fmt.Errorf("remote backend create_crawl: %w", types.ErrUnsupported)
}

func (m *RemoteManager) DeleteCrawl(ctx context.Context, id types.CrawlResultsID) error {
	return fmt.Errorf("remote backend delete_crawl: %w", types.ErrUnsupported)
}

func (m *RemoteManager) StoreRecord(ctx context.Context, rec *types.CrawlRecord, id types.CrawlResultsID, crawlID string) error {
	endpoint := fmt.Sprintf("%s/workbook/%s/bin/%s", m.baseURL, id.CollectionID, id.DataID)
	body, err := json.Marshal(workbookOp{
		Operation: "add_from_docs",
		OperationInfo: workbookOpInfo{
			Documents: []*types.CrawlRecord{rec},
			Source:    crawlID,
		},
	})
	if err != nil {
		return &types.StorageError{Backend: "remote", Op: "store_record", Err: err}
	}

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		err = m.patch(ctx, endpoint, body)
		if err == nil {
			return nil
		}
		m.logger.Warn("record upload failed",
			"url", rec.URL,
			"attempt", attempt,
			"max_retries", m.maxRetries,
			"error", err,
		)
		if attempt == m.maxRetries {
			break
		}
		delay := time.Duration(math.Pow(m.backoffBase, float64(attempt)) * float64(time.Second))
		select {
		case <-ctx.Done():
			m.logger.Error("record dropped, context canceled", "url", rec.URL)
			return nil
		case <-time.After(delay):
		}
	}

	m.logger.Error("record dropped after retries", "url", rec.URL, "error", err)
	return nil
}

func (m *RemoteManager) patch(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("service returned status %d", resp.StatusCode)
	}
	return nil
}

func (m *RemoteManager) GetRecords(ctx context.Context, id types.CrawlResultsID, count int, scoreType string) ([]*types.CrawlRecord, error) {
	m.logger.Warn("remote backend cannot query records, returning empty set",
		"collection_id", id.CollectionID, "data_id", id.DataID)
	return []*types.CrawlRecord{}, nil
}

func (m *RemoteManager) Close() error { return nil }
