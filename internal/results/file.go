package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loomctl/crawlspace/internal/types"
)

const (
	specFileName      = "crawl_spec.json"
	resultsIDFileName = "results_id.json"
	recordsDirName    = "records"
)

// FileManager stores each bucket as a directory tree:
// <base>/<collection_id>/<data_id>/{crawl_spec.json, results_id.json, records/<record_id>.json}.
// Writes publish through a temp file and rename so readers never observe
// a partially written document.
type FileManager struct {
	baseDir string
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewFileManager creates the base directory if needed.
func NewFileManager(baseDir string, logger *slog.Logger) (*FileManager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, &types.StorageError{Backend: "fs", Op: "init", Err: err}
	}
	return &FileManager{
		baseDir: baseDir,
		logger:  logger.With("component", "results_fs"),
	}, nil
}

func (m *FileManager) Name() string { return "fs" }

func (m *FileManager) bucketDir(id types.CrawlResultsID) string {
	return filepath.Join(m.baseDir, id.CollectionID, id.DataID)
}

func (m *FileManager) CreateCrawl(ctx context.Context, spec *types.CrawlSpec, id types.CrawlResultsID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.bucketDir(id)
	if err := os.MkdirAll(filepath.Join(dir, recordsDirName), 0o755); err != nil {
		return &types.StorageError{Backend: "fs", Op: "create_crawl", Err: err}
	}
	if err := writeJSON(filepath.Join(dir, specFileName), spec); err != nil {
		return &types.StorageError{Backend: "fs", Op: "create_crawl", Err: err}
	}
	if err := writeJSON(filepath.Join(dir, resultsIDFileName), id); err != nil {
		return &types.StorageError{Backend: "fs", Op: "create_crawl", Err: err}
	}

	m.logger.Debug("results bucket created", "dir", dir)
	return nil
}

func (m *FileManager) StoreRecord(ctx context.Context, rec *types.CrawlRecord, id types.CrawlResultsID, crawlID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Join(m.bucketDir(id), recordsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &types.StorageError{Backend: "fs", Op: "store_record", Err: err}
	}
	path := filepath.Join(dir, rec.RecordID()+".json")
	if err := writeJSON(path, rec); err != nil {
		return &types.StorageError{Backend: "fs", Op: "store_record", Err: err}
	}
	return nil
}

func (m *FileManager) DeleteCrawl(ctx context.Context, id types.CrawlResultsID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.RemoveAll(m.bucketDir(id)); err != nil {
		return &types.StorageError{Backend: "fs", Op: "delete_crawl", Err: err}
	}
	// Drop the collection dir too once its last bucket is gone.
	collDir := filepath.Join(m.baseDir, id.CollectionID)
	if entries, err := os.ReadDir(collDir); err == nil && len(entries) == 0 {
		_ = os.Remove(collDir)
	}
	return nil
}

func (m *FileManager) GetRecords(ctx context.Context, id types.CrawlResultsID, count int, scoreType string) ([]*types.CrawlRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Join(m.bucketDir(id), recordsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.CrawlRecord{}, nil
		}
		return nil, &types.StorageError{Backend: "fs", Op: "get_records", Err: err}
	}

	records := make([]*types.CrawlRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			m.logger.Warn("skipping unreadable record", "file", entry.Name(), "error", err)
			continue
		}
		var rec types.CrawlRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			m.logger.Warn("skipping malformed record", "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, &rec)
	}

	return sortByScore(records, scoreType, count), nil
}

func (m *FileManager) Close() error { return nil }

// writeJSON publishes v at path atomically via temp file + rename.
func writeJSON(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode JSON: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
