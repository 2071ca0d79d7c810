package results

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/types"
)

// Manager persists crawl specs and records into a results bucket and
// serves ranked queries over them.
type Manager interface {
	// CreateCrawl provisions the bucket for a crawl. Idempotent.
	CreateCrawl(ctx context.Context, spec *types.CrawlSpec, id types.CrawlResultsID) error

	// StoreRecord upserts a record into the bucket, keyed by record id.
	StoreRecord(ctx context.Context, rec *types.CrawlRecord, id types.CrawlResultsID, crawlID string) error

	// DeleteCrawl removes the bucket and everything stored in it.
	DeleteCrawl(ctx context.Context, id types.CrawlResultsID) error

	// GetRecords returns up to count records in descending order of the
	// chosen score. Records missing that score sort as 0.
	GetRecords(ctx context.Context, id types.CrawlResultsID, count int, scoreType string) ([]*types.CrawlRecord, error)

	// Name returns the backend identifier.
	Name() string

	// Close flushes pending writes and releases resources.
	Close() error
}

// New creates the results backend selected by cfg.Backend.
func New(cfg config.ResultsConfig, logger *slog.Logger) (Manager, error) {
	switch cfg.Backend {
	case "fs":
		return NewFileManager(cfg.CrawlDataDir, logger)
	case "sql":
		return NewSQLManager(cfg.DatabasePath, logger)
	case "mongo":
		return NewMongoManager(cfg.MongoURI, cfg.MongoDatabase, logger)
	case "remote":
		return NewRemoteManager(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported results backend: %s", cfg.Backend)
	}
}

// scoreTypePattern guards score types interpolated into query expressions.
var scoreTypePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validateScoreType(scoreType string) error {
	if !scoreTypePattern.MatchString(scoreType) {
		return fmt.Errorf("score type %q: %w", scoreType, types.ErrInvalidScoreType)
	}
	return nil
}

// sortByScore orders records by the chosen score descending, keeping the
// incoming order for ties, and truncates to count.
func sortByScore(records []*types.CrawlRecord, scoreType string, count int) []*types.CrawlRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ScoreFor(scoreType) > records[j].ScoreFor(scoreType)
	})
	if count > 0 && len(records) > count {
		records = records[:count]
	}
	return records
}
