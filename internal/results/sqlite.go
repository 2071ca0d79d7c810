package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loomctl/crawlspace/internal/types"
)

// crawlSpecRow is the crawl_specs table: one row per results bucket.
type crawlSpecRow struct {
	ID              string `gorm:"primaryKey"`
	CollectionID    string `gorm:"index"`
	DataID          string
	Name            string
	Seeds           string `gorm:"type:text"` // JSON array
	AnalyzerSpecs   string `gorm:"type:text"` // JSON array
	WorkerCount     int
	DomainBlacklist string `gorm:"type:text"` // JSON array
	CreatedAt       time.Time
}

func (crawlSpecRow) TableName() string { return "crawl_specs" }

// crawlRecordRow is the crawl_records table, keyed by (crawl_spec_id, id)
// so the same URL may appear in different buckets.
type crawlRecordRow struct {
	ID               string        `gorm:"primaryKey"`
	CrawlSpecID      string        `gorm:"primaryKey;index"`
	Spec             *crawlSpecRow `gorm:"foreignKey:CrawlSpecID;constraint:OnDelete:CASCADE"`
	CrawlID          string        `gorm:"index"`
	URL              string        `gorm:"not null"`
	PageSource       string        `gorm:"type:text"`
	ExtractedContent string        `gorm:"type:text"`
	Links            string        `gorm:"type:text"` // JSON array
	Scores           string        `gorm:"type:text"` // JSON object
	CompositeScore   float64       `gorm:"index"`
	Timestamp        time.Time
}

func (crawlRecordRow) TableName() string { return "crawl_records" }

// SQLManager stores buckets in SQLite through gorm. Deleting a bucket's
// spec row cascades to its records.
type SQLManager struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSQLManager opens the database with WAL mode and foreign keys on,
// tunes the pool, and migrates the schema.
func NewSQLManager(dbPath string, logger *slog.Logger) (*SQLManager, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, &types.StorageError{Backend: "sql", Op: "open", Err: err}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, &types.StorageError{Backend: "sql", Op: "open", Err: err}
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := db.AutoMigrate(&crawlSpecRow{}, &crawlRecordRow{}); err != nil {
		return nil, &types.StorageError{Backend: "sql", Op: "migrate", Err: err}
	}

	return &SQLManager{
		db:     db,
		logger: logger.With("component", "results_sql"),
	}, nil
}

func (m *SQLManager) Name() string { return "sql" }

func specRowID(id types.CrawlResultsID) string {
	return id.CollectionID + ":" + id.DataID
}

func (m *SQLManager) CreateCrawl(ctx context.Context, spec *types.CrawlSpec, id types.CrawlResultsID) error {
	seeds, _ := json.Marshal(spec.Seeds)
	analyzers, _ := json.Marshal(spec.AnalyzerSpecs)
	blacklist, _ := json.Marshal(spec.DomainBlacklist)

	row := crawlSpecRow{
		ID:              specRowID(id),
		CollectionID:    id.CollectionID,
		DataID:          id.DataID,
		Name:            spec.Name,
		Seeds:           string(seeds),
		AnalyzerSpecs:   string(analyzers),
		WorkerCount:     spec.WorkerCount,
		DomainBlacklist: string(blacklist),
	}

	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return &types.StorageError{Backend: "sql", Op: "create_crawl", Err: err}
	}
	return nil
}

func (m *SQLManager) StoreRecord(ctx context.Context, rec *types.CrawlRecord, id types.CrawlResultsID, crawlID string) error {
	links, _ := json.Marshal(rec.Links)
	scores, _ := json.Marshal(rec.Scores)

	row := crawlRecordRow{
		ID:               rec.RecordID(),
		CrawlSpecID:      specRowID(id),
		CrawlID:          crawlID,
		URL:              rec.URL,
		PageSource:       rec.PageSource,
		ExtractedContent: rec.ExtractedContent,
		Links:            string(links),
		Scores:           string(scores),
		CompositeScore:   rec.CompositeScore,
		Timestamp:        rec.Timestamp,
	}

	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "crawl_spec_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"crawl_id", "url", "page_source", "extracted_content",
			"links", "scores", "composite_score", "timestamp",
		}),
	}).Create(&row).Error
	if err != nil {
		return &types.StorageError{Backend: "sql", Op: "store_record", Err: err}
	}
	return nil
}

func (m *SQLManager) DeleteCrawl(ctx context.Context, id types.CrawlResultsID) error {
	err := m.db.WithContext(ctx).Delete(&crawlSpecRow{}, "id = ?", specRowID(id)).Error
	if err != nil {
		return &types.StorageError{Backend: "sql", Op: "delete_crawl", Err: err}
	}
	return nil
}

func (m *SQLManager) GetRecords(ctx context.Context, id types.CrawlResultsID, count int, scoreType string) ([]*types.CrawlRecord, error) {
	if err := validateScoreType(scoreType); err != nil {
		return nil, err
	}

	order := "composite_score DESC"
	if scoreType != types.ScoreTypeComposite {
		order = fmt.Sprintf("COALESCE(json_extract(scores, '$.%s'), 0) DESC", scoreType)
	}

	var rows []crawlRecordRow
	err := m.db.WithContext(ctx).
		Where("crawl_spec_id = ?", specRowID(id)).
		Order(order).
		Limit(count).
		Find(&rows).Error
	if err != nil {
		return nil, &types.StorageError{Backend: "sql", Op: "get_records", Err: err}
	}

	records := make([]*types.CrawlRecord, 0, len(rows))
	for i := range rows {
		rec, err := recordFromRow(&rows[i])
		if err != nil {
			m.logger.Warn("skipping malformed record row", "record_id", rows[i].ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromRow(row *crawlRecordRow) (*types.CrawlRecord, error) {
	rec := &types.CrawlRecord{
		URL:              row.URL,
		PageSource:       row.PageSource,
		ExtractedContent: row.ExtractedContent,
		CompositeScore:   row.CompositeScore,
		Timestamp:        row.Timestamp,
	}
	if row.Links != "" {
		if err := json.Unmarshal([]byte(row.Links), &rec.Links); err != nil {
			return nil, fmt.Errorf("decode links: %w", err)
		}
	}
	if row.Scores != "" {
		if err := json.Unmarshal([]byte(row.Scores), &rec.Scores); err != nil {
			return nil, fmt.Errorf("decode scores: %w", err)
		}
	}
	return rec, nil
}

func (m *SQLManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
