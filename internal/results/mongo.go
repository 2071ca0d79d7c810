package results

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/loomctl/crawlspace/internal/types"
)

// specDoc is the crawl_specs document, one per results bucket.
type specDoc struct {
	ID           string           `bson:"_id"`
	CollectionID string           `bson:"collection_id"`
	DataID       string           `bson:"data_id"`
	Spec         *types.CrawlSpec `bson:"spec"`
	CreatedAt    time.Time        `bson:"created_at"`
}

// recordDoc is the crawl_records document, keyed by bucket + record id.
type recordDoc struct {
	ID               string             `bson:"_id"`
	CrawlSpecID      string             `bson:"crawl_spec_id"`
	CrawlID          string             `bson:"crawl_id"`
	URL              string             `bson:"url"`
	PageSource       string             `bson:"page_source"`
	ExtractedContent string             `bson:"extracted_content"`
	Links            []string           `bson:"links"`
	Scores           map[string]float64 `bson:"scores"`
	CompositeScore   float64            `bson:"composite_score"`
	Timestamp        time.Time          `bson:"timestamp"`
}

// MongoManager stores buckets in MongoDB across two collections.
type MongoManager struct {
	client  *mongo.Client
	specs   *mongo.Collection
	records *mongo.Collection
	logger  *slog.Logger
}

// NewMongoManager connects to MongoDB and verifies the connection.
func NewMongoManager(uri, database string, logger *slog.Logger) (*MongoManager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongo", Op: "connect", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, &types.StorageError{Backend: "mongo", Op: "ping", Err: err}
	}

	db := client.Database(database)
	return &MongoManager{
		client:  client,
		specs:   db.Collection("crawl_specs"),
		records: db.Collection("crawl_records"),
		logger:  logger.With("component", "results_mongo"),
	}, nil
}

func (m *MongoManager) Name() string { return "mongo" }

func (m *MongoManager) CreateCrawl(ctx context.Context, spec *types.CrawlSpec, id types.CrawlResultsID) error {
	doc := specDoc{
		ID:           specRowID(id),
		CollectionID: id.CollectionID,
		DataID:       id.DataID,
		Spec:         spec,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := m.specs.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return &types.StorageError{Backend: "mongo", Op: "create_crawl", Err: err}
	}
	return nil
}

func (m *MongoManager) StoreRecord(ctx context.Context, rec *types.CrawlRecord, id types.CrawlResultsID, crawlID string) error {
	specID := specRowID(id)
	doc := recordDoc{
		ID:               specID + ":" + rec.RecordID(),
		CrawlSpecID:      specID,
		CrawlID:          crawlID,
		URL:              rec.URL,
		PageSource:       rec.PageSource,
		ExtractedContent: rec.ExtractedContent,
		Links:            rec.Links,
		Scores:           rec.Scores,
		CompositeScore:   rec.CompositeScore,
		Timestamp:        rec.Timestamp,
	}
	_, err := m.records.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return &types.StorageError{Backend: "mongo", Op: "store_record", Err: err}
	}
	return nil
}

func (m *MongoManager) DeleteCrawl(ctx context.Context, id types.CrawlResultsID) error {
	specID := specRowID(id)
	if _, err := m.records.DeleteMany(ctx, bson.M{"crawl_spec_id": specID}); err != nil {
		return &types.StorageError{Backend: "mongo", Op: "delete_crawl", Err: err}
	}
	if _, err := m.specs.DeleteOne(ctx, bson.M{"_id": specID}); err != nil {
		return &types.StorageError{Backend: "mongo", Op: "delete_crawl", Err: err}
	}
	return nil
}

func (m *MongoManager) GetRecords(ctx context.Context, id types.CrawlResultsID, count int, scoreType string) ([]*types.CrawlRecord, error) {
	if err := validateScoreType(scoreType); err != nil {
		return nil, err
	}

	sortField := "composite_score"
	if scoreType != types.ScoreTypeComposite {
		sortField = "scores." + scoreType
	}

	opts := options.Find().
		SetSort(bson.D{{Key: sortField, Value: -1}}).
		SetLimit(int64(count))
	cursor, err := m.records.Find(ctx, bson.M{"crawl_spec_id": specRowID(id)}, opts)
	if err != nil {
		return nil, &types.StorageError{Backend: "mongo", Op: "get_records", Err: err}
	}
	defer cursor.Close(ctx)

	var docs []recordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &types.StorageError{Backend: "mongo", Op: "get_records", Err: err}
	}

	records := make([]*types.CrawlRecord, len(docs))
	for i, doc := range docs {
		records[i] = &types.CrawlRecord{
			URL:              doc.URL,
			PageSource:       doc.PageSource,
			ExtractedContent: doc.ExtractedContent,
			Links:            doc.Links,
			Scores:           doc.Scores,
			CompositeScore:   doc.CompositeScore,
			Timestamp:        doc.Timestamp,
		}
	}
	return records, nil
}

func (m *MongoManager) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
