package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/types"
)

// Counters is a consistent snapshot of a crawl's progress counters.
type Counters struct {
	Crawled      int64
	Processed    int64
	Errors       int64
	FrontierSize int64
}

// Store owns per-crawl runtime state: the score-ordered frontier, the
// visited set, progress counters, and the append-only state history.
// All mutation of crawl state flows through this interface; concurrent
// access is serialized per crawl by the backend.
type Store interface {
	// Create registers a crawl id. Fails with ErrCrawlExists on duplicates.
	Create(ctx context.Context, id string) error

	// Delete removes all state for a crawl. Idempotent: absent ids only log.
	Delete(ctx context.Context, id string) error

	// AddState appends a run state to the crawl's history.
	AddState(ctx context.Context, id string, rs types.RunState) error

	// CurrentState returns the last history entry, CREATED when history is empty.
	CurrentState(ctx context.Context, id string) (types.RunStateEnum, error)

	// StateHistory returns the crawl's state history in append order.
	StateHistory(ctx context.Context, id string) ([]types.RunState, error)

	// AddURLs enqueues frontier entries, skipping URLs already visited or
	// already enqueued. Scores of existing entries are never updated.
	AddURLs(ctx context.Context, id string, entries []types.FrontierEntry) error

	// PopNextURL atomically removes the highest-scored entry and marks its
	// URL visited. ok is false when the frontier is empty.
	PopNextURL(ctx context.Context, id string) (url string, ok bool, err error)

	// IsVisited reports whether a URL has been popped for this crawl.
	IsVisited(ctx context.Context, id string, url string) (bool, error)

	IncCrawled(ctx context.Context, id string) error
	IncProcessed(ctx context.Context, id string) error
	IncErrors(ctx context.Context, id string) error

	// Counters returns a single consistent snapshot of the four counters.
	Counters(ctx context.Context, id string) (Counters, error)

	// Name returns the backend identifier.
	Name() string

	// Close releases backend resources.
	Close() error
}

// New creates the configured state store backend.
func New(cfg config.StateConfig, logger *slog.Logger) (Store, error) {
	switch cfg.StorageType {
	case "memory":
		return NewMemoryStore(logger), nil
	case "external":
		return NewRedisStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported state storage type: %s", cfg.StorageType)
	}
}
