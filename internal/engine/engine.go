package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomctl/crawlspace/internal/analyzer"
	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/observability"
	"github.com/loomctl/crawlspace/internal/results"
	"github.com/loomctl/crawlspace/internal/scraper"
	"github.com/loomctl/crawlspace/internal/state"
	"github.com/loomctl/crawlspace/internal/types"
)

// crawl is the engine's per-crawl runtime: the immutable spec, its
// results bucket, the built scoring pipeline, and the blacklist
// matcher. Mutable crawl state lives in the state store.
type crawl struct {
	id        string
	spec      *types.CrawlSpec
	resultsID types.CrawlResultsID
	pipeline  *analyzer.Pipeline
	blacklist *blacklist
}

// Engine orchestrates every crawl in the process: the registry, the
// shared worker pool, and the state, results, and scraping
// collaborators.
type Engine struct {
	cfg     *config.Config
	store   state.Store
	results results.Manager
	scraper scraper.Scraper
	metrics *observability.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	crawls map[string]*crawl

	pool       *Pool
	ctx        context.Context
	cancel     context.CancelFunc
	dispatchWG sync.WaitGroup
	closed     atomic.Bool
}

// New wires an engine from its collaborators and starts the shared pool.
func New(cfg *config.Config, store state.Store, res results.Manager, scr scraper.Scraper, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	size := PoolSize(cfg.Engine.MaxWorkers)

	e := &Engine{
		cfg:     cfg,
		store:   store,
		results: res,
		scraper: scr,
		metrics: metrics,
		logger:  logger.With("component", "engine"),
		crawls:  make(map[string]*crawl),
		pool:    NewPool(ctx, size, size*4),
		ctx:     ctx,
		cancel:  cancel,
	}

	e.logger.Info("engine ready",
		"pool_size", size,
		"state_backend", store.Name(),
		"results_backend", res.Name(),
	)
	return e
}

// Create registers a new crawl: validate the spec, build its analyzers,
// create store state with a CREATED history entry, seed the frontier at
// score 0, and provision the results bucket.
func (e *Engine) Create(ctx context.Context, spec *types.CrawlSpec) (*types.CrawlInfo, error) {
	if e.closed.Load() {
		return nil, types.ErrEngineClosed
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	analyzers, err := analyzer.BuildAll(spec.AnalyzerSpecs, e.cfg.LLM, e.logger)
	if err != nil {
		return nil, err
	}

	id := spec.CrawlID()

	resultsID := types.NewCrawlResultsID()
	if spec.ResultsID != nil && !spec.ResultsID.IsZero() {
		resultsID = *spec.ResultsID
	}

	// The store owns duplicate detection: two specs with the same name
	// share an id, and the second create fails.
	if err := e.store.Create(ctx, id); err != nil {
		return nil, err
	}
	if err := e.createState(ctx, id, spec, resultsID); err != nil {
		_ = e.store.Delete(ctx, id)
		return nil, err
	}

	c := &crawl{
		id:        id,
		spec:      spec,
		resultsID: resultsID,
		pipeline:  analyzer.NewPipeline(analyzers, e.metrics, e.logger),
		blacklist: newBlacklist(spec.DomainBlacklist),
	}

	e.mu.Lock()
	e.crawls[id] = c
	e.mu.Unlock()

	e.metrics.CrawlsCreated.Add(1)
	e.logger.Info("crawl created",
		"crawl_id", id,
		"crawl_name", spec.Name,
		"seeds", len(spec.Seeds),
		"analyzers", len(spec.AnalyzerSpecs),
	)

	return &types.CrawlInfo{
		CrawlID:      id,
		CrawlName:    spec.Name,
		CurrentState: types.StateCreated,
		Spec:         spec,
		ResultsID:    resultsID,
	}, nil
}

// createState populates store state and the results bucket for a fresh crawl.
func (e *Engine) createState(ctx context.Context, id string, spec *types.CrawlSpec, resultsID types.CrawlResultsID) error {
	if err := e.store.AddState(ctx, id, types.NewRunState(types.StateCreated)); err != nil {
		return err
	}

	entries := make([]types.FrontierEntry, 0, len(spec.Seeds))
	for _, seed := range spec.Seeds {
		entries = append(entries, types.FrontierEntry{URL: seed, Score: 0})
	}
	if err := e.store.AddURLs(ctx, id, entries); err != nil {
		return err
	}

	if err := e.results.CreateCrawl(ctx, spec, resultsID); err != nil {
		if !errors.Is(err, types.ErrUnsupported) {
			return err
		}
		e.logger.Debug("results backend manages buckets externally", "backend", e.results.Name())
	}
	return nil
}

// Start transitions a crawl to RUNNING and dispatches its workers onto
// the shared pool. Dispatch happens off-thread: Submit blocks when the
// pool is saturated, and start must return immediately.
func (e *Engine) Start(ctx context.Context, id string) error {
	if e.closed.Load() {
		return types.ErrEngineClosed
	}
	c, err := e.lookup(id)
	if err != nil {
		return err
	}

	st, err := e.store.CurrentState(ctx, id)
	if err != nil {
		return err
	}
	if st == types.StateRunning {
		return fmt.Errorf("%w: crawl %s", types.ErrAlreadyRunning, id)
	}

	if err := e.store.AddState(ctx, id, types.NewRunState(types.StateRunning)); err != nil {
		return err
	}

	workers := c.spec.WorkerCount
	if workers > e.cfg.Engine.MaxWorkers {
		workers = e.cfg.Engine.MaxWorkers
	}

	e.dispatchWG.Add(1)
	go func() {
		defer e.dispatchWG.Done()
		for i := 0; i < workers; i++ {
			workerID := i
			if err := e.pool.Submit(func() { e.runWorker(e.ctx, c, workerID) }); err != nil {
				e.logger.Warn("worker dispatch aborted", "crawl_id", c.id, "error", err)
				return
			}
		}
	}()

	e.metrics.CrawlsStarted.Add(1)
	e.logger.Info("crawl started", "crawl_id", id, "workers", workers)
	return nil
}

// Stop transitions a RUNNING crawl to STOPPED. Workers observe the
// state at their next iteration boundary and exit; in-flight scrapes
// finish on their own.
func (e *Engine) Stop(ctx context.Context, id string) error {
	if _, err := e.lookup(id); err != nil {
		return err
	}

	st, err := e.store.CurrentState(ctx, id)
	if err != nil {
		return err
	}
	if st != types.StateRunning {
		return fmt.Errorf("%w: crawl %s is %s", types.ErrNotRunning, id, st)
	}

	if err := e.store.AddState(ctx, id, types.NewRunState(types.StateStopped)); err != nil {
		return err
	}

	e.metrics.CrawlsStopped.Add(1)
	e.logger.Info("crawl stopped", "crawl_id", id)
	return nil
}

// Delete removes a non-running crawl: store state, results bucket, and
// the registry entry. Returns the deletion time.
func (e *Engine) Delete(ctx context.Context, id string) (time.Time, error) {
	c, err := e.lookup(id)
	if err != nil {
		return time.Time{}, err
	}

	st, err := e.store.CurrentState(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if st == types.StateRunning {
		return time.Time{}, fmt.Errorf("%w: stop crawl %s first", types.ErrRunningCannotDelete, id)
	}

	if err := e.store.Delete(ctx, id); err != nil {
		return time.Time{}, err
	}
	if err := e.results.DeleteCrawl(ctx, c.resultsID); err != nil && !errors.Is(err, types.ErrUnsupported) {
		e.logger.Error("results bucket delete failed", "crawl_id", id, "error", err)
	}

	e.mu.Lock()
	delete(e.crawls, id)
	e.mu.Unlock()

	e.metrics.CrawlsDeleted.Add(1)
	e.logger.Info("crawl deleted", "crawl_id", id)
	return time.Now().UTC(), nil
}

// Info returns the crawl's registry view with its current state.
func (e *Engine) Info(ctx context.Context, id string) (*types.CrawlInfo, error) {
	c, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	st, err := e.store.CurrentState(ctx, id)
	if err != nil {
		return nil, err
	}
	return &types.CrawlInfo{
		CrawlID:      c.id,
		CrawlName:    c.spec.Name,
		CurrentState: st,
		Spec:         c.spec,
		ResultsID:    c.resultsID,
	}, nil
}

// Spec returns the crawl's submitted specification.
func (e *Engine) Spec(id string) (*types.CrawlSpec, error) {
	c, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return c.spec, nil
}

// Status returns the crawl's state history plus one consistent counter
// snapshot.
func (e *Engine) Status(ctx context.Context, id string) (*types.CrawlStatus, error) {
	c, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	history, err := e.store.StateHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	current := types.StateCreated
	if len(history) > 0 {
		current = history[len(history)-1].State
	}

	counters, err := e.store.Counters(ctx, id)
	if err != nil {
		return nil, err
	}

	return &types.CrawlStatus{
		CrawlID:        c.id,
		CrawlName:      c.spec.Name,
		CurrentState:   current,
		StateHistory:   history,
		CrawledCount:   counters.Crawled,
		ProcessedCount: counters.Processed,
		ErrorCount:     counters.Errors,
		FrontierSize:   counters.FrontierSize,
	}, nil
}

// List returns info for every registered crawl, ordered by id.
func (e *Engine) List(ctx context.Context) ([]*types.CrawlInfo, error) {
	infos := make([]*types.CrawlInfo, 0)
	for _, id := range e.ids() {
		info, err := e.Info(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrCrawlNotFound) {
				continue // deleted concurrently
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// StatusAll returns a status snapshot for every registered crawl.
func (e *Engine) StatusAll(ctx context.Context) ([]*types.CrawlStatus, error) {
	statuses := make([]*types.CrawlStatus, 0)
	for _, id := range e.ids() {
		status, err := e.Status(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrCrawlNotFound) {
				continue
			}
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Records returns the crawl's top records ordered by the chosen score
// type, which must be "composite" or one of the crawl's analyzer names.
func (e *Engine) Records(ctx context.Context, id string, count int, scoreType string) ([]*types.CrawlRecord, error) {
	c, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: record_count must be > 0, got %d", types.ErrInvalidSpec, count)
	}
	if !c.validScoreType(scoreType) {
		return nil, fmt.Errorf("score type %q: %w", scoreType, types.ErrInvalidScoreType)
	}
	return e.results.GetRecords(ctx, c.resultsID, count, scoreType)
}

// AnalyzerInfos describes the configurable analyzer kinds.
func (e *Engine) AnalyzerInfos() []analyzer.Info {
	return analyzer.Infos()
}

// Shutdown stops every running crawl, drains the pool, and closes the
// engine's collaborators.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("engine shutting down")

	for _, id := range e.ids() {
		if err := e.Stop(ctx, id); err != nil &&
			!errors.Is(err, types.ErrNotRunning) && !errors.Is(err, types.ErrCrawlNotFound) {
			e.logger.Warn("stop during shutdown failed", "crawl_id", id, "error", err)
		}
	}

	e.cancel()
	e.dispatchWG.Wait()
	e.pool.Close()

	if err := e.scraper.Close(); err != nil {
		e.logger.Error("scraper close failed", "error", err)
	}
	if err := e.results.Close(); err != nil {
		e.logger.Error("results manager close failed", "error", err)
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("state store close failed", "error", err)
	}

	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) lookup(id string) (*crawl, error) {
	e.mu.RLock()
	c, ok := e.crawls[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrCrawlNotFound, id)
	}
	return c, nil
}

func (e *Engine) ids() []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.crawls))
	for id := range e.crawls {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// validScoreType accepts "composite" and the crawl's analyzer names.
func (c *crawl) validScoreType(scoreType string) bool {
	if scoreType == types.ScoreTypeComposite {
		return true
	}
	for _, a := range c.pipeline.Analyzers() {
		if a.Name() == scoreType {
			return true
		}
	}
	return false
}
