package state

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomctl/crawlspace/internal/types"
)

// MemoryStore keeps all crawl state in process memory. One mutex per crawl
// serializes frontier, visited-set, counter, and history access, so pops
// and enqueues observe the exclusion invariant at every point.
type MemoryStore struct {
	mu     sync.RWMutex
	crawls map[string]*crawlState
	logger *slog.Logger
}

type crawlState struct {
	mu        sync.Mutex
	pq        scoreQueue
	entries   map[string]*pqItem
	visited   map[string]struct{}
	history   []types.RunState
	seq       uint64
	crawled   int64
	processed int64
	errors    int64
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		crawls: make(map[string]*crawlState),
		logger: logger.With("component", "state_memory"),
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Create(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.crawls[id]; exists {
		return fmt.Errorf("crawl %s: %w", id, types.ErrCrawlExists)
	}
	s.crawls[id] = &crawlState{
		pq:      make(scoreQueue, 0, 64),
		entries: make(map[string]*pqItem),
		visited: make(map[string]struct{}),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.crawls[id]; !exists {
		s.logger.Warn("delete of unknown crawl", "crawl_id", id)
		return nil
	}
	delete(s.crawls, id)
	return nil
}

func (s *MemoryStore) get(id string) (*crawlState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.crawls[id]
	if !ok {
		return nil, fmt.Errorf("crawl %s: %w", id, types.ErrCrawlNotFound)
	}
	return cs, nil
}

func (s *MemoryStore) AddState(ctx context.Context, id string, rs types.RunState) error {
	cs, err := s.get(id)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.history = append(cs.history, rs)
	return nil
}

func (s *MemoryStore) CurrentState(ctx context.Context, id string) (types.RunStateEnum, error) {
	cs, err := s.get(id)
	if err != nil {
		return "", err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.history) == 0 {
		return types.StateCreated, nil
	}
	return cs.history[len(cs.history)-1].State, nil
}

func (s *MemoryStore) StateHistory(ctx context.Context, id string) ([]types.RunState, error) {
	cs, err := s.get(id)
	if err != nil {
		return nil, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	history := make([]types.RunState, len(cs.history))
	copy(history, cs.history)
	return history, nil
}

func (s *MemoryStore) AddURLs(ctx context.Context, id string, entries []types.FrontierEntry) error {
	cs, err := s.get(id)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, e := range entries {
		if _, seen := cs.visited[e.URL]; seen {
			continue
		}
		if _, queued := cs.entries[e.URL]; queued {
			continue
		}
		cs.seq++
		item := &pqItem{url: e.URL, score: e.Score, seq: cs.seq}
		heap.Push(&cs.pq, item)
		cs.entries[e.URL] = item
	}
	return nil
}

func (s *MemoryStore) PopNextURL(ctx context.Context, id string) (string, bool, error) {
	cs, err := s.get(id)
	if err != nil {
		return "", false, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.pq.Len() == 0 {
		return "", false, nil
	}

	item := heap.Pop(&cs.pq).(*pqItem)
	delete(cs.entries, item.url)
	cs.visited[item.url] = struct{}{}
	return item.url, true, nil
}

func (s *MemoryStore) IsVisited(ctx context.Context, id string, url string) (bool, error) {
	cs, err := s.get(id)
	if err != nil {
		return false, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, seen := cs.visited[url]
	return seen, nil
}

func (s *MemoryStore) IncCrawled(ctx context.Context, id string) error {
	return s.inc(id, func(cs *crawlState) { cs.crawled++ })
}

func (s *MemoryStore) IncProcessed(ctx context.Context, id string) error {
	return s.inc(id, func(cs *crawlState) { cs.processed++ })
}

func (s *MemoryStore) IncErrors(ctx context.Context, id string) error {
	return s.inc(id, func(cs *crawlState) { cs.errors++ })
}

func (s *MemoryStore) inc(id string, apply func(*crawlState)) error {
	cs, err := s.get(id)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	apply(cs)
	return nil
}

func (s *MemoryStore) Counters(ctx context.Context, id string) (Counters, error) {
	cs, err := s.get(id)
	if err != nil {
		return Counters{}, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	return Counters{
		Crawled:      cs.crawled,
		Processed:    cs.processed,
		Errors:       cs.errors,
		FrontierSize: int64(cs.pq.Len()),
	}, nil
}

func (s *MemoryStore) Close() error { return nil }

// --- Priority Queue Implementation ---

type pqItem struct {
	url   string
	score float64
	seq   uint64
	index int
}

type scoreQueue []*pqItem

func (pq scoreQueue) Len() int { return len(pq) }

func (pq scoreQueue) Less(i, j int) bool {
	// Higher score = higher priority; equal scores pop in insertion order
	if pq[i].score != pq[j].score {
		return pq[i].score > pq[j].score
	}
	return pq[i].seq < pq[j].seq
}

func (pq scoreQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *scoreQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pqItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *scoreQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // GC
	item.index = -1
	*pq = old[:n-1]
	return item
}
