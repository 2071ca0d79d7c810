package types

import (
	"time"
)

// ScoreTypeComposite selects the weighted composite when querying records.
const ScoreTypeComposite = "composite"

// RunStateEnum enumerates crawl lifecycle states.
type RunStateEnum string

const (
	StateCreated RunStateEnum = "CREATED"
	StateRunning RunStateEnum = "RUNNING"
	StateStopped RunStateEnum = "STOPPED"
)

// RunState is one entry in a crawl's append-only state history.
type RunState struct {
	State     RunStateEnum `json:"state"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewRunState stamps a state transition at the current UTC time.
func NewRunState(state RunStateEnum) RunState {
	return RunState{State: state, Timestamp: time.Now().UTC()}
}

// FrontierEntry is a URL queued for crawling with its priority score.
// Frontier entries are unique by URL and popped in descending score order.
type FrontierEntry struct {
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// CrawlRecord is the persisted outcome of visiting one URL. Record
// identity is URL identity: RecordID derives from the URL alone.
type CrawlRecord struct {
	URL              string             `json:"url"`
	PageSource       string             `json:"page_source"`
	ExtractedContent string             `json:"extracted_content"`
	Links            []string           `json:"links"`
	Scores           map[string]float64 `json:"scores"`
	CompositeScore   float64            `json:"composite_score"`
	Timestamp        time.Time          `json:"timestamp"`
}

// RecordID derives the record identifier from the URL.
func (r *CrawlRecord) RecordID() string { return HashID(r.URL) }

// ScoreFor returns the record's value for a score type, 0 when absent.
func (r *CrawlRecord) ScoreFor(scoreType string) float64 {
	if scoreType == ScoreTypeComposite {
		return r.CompositeScore
	}
	return r.Scores[scoreType]
}

// CrawlInfo summarizes a crawl for listing and lookup endpoints.
type CrawlInfo struct {
	CrawlID      string         `json:"crawl_id"`
	CrawlName    string         `json:"crawl_name"`
	CurrentState RunStateEnum   `json:"current_state"`
	Spec         *CrawlSpec     `json:"spec"`
	ResultsID    CrawlResultsID `json:"results_id"`
}

// CrawlStatus is the consistent counter snapshot surfaced by status queries.
type CrawlStatus struct {
	CrawlID        string       `json:"crawl_id"`
	CrawlName      string       `json:"crawl_name"`
	CurrentState   RunStateEnum `json:"current_state"`
	StateHistory   []RunState   `json:"state_history"`
	CrawledCount   int64        `json:"crawled_count"`
	ProcessedCount int64        `json:"processed_count"`
	ErrorCount     int64        `json:"error_count"`
	FrontierSize   int64        `json:"frontier_size"`
}
