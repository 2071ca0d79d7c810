package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for lifecycle and validation failures.
var (
	ErrCrawlNotFound         = errors.New("crawl not found")
	ErrCrawlExists           = errors.New("crawl already exists")
	ErrAlreadyRunning        = errors.New("crawl is already running")
	ErrNotRunning            = errors.New("crawl is not running")
	ErrRunningCannotDelete   = errors.New("crawl is running and cannot be deleted")
	ErrInvalidSpec           = errors.New("invalid crawl spec")
	ErrUnknownAnalyzer       = errors.New("unknown analyzer type")
	ErrInvalidAnalyzerParams = errors.New("invalid analyzer parameters")
	ErrInvalidScoreType      = errors.New("invalid score type")
	ErrUnsupported           = errors.New("operation not supported")
	ErrEngineClosed          = errors.New("engine is shut down")
)

// ScrapeError wraps failures while fetching or rendering a page.
type ScrapeError struct {
	URL string
	Err error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape error for %s: %v", e.URL, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// FetchError wraps a plain HTTP fetch failure. Retryable marks transient
// conditions (timeouts, resets, 429, 5xx); RetryAfter carries the
// server-requested delay when a 429 supplied one.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// AnalyzerError wraps a single analyzer's scoring failure. The pipeline
// degrades it to a zero score; it never aborts record processing.
type AnalyzerError struct {
	Analyzer string
	Err      error
}

func (e *AnalyzerError) Error() string {
	return fmt.Sprintf("analyzer %q: %v", e.Analyzer, e.Err)
}

func (e *AnalyzerError) Unwrap() error { return e.Err }

// StorageError wraps failures from a results backend.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s %s): %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// StateStoreError wraps state-store backend failures. Retryable marks
// transport outages that workers treat as transient.
type StateStoreError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StateStoreError) Error() string {
	return fmt.Sprintf("state store error (%s): %v", e.Op, e.Err)
}

func (e *StateStoreError) Unwrap() error { return e.Err }

func (e *StateStoreError) IsRetryable() bool { return e.Retryable }
