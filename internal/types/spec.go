package types

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Analyzer kind discriminators for AnalyzerSpec.Type.
const (
	AnalyzerKeyword = "keyword"
	AnalyzerLLM     = "llm"
)

// Regex flag bitmask understood by the keyword analyzer.
const (
	RegexFlagIgnoreCase = 1 << iota
	RegexFlagMultiline
	RegexFlagDotAll
)

// WeightedKeyword is a literal keyword with its scoring weight.
type WeightedKeyword struct {
	Keyword string  `json:"keyword"`
	Weight  float64 `json:"weight"`
}

// WeightedRegex is a regular expression with its scoring weight and a
// flag bitmask (ignore-case, multiline, dot-all).
type WeightedRegex struct {
	Pattern string  `json:"pattern"`
	Weight  float64 `json:"weight"`
	Flags   int     `json:"flags,omitempty"`
}

// ScoringInput selects the prompt source for an LLM analyzer: either a
// caller-supplied prompt or a topic list expanded into the default template.
// Exactly one of the two must be set.
type ScoringInput struct {
	Prompt string   `json:"prompt,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// AnalyzerSpec configures one analyzer instance. Type discriminates the
// variant: "keyword" uses Keywords/Regexes, "llm" uses ScoringInput.
// Name keys the per-record scores map and must be unique within a spec.
type AnalyzerSpec struct {
	Type            string            `json:"type"`
	Name            string            `json:"name"`
	CompositeWeight float64           `json:"composite_weight"`
	Keywords        []WeightedKeyword `json:"keywords,omitempty"`
	Regexes         []WeightedRegex   `json:"regexes,omitempty"`
	ScoringInput    *ScoringInput     `json:"scoring_input,omitempty"`
}

// CrawlResultsID names the persistence bucket where a crawl's records live.
type CrawlResultsID struct {
	CollectionID string `json:"collection_id"`
	DataID       string `json:"data_id"`
}

// NewCrawlResultsID generates a fresh bucket identity.
func NewCrawlResultsID() CrawlResultsID {
	return CrawlResultsID{
		CollectionID: "collection_" + uuid.NewString(),
		DataID:       "data_" + uuid.NewString(),
	}
}

// IsZero reports whether the bucket identity is unset.
func (id CrawlResultsID) IsZero() bool {
	return id.CollectionID == "" && id.DataID == ""
}

// CrawlSpec describes one crawl submitted by a client.
type CrawlSpec struct {
	Name            string          `json:"name"`
	Seeds           []string        `json:"seeds"`
	AnalyzerSpecs   []AnalyzerSpec  `json:"analyzer_specs"`
	WorkerCount     int             `json:"worker_count"`
	DomainBlacklist []string        `json:"domain_blacklist,omitempty"`
	ResultsID       *CrawlResultsID `json:"results_id,omitempty"`
}

// CrawlID derives the stable crawl identifier from the spec name. Two
// specs with the same name map to the same crawl.
func (s *CrawlSpec) CrawlID() string { return HashID(s.Name) }

// Validate checks the spec's structural invariants.
func (s *CrawlSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidSpec)
	}
	if len(s.Seeds) == 0 {
		return fmt.Errorf("%w: at least one seed URL is required", ErrInvalidSpec)
	}
	for _, seed := range s.Seeds {
		if err := ValidateURL(seed); err != nil {
			return fmt.Errorf("%w: seed %q: %v", ErrInvalidSpec, seed, err)
		}
	}
	if s.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be >= 1, got %d", ErrInvalidSpec, s.WorkerCount)
	}
	seen := make(map[string]struct{}, len(s.AnalyzerSpecs))
	for _, as := range s.AnalyzerSpecs {
		if as.Name == "" {
			return fmt.Errorf("%w: analyzer name must not be empty", ErrInvalidSpec)
		}
		if as.Name == ScoreTypeComposite {
			return fmt.Errorf("%w: analyzer name %q is reserved", ErrInvalidSpec, ScoreTypeComposite)
		}
		if _, dup := seen[as.Name]; dup {
			return fmt.Errorf("%w: duplicate analyzer name %q", ErrInvalidSpec, as.Name)
		}
		seen[as.Name] = struct{}{}
	}
	return nil
}

// HashID returns the canonical hex identifier for a crawl name or URL.
func HashID(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ValidateURL checks that a URL is absolute http(s) with a host.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
