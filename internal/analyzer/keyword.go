package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/loomctl/crawlspace/internal/types"
)

// weightedPattern is a compiled matcher with its occurrence weight.
type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

// KeywordAnalyzer scores content by counting weighted keyword and regex
// matches. The raw weighted count is squashed onto [0, 1] with
// log10(1+raw)/log10(101), so a raw count of 100 saturates the scale.
type KeywordAnalyzer struct {
	name     string
	weight   float64
	patterns []weightedPattern
	logger   *slog.Logger
}

// NewKeywordAnalyzer compiles the spec's keywords and regexes once.
// Keywords match case-insensitively as literal text.
func NewKeywordAnalyzer(spec types.AnalyzerSpec, logger *slog.Logger) (*KeywordAnalyzer, error) {
	if len(spec.Keywords) == 0 && len(spec.Regexes) == 0 {
		return nil, fmt.Errorf("analyzer %q: keywords and regexes both empty: %w",
			spec.Name, types.ErrInvalidAnalyzerParams)
	}

	patterns := make([]weightedPattern, 0, len(spec.Keywords)+len(spec.Regexes))
	for _, kw := range spec.Keywords {
		if kw.Keyword == "" {
			return nil, fmt.Errorf("analyzer %q: empty keyword: %w", spec.Name, types.ErrInvalidAnalyzerParams)
		}
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(kw.Keyword))
		patterns = append(patterns, weightedPattern{re: re, weight: kw.Weight})
	}
	for _, rx := range spec.Regexes {
		re, err := regexp.Compile(flagPrefix(rx.Flags) + rx.Pattern)
		if err != nil {
			return nil, fmt.Errorf("analyzer %q: regex %q: %v: %w",
				spec.Name, rx.Pattern, err, types.ErrInvalidAnalyzerParams)
		}
		patterns = append(patterns, weightedPattern{re: re, weight: rx.Weight})
	}

	return &KeywordAnalyzer{
		name:     spec.Name,
		weight:   spec.CompositeWeight,
		patterns: patterns,
		logger:   logger.With("component", "keyword_analyzer", "analyzer", spec.Name),
	}, nil
}

func (a *KeywordAnalyzer) Name() string    { return a.name }
func (a *KeywordAnalyzer) Weight() float64 { return a.weight }

// Score counts non-overlapping matches for every pattern and normalizes
// the weighted sum. Empty content or a non-positive raw sum scores 0.
func (a *KeywordAnalyzer) Score(_ context.Context, content string) (float64, error) {
	if content == "" {
		return 0, nil
	}
	var raw float64
	for _, p := range a.patterns {
		if n := len(p.re.FindAllStringIndex(content, -1)); n > 0 {
			raw += float64(n) * p.weight
		}
	}
	if raw <= 0 {
		return 0, nil
	}
	return math.Min(math.Log10(1+raw)/math.Log10(101), 1), nil
}

// flagPrefix maps the numeric flag bitmask onto inline regexp flags.
func flagPrefix(flags int) string {
	var b strings.Builder
	if flags&types.RegexFlagIgnoreCase != 0 {
		b.WriteString("(?i)")
	}
	if flags&types.RegexFlagMultiline != 0 {
		b.WriteString("(?m)")
	}
	if flags&types.RegexFlagDotAll != 0 {
		b.WriteString("(?s)")
	}
	return b.String()
}
