package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/types"
)

// Analyzer scores a page's extracted text on one dimension. Scores lie
// in [0, 1]; a failing analyzer reports 0 rather than aborting the page.
type Analyzer interface {
	Name() string
	Weight() float64
	Score(ctx context.Context, content string) (float64, error)
}

// Build constructs the analyzer described by spec. The Type field selects
// the implementation; unknown types return ErrUnknownAnalyzer.
func Build(spec types.AnalyzerSpec, llmCfg config.LLMConfig, logger *slog.Logger) (Analyzer, error) {
	switch spec.Type {
	case types.AnalyzerKeyword:
		return NewKeywordAnalyzer(spec, logger)
	case types.AnalyzerLLM:
		return NewLLMAnalyzer(spec, llmCfg, logger)
	default:
		return nil, fmt.Errorf("analyzer type %q: %w", spec.Type, types.ErrUnknownAnalyzer)
	}
}

// BuildAll constructs one analyzer per spec, preserving order.
func BuildAll(specs []types.AnalyzerSpec, llmCfg config.LLMConfig, logger *slog.Logger) ([]Analyzer, error) {
	analyzers := make([]Analyzer, 0, len(specs))
	for _, spec := range specs {
		a, err := Build(spec, llmCfg, logger)
		if err != nil {
			return nil, err
		}
		analyzers = append(analyzers, a)
	}
	return analyzers, nil
}

// --- Introspection ---

// FieldInfo describes one configurable field of an analyzer kind.
type FieldInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Info summarizes an analyzer kind for discovery endpoints.
type Info struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Fields      []FieldInfo `json:"fields"`
}

// Infos enumerates the supported analyzer kinds and their fields.
func Infos() []Info {
	return []Info{
		{
			Type:        types.AnalyzerKeyword,
			Description: "Counts weighted keyword and regex occurrences in page text, log-normalized to [0, 1].",
			Fields: []FieldInfo{
				{Name: "name", Type: "string", Required: true},
				{Name: "composite_weight", Type: "float", Required: true},
				{Name: "keywords", Type: "[{keyword, weight}]", Required: false},
				{Name: "regexes", Type: "[{pattern, weight, flags}]", Required: false},
			},
		},
		{
			Type:        types.AnalyzerLLM,
			Description: "Sends page text to an external scoring service and returns its score in [0, 1].",
			Fields: []FieldInfo{
				{Name: "name", Type: "string", Required: true},
				{Name: "composite_weight", Type: "float", Required: true},
				{Name: "scoring_input.prompt", Type: "string", Required: false},
				{Name: "scoring_input.topics", Type: "[string]", Required: false},
			},
		},
	}
}
