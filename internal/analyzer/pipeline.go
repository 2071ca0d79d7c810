package analyzer

import (
	"context"
	"log/slog"

	"github.com/loomctl/crawlspace/internal/observability"
)

// Pipeline runs a crawl's analyzers over extracted text and folds their
// scores into a weighted composite.
type Pipeline struct {
	analyzers []Analyzer
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewPipeline creates a scoring pipeline. metrics may be nil.
func NewPipeline(analyzers []Analyzer, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		analyzers: analyzers,
		metrics:   metrics,
		logger:    logger.With("component", "score_pipeline"),
	}
}

// Analyzers returns the configured analyzers in order.
func (p *Pipeline) Analyzers() []Analyzer { return p.analyzers }

// Run scores content with every analyzer and returns the per-analyzer
// scores plus the weighted composite. A failed analyzer contributes 0
// but keeps its weight in the denominator. An empty pipeline or a zero
// weight sum yields composite 0.
func (p *Pipeline) Run(ctx context.Context, content string) (map[string]float64, float64) {
	scores := make(map[string]float64, len(p.analyzers))
	var weighted, total float64
	for _, a := range p.analyzers {
		score, err := a.Score(ctx, content)
		if err != nil {
			p.logger.Warn("analyzer failed", "analyzer", a.Name(), "error", err)
			if p.metrics != nil {
				p.metrics.AnalyzerFailures.Add(1)
			}
			score = 0
		}
		scores[a.Name()] = score
		weighted += score * a.Weight()
		total += a.Weight()
	}
	if total == 0 {
		return scores, 0
	}
	return scores, weighted / total
}
