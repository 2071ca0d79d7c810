package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/types"
)

// generationInput mirrors the scoring service's request envelope.
type generationInput struct {
	Prompt       string         `json:"prompt"`
	OutputFormat map[string]any `json:"output_format"`
}

type scoreRequest struct {
	GenerationInput generationInput `json:"generation_input"`
	TextInputs      []string        `json:"text_inputs"`
}

// LLMAnalyzer scores content through an external scoring service. Any
// failure (transport, non-2xx, malformed or out-of-range score) degrades
// to a score of 0 so a flaky service never stalls a crawl.
type LLMAnalyzer struct {
	name   string
	weight float64
	prompt string
	cfg    config.LLMConfig
	client *http.Client
	logger *slog.Logger
}

// NewLLMAnalyzer resolves the prompt once from the spec's scoring input:
// an explicit prompt is used verbatim, a topic list expands into the
// configured template.
func NewLLMAnalyzer(spec types.AnalyzerSpec, cfg config.LLMConfig, logger *slog.Logger) (*LLMAnalyzer, error) {
	si := spec.ScoringInput
	if si == nil || (si.Prompt == "" && len(si.Topics) == 0) {
		return nil, fmt.Errorf("analyzer %q: scoring_input needs a prompt or topics: %w",
			spec.Name, types.ErrInvalidAnalyzerParams)
	}
	if si.Prompt != "" && len(si.Topics) > 0 {
		return nil, fmt.Errorf("analyzer %q: scoring_input cannot set both prompt and topics: %w",
			spec.Name, types.ErrInvalidAnalyzerParams)
	}

	prompt := si.Prompt
	if prompt == "" {
		prompt = cfg.DefaultPromptTemplate + " " + strings.Join(si.Topics, ", ")
	}

	return &LLMAnalyzer{
		name:   spec.Name,
		weight: spec.CompositeWeight,
		prompt: prompt,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout()},
		logger: logger.With("component", "llm_analyzer", "analyzer", spec.Name),
	}, nil
}

func (a *LLMAnalyzer) Name() string    { return a.name }
func (a *LLMAnalyzer) Weight() float64 { return a.weight }

// Prompt returns the resolved prompt sent with every scoring request.
func (a *LLMAnalyzer) Prompt() string { return a.prompt }

// Score issues one scoring request for the content. Degraded paths
// return (0, nil) with the cause logged at Warn.
func (a *LLMAnalyzer) Score(ctx context.Context, content string) (float64, error) {
	payload := scoreRequest{
		GenerationInput: generationInput{
			Prompt:       a.prompt,
			OutputFormat: a.cfg.OutputFormat,
		},
		TextInputs: []string{content},
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ServiceURL, bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("scoring request build failed", "error", err)
		return 0, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("scoring service unreachable", "url", a.cfg.ServiceURL, "error", err)
		return 0, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn("scoring service returned error status", "status", resp.StatusCode)
		return 0, nil
	}

	var result struct {
		Score json.Number `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		a.logger.Warn("scoring response decode failed", "error", err)
		return 0, nil
	}
	score, err := result.Score.Float64()
	if err != nil {
		a.logger.Warn("scoring response missing numeric score", "score", result.Score.String())
		return 0, nil
	}
	if score < 0 || score > 1 {
		a.logger.Warn("score out of range", "score", score)
		return 0, nil
	}
	return score, nil
}
