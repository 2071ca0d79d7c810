package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func keywordSpec(name string, weight float64, kws ...types.WeightedKeyword) types.AnalyzerSpec {
	return types.AnalyzerSpec{
		Type:            types.AnalyzerKeyword,
		Name:            name,
		CompositeWeight: weight,
		Keywords:        kws,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// --- Keyword Analyzer Tests ---

func TestKeywordAnalyzerScore(t *testing.T) {
	a, err := NewKeywordAnalyzer(keywordSpec("K", 1.0, types.WeightedKeyword{Keyword: "go", Weight: 1.0}), testLogger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// Two occurrences, weight 1: raw=2, normalized=log10(3)/log10(101)
	score, err := a.Score(context.Background(), "go go rust")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	want := math.Log10(3) / math.Log10(101)
	if !almostEqual(score, want) {
		t.Errorf("expected %.6f, got %.6f", want, score)
	}
}

func TestKeywordAnalyzerCaseInsensitive(t *testing.T) {
	a, err := NewKeywordAnalyzer(keywordSpec("K", 1.0, types.WeightedKeyword{Keyword: "go", Weight: 1.0}), testLogger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	score, _ := a.Score(context.Background(), "Go GO gO")
	want := math.Log10(4) / math.Log10(101) // 3 matches
	if !almostEqual(score, want) {
		t.Errorf("expected %.6f, got %.6f", want, score)
	}
}

func TestKeywordAnalyzerLiteralKeywords(t *testing.T) {
	// Keywords are literals: regex metacharacters must not be interpreted
	a, err := NewKeywordAnalyzer(keywordSpec("K", 1.0, types.WeightedKeyword{Keyword: "c++", Weight: 1.0}), testLogger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	score, _ := a.Score(context.Background(), "c++ and c")
	want := math.Log10(2) / math.Log10(101) // one literal match
	if !almostEqual(score, want) {
		t.Errorf("expected %.6f, got %.6f", want, score)
	}
}

func TestKeywordAnalyzerNoMatch(t *testing.T) {
	a, err := NewKeywordAnalyzer(keywordSpec("K", 1.0, types.WeightedKeyword{Keyword: "go", Weight: 1.0}), testLogger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if score, _ := a.Score(context.Background(), "rust only"); score != 0 {
		t.Errorf("expected 0 for no matches, got %.6f", score)
	}
	if score, _ := a.Score(context.Background(), ""); score != 0 {
		t.Errorf("expected 0 for empty content, got %.6f", score)
	}
}

func TestKeywordAnalyzerNegativeWeightsClamp(t *testing.T) {
	spec := keywordSpec("K", 1.0,
		types.WeightedKeyword{Keyword: "go", Weight: 1.0},
		types.WeightedKeyword{Keyword: "rust", Weight: -5.0},
	)
	a, err := NewKeywordAnalyzer(spec, testLogger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// raw = 1*1 + 1*(-5) = -4, clamps to 0
	if score, _ := a.Score(context.Background(), "go rust"); score != 0 {
		t.Errorf("expected 0 for negative raw sum, got %.6f", score)
	}
}

func TestKeywordAnalyzerSaturates(t *testing.T) {
	a, err := NewKeywordAnalyzer(keywordSpec("K", 1.0, types.WeightedKeyword{Keyword: "go", Weight: 500.0}), testLogger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// raw = 500 > 100, must clamp to exactly 1
	score, _ := a.Score(context.Background(), "go")
	if score != 1 {
		t.Errorf("expected saturated score 1, got %.6f", score)
	}
}

func TestKeywordAnalyzerRegexFlags(t *testing.T) {
	content := "go home\nstop\ngo away"

	tests := []struct {
		name    string
		pattern string
		flags   int
		matches int
	}{
		{"anchored no flags", "^go", 0, 1},
		{"anchored multiline", "^go", types.RegexFlagMultiline, 2},
		{"case sensitive", "GO", 0, 0},
		{"ignore case", "GO", types.RegexFlagIgnoreCase, 2},
		{"dot all", "home.stop", types.RegexFlagDotAll, 1},
	}

	for _, tt := range tests {
		spec := types.AnalyzerSpec{
			Type:            types.AnalyzerKeyword,
			Name:            "R",
			CompositeWeight: 1.0,
			Regexes:         []types.WeightedRegex{{Pattern: tt.pattern, Weight: 1.0, Flags: tt.flags}},
		}
		a, err := NewKeywordAnalyzer(spec, testLogger)
		if err != nil {
			t.Fatalf("%s: build failed: %v", tt.name, err)
		}
		score, _ := a.Score(context.Background(), content)

		var want float64
		if tt.matches > 0 {
			want = math.Log10(1+float64(tt.matches)) / math.Log10(101)
		}
		if !almostEqual(score, want) {
			t.Errorf("%s: expected %.6f, got %.6f", tt.name, want, score)
		}
	}
}

func TestKeywordAnalyzerInvalidParams(t *testing.T) {
	// Neither keywords nor regexes
	_, err := NewKeywordAnalyzer(types.AnalyzerSpec{Type: types.AnalyzerKeyword, Name: "K"}, testLogger)
	if !errors.Is(err, types.ErrInvalidAnalyzerParams) {
		t.Errorf("empty spec: expected ErrInvalidAnalyzerParams, got %v", err)
	}

	// Malformed regex
	spec := types.AnalyzerSpec{
		Type:    types.AnalyzerKeyword,
		Name:    "K",
		Regexes: []types.WeightedRegex{{Pattern: "(unclosed", Weight: 1.0}},
	}
	_, err = NewKeywordAnalyzer(spec, testLogger)
	if !errors.Is(err, types.ErrInvalidAnalyzerParams) {
		t.Errorf("bad regex: expected ErrInvalidAnalyzerParams, got %v", err)
	}
}

// --- LLM Analyzer Tests ---

func llmSpec(prompt string, topics []string) types.AnalyzerSpec {
	return types.AnalyzerSpec{
		Type:            types.AnalyzerLLM,
		Name:            "L",
		CompositeWeight: 1.0,
		ScoringInput:    &types.ScoringInput{Prompt: prompt, Topics: topics},
	}
}

func llmConfig(url string) config.LLMConfig {
	return config.LLMConfig{
		ServiceURL:            url,
		RequestTimeoutSeconds: 5,
		DefaultPromptTemplate: "Rate relevance to:",
		OutputFormat:          map[string]any{"score": "float"},
	}
}

func TestLLMAnalyzerScore(t *testing.T) {
	var gotBody scoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"score": 0.82}`)
	}))
	defer srv.Close()

	a, err := NewLLMAnalyzer(llmSpec("how relevant is this?", nil), llmConfig(srv.URL), testLogger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	score, err := a.Score(context.Background(), "page text")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if !almostEqual(score, 0.82) {
		t.Errorf("expected 0.82, got %.6f", score)
	}

	if gotBody.GenerationInput.Prompt != "how relevant is this?" {
		t.Errorf("unexpected prompt: %q", gotBody.GenerationInput.Prompt)
	}
	if len(gotBody.TextInputs) != 1 || gotBody.TextInputs[0] != "page text" {
		t.Errorf("unexpected text_inputs: %v", gotBody.TextInputs)
	}
	if gotBody.GenerationInput.OutputFormat["score"] != "float" {
		t.Errorf("unexpected output_format: %v", gotBody.GenerationInput.OutputFormat)
	}
}

func TestLLMAnalyzerTopicsPrompt(t *testing.T) {
	a, err := NewLLMAnalyzer(llmSpec("", []string{"quantum computing", "cryptography"}), llmConfig("http://localhost:1"), testLogger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	want := "Rate relevance to: quantum computing, cryptography"
	if a.Prompt() != want {
		t.Errorf("expected prompt %q, got %q", want, a.Prompt())
	}
}

func TestLLMAnalyzerDegradesToZero(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		}},
		{"missing score", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"result": "ok"}`)
		}},
		{"score above range", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"score": 1.5}`)
		}},
		{"score below range", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"score": -0.2}`)
		}},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(tt.handler)
		a, err := NewLLMAnalyzer(llmSpec("p", nil), llmConfig(srv.URL), testLogger)
		if err != nil {
			srv.Close()
			t.Fatalf("%s: build failed: %v", tt.name, err)
		}
		score, err := a.Score(context.Background(), "text")
		srv.Close()
		if err != nil {
			t.Errorf("%s: expected nil error on degrade, got %v", tt.name, err)
		}
		if score != 0 {
			t.Errorf("%s: expected 0, got %.6f", tt.name, score)
		}
	}
}

func TestLLMAnalyzerUnreachableService(t *testing.T) {
	a, err := NewLLMAnalyzer(llmSpec("p", nil), llmConfig("http://127.0.0.1:1"), testLogger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	score, err := a.Score(context.Background(), "text")
	if err != nil || score != 0 {
		t.Errorf("expected (0, nil) for unreachable service, got (%.6f, %v)", score, err)
	}
}

func TestLLMAnalyzerInvalidParams(t *testing.T) {
	cfg := llmConfig("http://localhost:1")

	// No scoring input at all
	_, err := NewLLMAnalyzer(types.AnalyzerSpec{Type: types.AnalyzerLLM, Name: "L"}, cfg, testLogger)
	if !errors.Is(err, types.ErrInvalidAnalyzerParams) {
		t.Errorf("nil scoring_input: expected ErrInvalidAnalyzerParams, got %v", err)
	}

	// Both prompt and topics set
	_, err = NewLLMAnalyzer(llmSpec("p", []string{"t"}), cfg, testLogger)
	if !errors.Is(err, types.ErrInvalidAnalyzerParams) {
		t.Errorf("prompt+topics: expected ErrInvalidAnalyzerParams, got %v", err)
	}
}

// --- Factory Tests ---

func TestBuildUnknownType(t *testing.T) {
	spec := types.AnalyzerSpec{Type: "sentiment", Name: "S"}
	_, err := Build(spec, llmConfig("http://localhost:1"), testLogger)
	if !errors.Is(err, types.ErrUnknownAnalyzer) {
		t.Errorf("expected ErrUnknownAnalyzer, got %v", err)
	}
}

func TestBuildAllPreservesOrder(t *testing.T) {
	specs := []types.AnalyzerSpec{
		keywordSpec("first", 0.5, types.WeightedKeyword{Keyword: "a", Weight: 1}),
		keywordSpec("second", 0.5, types.WeightedKeyword{Keyword: "b", Weight: 1}),
	}
	analyzers, err := BuildAll(specs, llmConfig("http://localhost:1"), testLogger)
	if err != nil {
		t.Fatalf("build all failed: %v", err)
	}
	if len(analyzers) != 2 || analyzers[0].Name() != "first" || analyzers[1].Name() != "second" {
		t.Errorf("unexpected analyzer order: %v", analyzers)
	}
}

func TestInfosCoversAllKinds(t *testing.T) {
	infos := Infos()
	kinds := make(map[string]bool)
	for _, info := range infos {
		kinds[info.Type] = true
		if len(info.Fields) == 0 {
			t.Errorf("kind %s has no fields", info.Type)
		}
	}
	if !kinds[types.AnalyzerKeyword] || !kinds[types.AnalyzerLLM] {
		t.Errorf("expected keyword and llm kinds, got %v", kinds)
	}
}

// --- Pipeline Tests ---

type stubAnalyzer struct {
	name   string
	weight float64
	score  float64
	err    error
}

func (s *stubAnalyzer) Name() string    { return s.name }
func (s *stubAnalyzer) Weight() float64 { return s.weight }
func (s *stubAnalyzer) Score(context.Context, string) (float64, error) {
	return s.score, s.err
}

func TestPipelineComposite(t *testing.T) {
	p := NewPipeline([]Analyzer{
		&stubAnalyzer{name: "a", weight: 0.75, score: 0.8},
		&stubAnalyzer{name: "b", weight: 0.25, score: 0.4},
	}, nil, testLogger)

	scores, composite := p.Run(context.Background(), "text")
	if !almostEqual(scores["a"], 0.8) || !almostEqual(scores["b"], 0.4) {
		t.Errorf("unexpected scores: %v", scores)
	}
	// (0.8*0.75 + 0.4*0.25) / 1.0 = 0.7
	if !almostEqual(composite, 0.7) {
		t.Errorf("expected composite 0.7, got %.6f", composite)
	}
}

func TestPipelineFailedAnalyzerKeepsWeight(t *testing.T) {
	p := NewPipeline([]Analyzer{
		&stubAnalyzer{name: "good", weight: 1.0, score: 0.8},
		&stubAnalyzer{name: "bad", weight: 1.0, err: errors.New("boom")},
	}, nil, testLogger)

	scores, composite := p.Run(context.Background(), "text")
	if scores["bad"] != 0 {
		t.Errorf("failed analyzer should score 0, got %.6f", scores["bad"])
	}
	// Failed analyzer's weight stays in the denominator: 0.8/2 = 0.4
	if !almostEqual(composite, 0.4) {
		t.Errorf("expected composite 0.4, got %.6f", composite)
	}
}

func TestPipelineKeywordWithDeadLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	kw, err := NewKeywordAnalyzer(keywordSpec("K", 1.0, types.WeightedKeyword{Keyword: "go", Weight: 1.0}), testLogger)
	if err != nil {
		t.Fatalf("build keyword failed: %v", err)
	}
	llm, err := NewLLMAnalyzer(llmSpec("p", nil), llmConfig(srv.URL), testLogger)
	if err != nil {
		t.Fatalf("build llm failed: %v", err)
	}

	p := NewPipeline([]Analyzer{kw, llm}, nil, testLogger)
	scores, composite := p.Run(context.Background(), "go go go go")

	if scores["L"] != 0 {
		t.Errorf("dead service should score 0, got %.6f", scores["L"])
	}
	// 4 matches: (log10(5)/log10(101) + 0) / 2
	want := math.Log10(5) / math.Log10(101) / 2
	if !almostEqual(composite, want) {
		t.Errorf("expected composite %.6f, got %.6f", want, composite)
	}
	t.Logf("composite with degraded llm: %.4f", composite)
}

func TestPipelineZeroWeights(t *testing.T) {
	p := NewPipeline([]Analyzer{
		&stubAnalyzer{name: "a", weight: 0, score: 0.9},
	}, nil, testLogger)

	_, composite := p.Run(context.Background(), "text")
	if composite != 0 {
		t.Errorf("expected composite 0 for zero weight sum, got %.6f", composite)
	}

	empty := NewPipeline(nil, nil, testLogger)
	if _, composite := empty.Run(context.Background(), "text"); composite != 0 {
		t.Errorf("expected composite 0 for empty pipeline, got %.6f", composite)
	}
}

// --- Benchmarks ---

func BenchmarkKeywordAnalyzer(b *testing.B) {
	a, err := NewKeywordAnalyzer(keywordSpec("K", 1.0,
		types.WeightedKeyword{Keyword: "go", Weight: 1.0},
		types.WeightedKeyword{Keyword: "concurrency", Weight: 2.0},
	), testLogger)
	if err != nil {
		b.Fatalf("build failed: %v", err)
	}
	content := strings.Repeat("go is a language built for concurrency and simplicity. ", 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Score(context.Background(), content)
	}
}
