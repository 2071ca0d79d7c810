package crawlspace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loomctl/crawlspace/internal/seeds"
	"github.com/loomctl/crawlspace/internal/types"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithTimeout(5*time.Second))
}

func TestCreateCrawl(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/crawls", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CrawlSpec *types.CrawlSpec `json:"crawl_spec"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.CrawlSpec == nil || body.CrawlSpec.Name != "docs" {
			t.Errorf("unexpected spec: %+v", body.CrawlSpec)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"crawl_id":  "abc123",
			"run_state": "CREATED",
		})
	})
	client := newTestClient(t, mux)

	handle, err := client.CreateCrawl(context.Background(), &types.CrawlSpec{Name: "docs"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if handle.CrawlID != "abc123" || handle.RunState != types.StateCreated {
		t.Errorf("handle = %+v", handle)
	}
}

func TestLifecycleCalls(t *testing.T) {
	deletedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/crawls/abc/start", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"crawl_id": "abc", "run_state": "RUNNING"})
	})
	mux.HandleFunc("POST /api/v1/crawls/abc/stop", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"crawl_id": "abc", "run_state": "STOPPED"})
	})
	mux.HandleFunc("DELETE /api/v1/crawls/abc", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"crawl_id":           "abc",
			"crawl_deleted_time": deletedAt.Format(time.RFC3339),
		})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	handle, err := client.StartCrawl(ctx, "abc")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if handle.RunState != types.StateRunning {
		t.Errorf("start state = %s, want RUNNING", handle.RunState)
	}

	handle, err = client.StopCrawl(ctx, "abc")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if handle.RunState != types.StateStopped {
		t.Errorf("stop state = %s, want STOPPED", handle.RunState)
	}

	deleted, err := client.DeleteCrawl(ctx, "abc")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !deleted.Equal(deletedAt) {
		t.Errorf("deleted time = %v, want %v", deleted, deletedAt)
	}
}

func TestStatusAndRecords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/crawls/abc/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": types.CrawlStatus{CrawlID: "abc", ProcessedCount: 42, CurrentState: types.StateRunning},
		})
	})
	mux.HandleFunc("POST /api/v1/results/abc/records", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RecordCount int    `json:"record_count"`
			ScoreType   string `json:"score_type"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.RecordCount != 10 || body.ScoreType != "composite" {
			t.Errorf("unexpected body: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"records": []types.CrawlRecord{{URL: "https://go.dev/", CompositeScore: 0.8}},
		})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	status, err := client.CrawlStatus(ctx, "abc")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.ProcessedCount != 42 {
		t.Errorf("processed = %d, want 42", status.ProcessedCount)
	}

	records, err := client.Records(ctx, "abc", 10, "composite")
	if err != nil {
		t.Fatalf("records failed: %v", err)
	}
	if len(records) != 1 || records[0].URL != "https://go.dev/" {
		t.Errorf("records = %+v", records)
	}
}

func TestCollectSeeds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/seeds/collect", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SearchEngineSeeds []seeds.Request `json:"search_engine_seeds"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.SearchEngineSeeds) != 1 || body.SearchEngineSeeds[0].Query != "golang" {
			t.Errorf("unexpected body: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"seed_urls": []string{"https://go.dev/"}})
	})
	client := newTestClient(t, mux)

	urls, err := client.CollectSeeds(context.Background(), []seeds.Request{
		{SearchEngine: "google", Query: "golang", ResultCount: 5},
	})
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://go.dev/" {
		t.Errorf("urls = %v", urls)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/crawls/abc/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "crawl is already running"})
	})
	client := newTestClient(t, mux)

	_, err := client.StartCrawl(context.Background(), "abc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.StatusCode)
	}
	if apiErr.Message != "crawl is already running" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	client := newTestClient(t, mux)

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health failed: %v", err)
	}
}
