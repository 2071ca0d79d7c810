package fetch

import (
	"compress/gzip"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/loomctl/crawlspace/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(5*time.Second, "test-agent", "", testLogger)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientGetPlain(t *testing.T) {
	var gotUA, gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	body, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != "<html>hello</html>" {
		t.Errorf("unexpected body: %q", body)
	}
	if gotUA != "test-agent" {
		t.Errorf("expected test-agent UA, got %q", gotUA)
	}
	if gotEncoding != "gzip, deflate, br" {
		t.Errorf("expected br in accept-encoding, got %q", gotEncoding)
	}
}

func TestClientDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("compressed payload"))
		gz.Close()
	}))
	defer srv.Close()

	c := newTestClient(t)
	body, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != "compressed payload" {
		t.Errorf("gzip not decompressed: %q", body)
	}
}

func TestClientDecompressesBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		br := brotli.NewWriter(w)
		br.Write([]byte("brotli payload"))
		br.Close()
	}))
	defer srv.Close()

	c := newTestClient(t)
	body, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != "brotli payload" {
		t.Errorf("brotli not decompressed: %q", body)
	}
}

func TestClientRateLimitedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.Get(context.Background(), srv.URL)
	var fetchErr *types.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if !fetchErr.Retryable {
		t.Error("429 must be retryable")
	}
	if fetchErr.RetryAfter != 7*time.Second {
		t.Errorf("expected retry-after 7s, got %s", fetchErr.RetryAfter)
	}
}

func TestClientStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := newTestClient(t)
		_, err := c.Get(context.Background(), srv.URL)
		srv.Close()

		var fetchErr *types.FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("status %d: expected FetchError, got %v", tt.status, err)
		}
		if fetchErr.StatusCode != tt.status {
			t.Errorf("expected status %d, got %d", tt.status, fetchErr.StatusCode)
		}
		if fetchErr.Retryable != tt.retryable {
			t.Errorf("status %d: expected retryable=%v", tt.status, tt.retryable)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 5 * time.Second},
		{"10", 10 * time.Second},
		{"300", 120 * time.Second}, // capped
		{"garbage", 5 * time.Second},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.header); got != tt.want {
			t.Errorf("parseRetryAfter(%q): expected %s, got %s", tt.header, tt.want, got)
		}
	}
}
