package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/personatwin/internal/config"
)

func newTestClient(url string, retries int) *Client {
	return NewClient(config.SearchConfig{
		Endpoint:     url,
		APIKey:       "secret",
		Index:        "trends",
		ContentField: "content",
		Top:          5,
		Timeout:      time.Second,
		MaxRetries:   retries,
	})
}

func TestSearchFormatsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/indexes/trends/docs/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("api-key = %q", r.Header.Get("api-key"))
		}
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Search != "ai future" || req.Top != 5 || req.QueryType != "simple" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{
			{"content": "AI reshapes work."},
			{"content": "Demographics shift."},
		}})
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 0).Search(context.Background(), "ai future")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, part := range []string{
		`Found 2 relevant documents for query: "ai future"`,
		"[Document 1: AI reshapes work....]\nAI reshapes work.\n---\n\n",
		"[Document 2: Demographics shift....]",
	} {
		if !strings.Contains(got, part) {
			t.Fatalf("Search() = %q, missing %q", got, part)
		}
	}
}

func TestSearchZeroResultsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 0).Search(context.Background(), "xyz123")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !strings.Contains(got, `No relevant documents found for query: "xyz123"`) {
		t.Fatalf("Search() = %q, want no-results text", got)
	}
}

func TestSearchRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"value":[{"content":"ok"}]}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 1).Search(context.Background(), "q"); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Search(context.Background(), "q")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
		t.Fatalf("Search() error = %v, want 403 StatusError", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestSearchNotConfigured(t *testing.T) {
	c := NewClient(config.SearchConfig{})
	if _, err := c.Search(context.Background(), "q"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Search() error = %v, want %v", err, ErrNotConfigured)
	}
}
