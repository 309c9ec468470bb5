package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"queryagent/internal/apperrors"
	"queryagent/pkg/types"
)

func TestRetrieveFiltersAndCaps(t *testing.T) {
	var got scrapeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/scrape" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		results := []types.SearchResult{{Title: "empty", URL: "https://example.com/empty"}}
		for i := 0; i < 8; i++ {
			results = append(results, types.SearchResult{
				Title:   fmt.Sprintf("r%d", i),
				URL:     fmt.Sprintf("https://example.com/%d", i),
				Snippet: "snippet",
			})
		}
		_ = json.NewEncoder(w).Encode(scrapeResponse{Query: got.Query, Results: results, TotalResults: len(results)})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"}, zaptest.NewLogger(t))
	results, err := c.Retrieve(context.Background(), "best restaurants in delhi")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.Query != "best restaurants in delhi" {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if len(results) != DefaultMaxResults {
		t.Fatalf("expected %d results, got %d", DefaultMaxResults, len(results))
	}
	if results[0].Title != "r0" {
		t.Fatalf("result without content must be dropped, first is %q", results[0].Title)
	}
}

func TestRetrieveErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "blocked",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "captcha", http.StatusForbidden)
			},
			want: apperrors.ErrFetchBlocked,
		},
		{
			name: "service failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"detail":"Scraping failed"}`, http.StatusInternalServerError)
			},
			want: apperrors.ErrFetchBlocked,
		},
		{
			name: "no results",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"query":"q","results":[],"total_results":0}`))
			},
			want: apperrors.ErrFetchEmpty,
		},
		{
			name: "no content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"query":"q","results":[{"title":"t","url":"u"}],"total_results":1}`))
			},
			want: apperrors.ErrFetchEmpty,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			want: apperrors.ErrFetchBlocked,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
			_, err := c.Retrieve(context.Background(), "q")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRetrieveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	_, err := c.Retrieve(context.Background(), "q")
	if !errors.Is(err, apperrors.ErrFetchTimeout) {
		t.Fatalf("expected ErrFetchTimeout, got %v", err)
	}
}

func TestRetrieveUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url}, zaptest.NewLogger(t))
	_, err := c.Retrieve(context.Background(), "q")
	if !errors.Is(err, apperrors.ErrFetchBlocked) {
		t.Fatalf("expected ErrFetchBlocked, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	if err := New(Config{BaseURL: srv.URL}, nil).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
