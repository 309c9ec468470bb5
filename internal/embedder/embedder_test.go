package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"queryagent/internal/apperrors"
)

type embeddingRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

func embeddingServer(t *testing.T, vector func(input string) []float64, hits *atomic.Int32, gate <-chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		if gate != nil {
			<-gate
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]any{{
				"object":    "embedding",
				"index":     0,
				"embedding": vector(req.Input),
			}},
			"usage": map[string]any{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, dims int) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:    srv.URL + "/v1/",
		APIKey:     "test-key",
		Dimensions: dims,
		MaxRetries: -1,
		Timeout:    2 * time.Second,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestEmbedReturnsVector(t *testing.T) {
	var got embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25,0.125]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	v, err := c.Embed(context.Background(), "weather in delhi")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 3 || v[0] != 0.5 || v[2] != 0.125 {
		t.Fatalf("unexpected vector: %v", v)
	}
	if got.Input != "weather in delhi" || got.Dimensions != 3 || got.Model != "text-embedding-3-small" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestEmbedEnforcesDimensions(t *testing.T) {
	srv := embeddingServer(t, func(input string) []float64 {
		if input == "short" {
			return []float64{1, 2}
		}
		return []float64{1, 2, 3}
	}, nil, nil)

	c := newTestClient(t, srv, 0)
	if _, err := c.Embed(context.Background(), "first"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if c.Dimensions() != 3 {
		t.Fatalf("expected dimension fixed at 3, got %d", c.Dimensions())
	}

	_, err := c.Embed(context.Background(), "short")
	if !errors.Is(err, apperrors.ErrEmbeddingUnavailable) || !errors.Is(err, apperrors.ErrDimensionMismatch) {
		t.Fatalf("expected dimension failure, got %v", err)
	}
}

func TestEmbedProviderErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	_, err := c.Embed(context.Background(), "weather in delhi")
	if !errors.Is(err, apperrors.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestEmbedCoalescesIdenticalText(t *testing.T) {
	var hits atomic.Int32
	gate := make(chan struct{})
	srv := embeddingServer(t, func(string) []float64 { return []float64{1, 0} }, &hits, gate)
	c := newTestClient(t, srv, 2)

	const callers = 6
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.Embed(context.Background(), "same text")
		errs <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first request never reached the server")
		}
		time.Sleep(time.Millisecond)
	}

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "same text")
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream request, got %d", hits.Load())
	}
}

func TestEmbedCallerCancelDoesNotAbortShared(t *testing.T) {
	gate := make(chan struct{})
	var hits atomic.Int32
	srv := embeddingServer(t, func(string) []float64 { return []float64{1, 0} }, &hits, gate)
	c := newTestClient(t, srv, 2)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Embed(ctx, "same text")
		errCh <- err
	}()
	for hits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	resCh := make(chan error, 1)
	go func() {
		_, err := c.Embed(context.Background(), "same text")
		resCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled caller: expected context.Canceled, got %v", err)
	}

	close(gate)
	if err := <-resCh; err != nil {
		t.Fatalf("second caller must still get the vector: %v", err)
	}
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	srv := embeddingServer(t, func(string) []float64 { return []float64{1} }, nil, nil)
	c := newTestClient(t, srv, 1)
	if _, err := c.Embed(context.Background(), ""); !errors.Is(err, apperrors.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected missing BaseURL error")
	}
}
