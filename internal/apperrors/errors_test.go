package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeAndStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		code   string
		status int
	}{
		{nil, "ok", http.StatusOK},
		{fmt.Errorf("validator: %w", ErrInvalidQuery), "invalid_query", http.StatusBadRequest},
		{fmt.Errorf("embed: %w", ErrEmbeddingUnavailable), "embedding_unavailable", http.StatusServiceUnavailable},
		{ErrFetchTimeout, "fetch_timeout", http.StatusGatewayTimeout},
		{ErrFetchBlocked, "fetch_blocked", http.StatusServiceUnavailable},
		{ErrFetchEmpty, "fetch_empty", http.StatusNotFound},
		{ErrSummarizationTimeout, "summarization_timeout", http.StatusGatewayTimeout},
		{ErrSummarizationUnavailable, "summarization_unavailable", http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", ErrCanceled, context.Canceled), "canceled", http.StatusServiceUnavailable},
		{ErrDimensionMismatch, "dimension_mismatch", http.StatusInternalServerError},
		{errors.New("boom"), "internal_error", http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := Code(tc.err); got != tc.code {
			t.Fatalf("Code(%v) = %q, want %q", tc.err, got, tc.code)
		}
		if got := HTTPStatus(tc.err); got != tc.status {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}

	if Known(errors.New("boom")) {
		t.Fatalf("plain error must not be known")
	}
	if !Known(fmt.Errorf("x: %w", ErrFetchBlocked)) {
		t.Fatalf("wrapped sentinel must be known")
	}
}
