// Package apperrors defines the failure classes surfaced by the query agent.
// Callers classify with errors.Is; components wrap these sentinels with context.
package apperrors

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrInvalidQuery is returned for input the validator rejected or that
	// normalizes to nothing. Not retried.
	ErrInvalidQuery = errors.New("invalid query")

	// Collaborator failures. Surfaced to the caller, never cached, safe to retry.
	ErrEmbeddingUnavailable     = errors.New("embedding unavailable")
	ErrFetchTimeout             = errors.New("fetch timeout")
	ErrFetchBlocked             = errors.New("fetch blocked")
	ErrFetchEmpty               = errors.New("fetch returned no results")
	ErrSummarizationTimeout     = errors.New("summarization timeout")
	ErrSummarizationUnavailable = errors.New("summarization unavailable")

	// ErrCorruptStore means the persisted cache could not be decoded.
	// Recovered locally by starting from an empty store.
	ErrCorruptStore = errors.New("corrupt cache store")

	// ErrDimensionMismatch means two embeddings of different length were compared.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrCanceled is published to in-flight waiters when the owning
	// computation is aborted by the engine.
	ErrCanceled = errors.New("computation canceled")
)

// Code returns a stable snake_case identifier for err, used in API responses and metrics.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, ErrFetchTimeout):
		return "fetch_timeout"
	case errors.Is(err, ErrFetchBlocked):
		return "fetch_blocked"
	case errors.Is(err, ErrFetchEmpty):
		return "fetch_empty"
	case errors.Is(err, ErrSummarizationTimeout):
		return "summarization_timeout"
	case errors.Is(err, ErrSummarizationUnavailable):
		return "summarization_unavailable"
	case errors.Is(err, ErrCorruptStore):
		return "corrupt_store"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps err to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrFetchEmpty):
		return http.StatusNotFound
	case errors.Is(err, ErrFetchTimeout),
		errors.Is(err, ErrSummarizationTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrEmbeddingUnavailable),
		errors.Is(err, ErrFetchBlocked),
		errors.Is(err, ErrSummarizationUnavailable),
		errors.Is(err, ErrCanceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Known reports whether err already carries one of the classes above.
func Known(err error) bool {
	return Code(err) != "internal_error"
}
