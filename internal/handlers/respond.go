package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"queryagent/internal/apperrors"
	"queryagent/pkg/logging/logging"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type queryRequest struct {
	Query        string `json:"query"`
	ForceRefresh bool   `json:"force_refresh"`
}

// writeJSON sends v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status and stable code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.Code(err)

	logger := logging.L(r.Context())
	if status >= 500 {
		logger.Error("request failed", zap.String("error_code", code), zap.Error(err))
	} else {
		logger.Info("request rejected", zap.String("error_code", code), zap.Error(err))
	}

	writeJSON(w, status, ErrorResponse{Error: code, Message: err.Error()})
}

func badRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: code, Message: msg})
}

// decodeQuery reads a {"query": ...} body. It writes the error response
// itself and returns false on failure.
func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "body_too_large",
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return req, false
		}
		logging.L(r.Context()).Warn("invalid request", zap.Error(err))
		badRequest(w, "invalid_json", "request body must be JSON like {\"query\": \"...\"}")
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(w, apperrors.Code(apperrors.ErrInvalidQuery), "query is required")
		return req, false
	}
	return req, true
}
