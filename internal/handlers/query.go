package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"queryagent/internal/engine"
	"queryagent/pkg/logging/logging"
	"queryagent/pkg/types"
)

// Validator screens free text before it reaches the cache.
type Validator interface {
	Classify(ctx context.Context, text string) (bool, string)
}

// Resolver answers queries from the semantic cache.
type Resolver interface {
	Resolve(ctx context.Context, rawQuery string, forceRefresh bool) (engine.Result, error)
	Check(ctx context.Context, rawQuery string) (engine.Result, bool, error)
}

// QueryHandler holds dependencies for the query endpoints.
type QueryHandler struct {
	Validator Validator
	Resolver  Resolver
}

func NewQueryHandler(v Validator, r Resolver) *QueryHandler {
	return &QueryHandler{Validator: v, Resolver: r}
}

type ValidationResponse struct {
	IsValid bool   `json:"is_valid"`
	Message string `json:"message"`
	Query   string `json:"query"`
}

type SimilarityResponse struct {
	FoundSimilar    bool    `json:"found_similar"`
	SimilarQuery    string  `json:"similar_query,omitempty"`
	SimilarityScore float64 `json:"similarity_score,omitempty"`
	CachedResult    string  `json:"cached_result,omitempty"`
}

type ProcessResponse struct {
	IsValid           bool          `json:"is_valid"`
	ValidationMessage string        `json:"validation_message"`
	FoundSimilar      bool          `json:"found_similar"`
	SimilarQuery      string        `json:"similar_query,omitempty"`
	SimilarityScore   float64       `json:"similarity_score,omitempty"`
	Result            string        `json:"result,omitempty"`
	Source            engine.Source `json:"source,omitempty"`
	Answer            *types.Answer `json:"answer,omitempty"`
	Query             string        `json:"query"`
}

// ValidateQuery handles POST /validate-query.
func (h *QueryHandler) ValidateQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	valid, msg := h.Validator.Classify(r.Context(), req.Query)
	writeJSON(w, http.StatusOK, ValidationResponse{IsValid: valid, Message: msg, Query: req.Query})
}

// CheckSimilarity handles POST /check-similarity. It never computes.
func (h *QueryHandler) CheckSimilarity(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	res, found, err := h.Resolver.Check(r.Context(), req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := SimilarityResponse{FoundSimilar: found}
	if found {
		resp.SimilarQuery = res.MatchedQuery
		resp.SimilarityScore = res.Similarity
		resp.CachedResult = res.Answer.Summary
	}
	writeJSON(w, http.StatusOK, resp)
}

// ProcessQuery handles POST /process-query: validate, then resolve through
// the cache. An invalid query never reaches the cache.
func (h *QueryHandler) ProcessQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	valid, msg := h.Validator.Classify(ctx, req.Query)
	if !valid {
		logger.Info("query rejected by validator",
			zap.String("query", req.Query),
			zap.String("reason", msg),
		)
		writeJSON(w, http.StatusOK, ProcessResponse{
			IsValid:           false,
			ValidationMessage: msg,
			Query:             req.Query,
		})
		return
	}

	res, err := h.Resolver.Resolve(ctx, req.Query, req.ForceRefresh)
	if err != nil {
		writeError(w, r, err)
		return
	}

	answer := res.Answer
	resp := ProcessResponse{
		IsValid:           true,
		ValidationMessage: msg,
		FoundSimilar:      res.Source != engine.SourceComputed,
		Result:            answer.Summary,
		Source:            res.Source,
		Answer:            &answer,
		Query:             req.Query,
	}
	if resp.FoundSimilar {
		resp.SimilarQuery = res.MatchedQuery
		resp.SimilarityScore = res.Similarity
	}

	logger.Info("query processed",
		zap.String("query", res.Query),
		zap.String("source", string(res.Source)),
		zap.Bool("force_refresh", req.ForceRefresh),
		zap.Duration("total_latency", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, resp)
}
