// Package summarizer turns raw search results into a structured answer with
// a chat model.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"queryagent/internal/apperrors"
	"queryagent/pkg/logging/logging"
	"queryagent/pkg/types"
)

// Completer is the chat model the summarizer prompts.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Config struct {
	Timeout    time.Duration // model budget per answer (default: 25s)
	MaxResults int           // results included in the prompt (default: 5)
}

type Summarizer struct {
	llm    Completer
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(llm Completer, cfg Config, logger *zap.Logger) *Summarizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{llm: llm, cfg: cfg, logger: logger.Named("summarizer"), now: time.Now}
}

// Summarize builds an answer for query from results. It fails with
// apperrors.ErrSummarizationTimeout when the model exceeds its budget and
// apperrors.ErrSummarizationUnavailable for any other model failure.
func (s *Summarizer) Summarize(ctx context.Context, query string, results []types.SearchResult) (types.Answer, error) {
	if len(results) == 0 {
		return types.Answer{}, fmt.Errorf("%w: nothing to summarize for %q", apperrors.ErrFetchEmpty, query)
	}

	kind := Classify(query)
	prompt := buildPrompt(query, kind, results, s.cfg.MaxResults)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, err := s.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return types.Answer{}, fmt.Errorf("%w: %w", apperrors.ErrSummarizationTimeout, err)
		}
		return types.Answer{}, fmt.Errorf("%w: %w", apperrors.ErrSummarizationUnavailable, err)
	}

	logging.L(ctx).Info("answer summarized",
		zap.String("query", query),
		zap.String("kind", string(kind)),
		zap.Int("prompt_chars", len(prompt)),
		zap.Duration("latency", time.Since(start)),
	)

	return types.Answer{
		Query:       query,
		Kind:        string(kind),
		Summary:     text,
		Sources:     sources(results, s.cfg.MaxResults),
		GeneratedAt: s.now().UTC(),
	}, nil
}

func sources(results []types.SearchResult, limit int) []types.Source {
	out := make([]types.Source, 0, min(len(results), limit))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if len(out) == limit {
			break
		}
		if r.URL == "" {
			continue
		}
		if _, dup := seen[r.URL]; dup {
			continue
		}
		seen[r.URL] = struct{}{}
		out = append(out, types.Source{Title: r.Title, URL: r.URL})
	}
	return out
}
