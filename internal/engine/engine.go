// Package engine resolves natural-language queries against the semantic
// cache, computing fresh answers through the external collaborators on a miss.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"queryagent/internal/apperrors"
	"queryagent/internal/cache"
	"queryagent/internal/inflight"
	"queryagent/internal/metrics"
	"queryagent/pkg/logging/logging"
	"queryagent/pkg/types"
)

// Embedder turns query text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Fetcher performs live retrieval for a query.
type Fetcher interface {
	Retrieve(ctx context.Context, query string) ([]types.SearchResult, error)
}

// Summarizer builds an answer from raw results.
type Summarizer interface {
	Summarize(ctx context.Context, query string, results []types.SearchResult) (types.Answer, error)
}

// Source says where a Result came from.
type Source string

const (
	SourceCacheExact   Source = "cache-exact"
	SourceCacheSimilar Source = "cache-similar"
	SourceComputed     Source = "computed"
)

// Result is the outcome of Resolve.
type Result struct {
	Query        string       `json:"query"`
	Answer       types.Answer `json:"answer"`
	Source       Source       `json:"source"`
	Similarity   float64      `json:"similarity,omitempty"`
	MatchedQuery string       `json:"matched_query,omitempty"`
}

type Config struct {
	SimilarityThreshold float64       // default: 0.75
	ComputeTimeout      time.Duration // budget for fetch+summarize (default: 2m)
	ExactTolerance      float64       // similarity >= 1-tol counts as exact (default: 1e-6)
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = cache.DefaultSimilarityThreshold
	}
	if c.ComputeTimeout <= 0 {
		c.ComputeTimeout = 2 * time.Minute
	}
	if c.ExactTolerance <= 0 {
		c.ExactTolerance = 1e-6
	}
	return c
}

// Deps are the collaborators an Engine calls.
type Deps struct {
	Store      *cache.Store
	Embedder   Embedder
	Fetcher    Fetcher
	Summarizer Summarizer
}

// Engine is the single entry point for query resolution. Safe for concurrent use.
type Engine struct {
	store      *cache.Store
	index      cache.Index
	embedder   Embedder
	fetcher    Fetcher
	summarizer Summarizer
	inflight   *inflight.Registry[Result]
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	closeMu sync.RWMutex
	closed  bool
	owners  sync.WaitGroup

	started      time.Time
	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
}

// New wires an Engine. The engine takes ownership of deps.Store.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine: store is required")
	case deps.Embedder == nil:
		return nil, errors.New("engine: embedder is required")
	case deps.Fetcher == nil:
		return nil, errors.New("engine: fetcher is required")
	case deps.Summarizer == nil:
		return nil, errors.New("engine: summarizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.withDefaults()
	baseCtx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		store:      deps.Store,
		index:      cache.NewIndex(cfg.SimilarityThreshold),
		embedder:   deps.Embedder,
		fetcher:    deps.Fetcher,
		summarizer: deps.Summarizer,
		inflight:   inflight.New[Result](),
		cfg:        cfg,
		logger:     logger.Named("engine"),
		now:        time.Now,
		baseCtx:    baseCtx,
		cancel:     cancel,
		started:    time.Now(),
	}
	metrics.CacheEntries.Set(float64(deps.Store.Len()))
	return e, nil
}

// Resolve answers rawQuery from the cache when a similar enough entry exists,
// otherwise computes it once for all concurrent callers of the same query.
// forceRefresh skips the lookup and replaces the cached entry on success.
func (e *Engine) Resolve(ctx context.Context, rawQuery string, forceRefresh bool) (Result, error) {
	query := cache.NormalizeQuery(rawQuery)
	if query == "" {
		return Result{}, fmt.Errorf("%w: empty query", apperrors.ErrInvalidQuery)
	}

	var embedding []float64
	if !forceRefresh {
		var err error
		embedding, err = e.embed(ctx, query)
		if err != nil {
			return Result{}, err
		}

		res, hit, err := e.lookup(query, embedding)
		if err != nil {
			return Result{}, err
		}
		if hit {
			e.store.Touch(res.MatchedQuery)
			e.hits.Add(1)
			if res.Source == SourceCacheExact {
				metrics.CacheLookupsTotal.WithLabelValues("hit_exact").Inc()
			} else {
				metrics.CacheLookupsTotal.WithLabelValues("hit_similar").Inc()
			}
			logging.L(ctx).Info("cache_decision",
				zap.String("query", query),
				zap.String("source", string(res.Source)),
				zap.String("matched_query", res.MatchedQuery),
				zap.Float64("similarity", res.Similarity),
			)
			return res, nil
		}
		e.misses.Add(1)
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	return e.computeShared(ctx, query, embedding, forceRefresh)
}

// Check reports the best cached match for rawQuery without computing or
// recording a hit.
func (e *Engine) Check(ctx context.Context, rawQuery string) (Result, bool, error) {
	query := cache.NormalizeQuery(rawQuery)
	if query == "" {
		return Result{}, false, fmt.Errorf("%w: empty query", apperrors.ErrInvalidQuery)
	}
	embedding, err := e.embed(ctx, query)
	if err != nil {
		return Result{}, false, err
	}
	return e.lookup(query, embedding)
}

func (e *Engine) lookup(query string, embedding []float64) (Result, bool, error) {
	snapshot := e.store.Snapshot()
	match, ok, err := e.index.Lookup(embedding, snapshot)
	if err != nil {
		return Result{}, false, fmt.Errorf("similarity lookup: %w", err)
	}
	if len(snapshot) > 0 {
		metrics.SimilarityScore.Observe(match.Similarity)
	}
	if !ok {
		return Result{Query: query}, false, nil
	}

	src := SourceCacheSimilar
	if match.Similarity >= 1-e.cfg.ExactTolerance {
		src = SourceCacheExact
	}
	return Result{
		Query:        query,
		Answer:       match.Entry.Answer,
		Source:       src,
		Similarity:   match.Similarity,
		MatchedQuery: match.Entry.QueryText,
	}, true, nil
}

// computeShared claims or joins the in-flight slot for query and waits for
// the outcome. The owner's work runs detached from ctx so a caller giving up
// does not abort a computation other callers are waiting on.
func (e *Engine) computeShared(ctx context.Context, query string, embedding []float64, forced bool) (Result, error) {
	e.closeMu.RLock()
	if e.closed {
		e.closeMu.RUnlock()
		return Result{}, fmt.Errorf("%w: engine closed", apperrors.ErrCanceled)
	}
	owner, call := e.inflight.ClaimOrJoin(query)
	if owner {
		e.owners.Add(1)
	}
	e.closeMu.RUnlock()

	logger := logging.L(ctx)
	if owner {
		metrics.InFlight.Inc()
		go e.runOwner(ctx, query, embedding, forced)
	} else {
		metrics.JoinedTotal.Inc()
		logger.Info("joined in-flight query", zap.String("query", query))
	}

	res, err := call.Wait(ctx)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) runOwner(reqCtx context.Context, query string, embedding []float64, forced bool) {
	defer e.owners.Done()
	defer metrics.InFlight.Dec()

	ctx, cancel := context.WithCancel(context.WithoutCancel(reqCtx))
	defer cancel()
	stop := context.AfterFunc(e.baseCtx, cancel)
	defer stop()
	ctx, cancelTimeout := context.WithTimeout(ctx, e.cfg.ComputeTimeout)
	defer cancelTimeout()

	start := time.Now()
	res, err := e.produce(ctx, query, embedding)
	e.computations.Add(1)
	metrics.ComputationsTotal.WithLabelValues(apperrors.Code(err)).Inc()

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("computation failed",
			zap.String("query", query),
			zap.Bool("force_refresh", forced),
			zap.String("error_code", apperrors.Code(err)),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		e.inflight.Publish(query, Result{}, err)
		return
	}

	logger.Info("cache_decision",
		zap.String("query", query),
		zap.String("source", string(SourceComputed)),
		zap.Bool("force_refresh", forced),
		zap.Duration("latency", time.Since(start)),
	)
	e.inflight.Publish(query, res, nil)
}

// produce runs embed (if needed), fetch and summarize, then inserts the entry.
func (e *Engine) produce(ctx context.Context, query string, embedding []float64) (Result, error) {
	if embedding == nil {
		var err error
		if embedding, err = e.embed(ctx, query); err != nil {
			return Result{}, e.classify(err, apperrors.ErrEmbeddingUnavailable, apperrors.ErrEmbeddingUnavailable)
		}
	}

	results, err := e.fetcher.Retrieve(ctx, query)
	if err != nil {
		return Result{}, e.classify(err, apperrors.ErrFetchBlocked, apperrors.ErrFetchTimeout)
	}
	if len(results) == 0 {
		return Result{}, fmt.Errorf("%w: %q", apperrors.ErrFetchEmpty, query)
	}

	answer, err := e.summarizer.Summarize(ctx, query, results)
	if err != nil {
		return Result{}, e.classify(err, apperrors.ErrSummarizationUnavailable, apperrors.ErrSummarizationTimeout)
	}

	now := e.now()
	entry := cache.Entry{
		QueryText:      query,
		Embedding:      embedding,
		Answer:         answer,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	// the answer is good even if it cannot be cached
	m, err := e.store.Insert(context.WithoutCancel(ctx), entry)
	if err != nil {
		logging.L(ctx).Warn("cache insert failed, answer not cached",
			zap.String("query", query),
			zap.Error(err),
		)
	} else {
		e.recordEvictions("capacity", m.Evicted)
		metrics.CacheEntries.Set(float64(e.store.Len()))
	}

	return Result{
		Query:  query,
		Answer: answer,
		Source: SourceComputed,
	}, nil
}

func (e *Engine) embed(ctx context.Context, query string) ([]float64, error) {
	v, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, e.classify(err, apperrors.ErrEmbeddingUnavailable, apperrors.ErrEmbeddingUnavailable)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", apperrors.ErrEmbeddingUnavailable)
	}
	return v, nil
}

// classify makes sure err carries a failure class. Errors already classified
// by the collaborator pass through; bare deadline errors become timeout,
// anything else becomes unavailable. Engine shutdown wins over both.
func (e *Engine) classify(err error, unavailable, timeout error) error {
	if e.baseCtx.Err() != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrCanceled, err)
	}
	switch apperrors.Code(err) {
	case "timeout":
		return fmt.Errorf("%w: %w", timeout, err)
	case "internal_error", "canceled":
		return fmt.Errorf("%w: %w", unavailable, err)
	default:
		return err
	}
}

func (e *Engine) recordEvictions(reason string, evicted []cache.Entry) {
	if len(evicted) == 0 {
		return
	}
	metrics.CacheEvictionsTotal.WithLabelValues(reason).Add(float64(len(evicted)))
	for _, ev := range evicted {
		e.logger.Info("cache entry evicted",
			zap.String("reason", reason),
			zap.String("query", ev.QueryText),
			zap.Time("created_at", ev.CreatedAt),
			zap.Int64("hit_count", ev.HitCount),
		)
	}
}

// Close aborts in-flight owners (waiters receive apperrors.ErrCanceled), waits
// for them to finish and closes the store.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	already := e.closed
	e.closed = true
	e.closeMu.Unlock()
	if already {
		return nil
	}

	e.cancel()
	e.owners.Wait()
	return e.store.Close()
}
