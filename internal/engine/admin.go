package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"queryagent/internal/metrics"
)

// Stats is a point-in-time view of the cache.
type Stats struct {
	EntryCount          int           `json:"entry_count"`
	OldestEntryAge      time.Duration `json:"-"`
	OldestEntryAgeSec   float64       `json:"oldest_entry_age_seconds"`
	HitRateSinceStart   float64       `json:"hit_rate_since_start"`
	Hits                int64         `json:"hits"`
	Misses              int64         `json:"misses"`
	Computations        int64         `json:"computations"`
	InFlight            int           `json:"in_flight"`
	SimilarityThreshold float64       `json:"similarity_threshold"`
	MaxEntries          int           `json:"max_entries"`
	Dimension           int           `json:"dimension"`
	Backend             string        `json:"backend"`
	UptimeSec           float64       `json:"uptime_seconds"`
}

// Stats reports cache size, age and hit rate since the engine started.
func (e *Engine) Stats() Stats {
	now := e.now()
	hits, misses := e.hits.Load(), e.misses.Load()

	s := Stats{
		EntryCount:          e.store.Len(),
		Hits:                hits,
		Misses:              misses,
		Computations:        e.computations.Load(),
		InFlight:            e.inflight.Len(),
		SimilarityThreshold: e.index.Threshold,
		MaxEntries:          e.store.MaxEntries(),
		Dimension:           e.store.Dimension(),
		Backend:             e.store.Backend(),
		UptimeSec:           now.Sub(e.started).Seconds(),
	}
	if total := hits + misses; total > 0 {
		s.HitRateSinceStart = float64(hits) / float64(total)
	}
	if oldest, ok := e.store.Oldest(); ok {
		s.OldestEntryAge = now.Sub(oldest)
		s.OldestEntryAgeSec = s.OldestEntryAge.Seconds()
	}
	return s
}

// ClearAll removes every cached entry.
func (e *Engine) ClearAll(ctx context.Context) (int, error) {
	n, err := e.store.Clear(ctx)
	if err != nil {
		return 0, err
	}
	metrics.CacheEvictionsTotal.WithLabelValues("clear").Add(float64(n))
	metrics.CacheEntries.Set(0)
	e.logger.Info("cache cleared", zap.Int("removed", n))
	return n, nil
}

// EvictStale removes entries created more than maxAge ago.
func (e *Engine) EvictStale(ctx context.Context, maxAge time.Duration) (int, error) {
	removed, err := e.store.EvictStale(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	e.recordEvictions("stale", removed)
	metrics.CacheEntries.Set(float64(e.store.Len()))
	return len(removed), nil
}

// Trim keeps at most keep entries, evicting oldest first.
func (e *Engine) Trim(ctx context.Context, keep int) (int, error) {
	removed, err := e.store.Trim(ctx, keep)
	if err != nil {
		return 0, err
	}
	e.recordEvictions("trim", removed)
	metrics.CacheEntries.Set(float64(e.store.Len()))
	return len(removed), nil
}
