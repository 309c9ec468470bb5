package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"queryagent/internal/metrics"
	"queryagent/pkg/logging/logging"
)

var errNoQuarantine = errors.New("persister does not support quarantine")

// LoggingPersister wraps a Persister with logging + metrics.
type LoggingPersister struct {
	inner Persister
}

// NewLoggingPersister returns a persister that logs and records metrics.
func NewLoggingPersister(inner Persister) *LoggingPersister {
	return &LoggingPersister{inner: inner}
}

func (p *LoggingPersister) Backend() string { return p.inner.Backend() }

// Unwrap returns the decorated persister.
func (p *LoggingPersister) Unwrap() Persister { return p.inner }

func (p *LoggingPersister) Load(ctx context.Context) ([]Entry, error) {
	start := time.Now()
	entries, err := p.inner.Load(ctx)
	elapsed := time.Since(start)
	metrics.PersistSeconds.WithLabelValues(p.Backend(), "load").Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("backend", p.Backend()),
		zap.Int("entries", len(entries)),
		zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_load", append(fields, zap.Error(err))...)
	} else {
		logger.Info("cache_load", fields...)
	}
	return entries, err
}

func (p *LoggingPersister) Save(ctx context.Context, entries []Entry) error {
	start := time.Now()
	err := p.inner.Save(ctx, entries)
	elapsed := time.Since(start)
	metrics.PersistSeconds.WithLabelValues(p.Backend(), "save").Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("backend", p.Backend()),
		zap.Int("entries", len(entries)),
		zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_save", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_save", fields...)
	}
	return err
}

// Quarantine forwards to the inner persister when it supports it.
func (p *LoggingPersister) Quarantine(ctx context.Context) (string, error) {
	q, ok := p.inner.(interface {
		Quarantine(ctx context.Context) (string, error)
	})
	if !ok {
		return "", errNoQuarantine
	}
	dst, err := q.Quarantine(ctx)
	if err == nil {
		logging.L(ctx).Warn("corrupt cache quarantined",
			zap.String("backend", p.Backend()),
			zap.String("moved_to", dst),
		)
	}
	return dst, err
}
