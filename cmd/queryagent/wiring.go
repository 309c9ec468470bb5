package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"queryagent/internal/apperrors"
	"queryagent/internal/cache"
	"queryagent/internal/config"
	"queryagent/pkg/logging/logging"
)

// openedStore bundles a loaded store with the resources behind it.
type openedStore struct {
	store     *cache.Store
	persister cache.Persister
	redis     *redis.Client
	closers   []func() error
}

// closeResources releases the persister and redis client. The store itself
// is closed by its owner first.
func (o *openedStore) closeResources() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i]())
	}
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	logging.SetDefault(logger)
	return logger, nil
}

// openStore connects the configured backend and loads the cache from it. A
// corrupt medium is logged and replaced by an empty store. Offline stores
// run without the background flusher.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, offline bool) (*openedStore, error) {
	o := &openedStore{}

	if cfg.Cache.Backend == "redis" {
		o.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		o.closers = append(o.closers, o.redis.Close)

		// fail fast if Redis is misconfigured
		if err := o.redis.Ping(ctx).Err(); err != nil {
			_ = o.closeResources()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	}

	p, err := cache.NewPersister(cache.Config{
		Backend: cfg.Cache.Backend,
		Path:    cfg.Cache.Path,
		Prefix:  cfg.Cache.Prefix,
	}, o.redis)
	if err != nil {
		_ = o.closeResources()
		return nil, err
	}
	if c, ok := p.(interface{ Close() error }); ok {
		o.closers = append(o.closers, c.Close)
	}

	opts := cache.Options{
		MaxEntries:    cfg.Cache.MaxEntries,
		FlushInterval: cfg.Cache.FlushInterval,
		Logger:        logger.Named("cache"),
	}
	if offline {
		opts.FlushInterval = -1
	}

	store, err := cache.LoadOrEmpty(logging.WithLogger(ctx, logger), cache.NewLoggingPersister(p), opts)
	switch {
	case err == nil:
	case store != nil && errors.Is(err, apperrors.ErrCorruptStore):
		logger.Warn("cache store was corrupt, starting empty", zap.Error(err))
	default:
		_ = o.closeResources()
		return nil, fmt.Errorf("load cache: %w", err)
	}
	o.store = store
	o.persister = p

	logger.Info("cache loaded",
		zap.String("backend", store.Backend()),
		zap.Int("entries", store.Len()),
		zap.Int("max_entries", store.MaxEntries()),
	)
	return o, nil
}
