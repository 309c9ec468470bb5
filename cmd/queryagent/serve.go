package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"queryagent/internal/config"
	"queryagent/internal/embedder"
	"queryagent/internal/engine"
	"queryagent/internal/handlers"
	"queryagent/internal/httpserver"
	"queryagent/internal/llm"
	"queryagent/internal/metrics"
	"queryagent/internal/scraper"
	"queryagent/internal/summarizer"
	"queryagent/internal/validator"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// ----- Logger -----
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("max_entries", cfg.Cache.MaxEntries),
		zap.Float64("similarity_threshold", cfg.Cache.SimilarityThreshold),
		zap.String("llm_base_url", cfg.LLM.BaseURL),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("scraper_url", cfg.Scraper.BaseURL),
	)

	// ----- Cache -----
	opened, err := openStore(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := opened.closeResources(); err != nil {
			logger.Warn("close cache backend", zap.Error(err))
		}
	}()

	// ----- Collaborators -----
	llmClient, err := llm.NewClient(llm.Config{
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		APIKey:          cfg.LLM.APIKey,
		UpstreamTimeout: cfg.LLM.Timeout,
		MaxRetries:      cfg.LLM.MaxRetries,
	}, logger)
	if err != nil {
		_ = opened.store.Close()
		return err
	}
	defer func() { _ = llmClient.Close() }()

	emb, err := embedder.New(embedder.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	}, logger)
	if err != nil {
		_ = opened.store.Close()
		return err
	}

	scr := scraper.New(scraper.Config{
		BaseURL:    cfg.Scraper.BaseURL,
		Timeout:    cfg.Scraper.Timeout,
		MaxResults: cfg.Scraper.MaxResults,
	}, logger)

	sum := summarizer.New(llmClient, summarizer.Config{
		Timeout:    cfg.LLM.SummarizeTimeout,
		MaxResults: cfg.Scraper.MaxResults,
	}, logger)

	val := validator.New(llmClient, validator.Config{
		Timeout: cfg.LLM.ValidateTimeout,
	}, logger)

	// ----- Engine -----
	eng, err := engine.New(engine.Deps{
		Store:      opened.store,
		Embedder:   emb,
		Fetcher:    scr,
		Summarizer: sum,
	}, engine.Config{
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		ComputeTimeout:      cfg.Cache.ComputeTimeout,
	}, logger)
	if err != nil {
		_ = opened.store.Close()
		return err
	}

	// ----- Router + middleware -----
	health := &handlers.HealthHandler{
		Service: "Web Browser Query Agent",
		Checks:  []handlers.Check{{Name: "scraper", Probe: scr.Health}},
	}
	if opened.redis != nil {
		health.Checks = append(health.Checks, handlers.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return opened.redis.Ping(ctx).Err() },
		})
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Handlers{
		Query:  handlers.NewQueryHandler(val, eng),
		Admin:  handlers.NewAdminHandler(eng),
		Health: health,
	}, httpserver.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting query agent", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	})

	// ----- Graceful shutdown -----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		// aborts computations still running for clients that went away
		if err := eng.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine close: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("query agent stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}
