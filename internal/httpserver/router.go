package httpserver

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"queryagent/internal/handlers"
	"queryagent/internal/metrics"
	"queryagent/internal/middleware"
)

// Options tune the middleware stack.
type Options struct {
	RequestTimeout time.Duration // default: 120s
	MaxBodyBytes   int64         // default: 64KB
}

// Handlers groups everything the router serves.
type Handlers struct {
	Query  *handlers.QueryHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 * 1024
	}

	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/validate-query", h.Query.ValidateQuery)
		r.Post("/check-similarity", h.Query.CheckSimilarity)
		r.Post("/process-query", h.Query.ProcessQuery)

		r.Get("/cache-stats", h.Admin.CacheStats)
		r.Delete("/clear-cache", h.Admin.ClearCache)
		r.Post("/cleanup-cache", h.Admin.CleanupCache)
		r.Post("/evict-stale", h.Admin.EvictStale)
	})

	r.Get("/health", h.Health.Health)
	r.Get("/healthz", h.Health.Ready)

	r.Handle("/metrics", metrics.Handler())
}
