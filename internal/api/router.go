// Package api wires the HTTP routes of the tracking tester.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/api/handlers"
	"github.com/testforge/trackingtester/internal/api/middleware"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/runner"
	"github.com/testforge/trackingtester/internal/services/history"
)

// timeoutSlack is added to the session timeout for the request timeout.
const timeoutSlack = 30 * time.Second

// Router holds the HTTP router and its dependencies
type Router struct {
	chi.Router
	logger *zap.Logger
}

// RouterConfig contains configuration for the router. Everything except
// Runner and Logger is optional.
type RouterConfig struct {
	Runner         runner.Runner
	History        *history.Service
	SessionTimeout time.Duration

	// Feed receives the action lines of synchronous runs.
	Feed handlers.Feed
	// Subscriber serves the live feed of a run.
	Subscriber handlers.ActionSubscriber

	Workflows handlers.WorkflowStarter
	Describer handlers.WorkflowDescriber
	TaskQueue string

	RateLimiter     middleware.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration

	Checks  map[string]handlers.CheckFunc
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Base middleware stack
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(cfg.Logger).Handler)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Handler)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.HTTPMiddleware)
	}
	r.Use(chimw.Timeout(cfg.SessionTimeout + timeoutSlack))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", handlers.RunIDHeader},
		ExposedHeaders: []string{"X-Request-ID", handlers.RunIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))

	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		r.Use(middleware.NewRateLimitMiddleware(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow, cfg.Logger).Handler)
	}

	health := handlers.NewHealthHandler(cfg.Checks)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	testHandler := handlers.NewTestHandler(cfg.Runner, cfg.History, cfg.Feed, cfg.Logger)
	runHandler := handlers.NewRunHandler(handlers.RunHandlerConfig{
		Starter:        cfg.Workflows,
		Describer:      cfg.Describer,
		TaskQueue:      cfg.TaskQueue,
		SessionTimeout: cfg.SessionTimeout,
		History:        cfg.History,
		Subscriber:     cfg.Subscriber,
		Metrics:        cfg.Metrics,
		Logger:         cfg.Logger,
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/test", testHandler.Run)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runHandler.List)
			r.Post("/", runHandler.Create)
			r.Get("/{id}", runHandler.Get)
			r.Get("/{id}/actions", runHandler.Actions)
		})
	})

	return &Router{
		Router: r,
		logger: cfg.Logger,
	}
}
