// Package api assembles the HTTP server.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/api/handlers"
	"github.com/review-pulse/backend/internal/metrics"
	"github.com/review-pulse/backend/internal/middleware/ratelimit"
	"github.com/review-pulse/backend/internal/middleware/security"
	"github.com/review-pulse/backend/internal/middleware/validation"
	"github.com/review-pulse/backend/internal/taxonomy"
	"github.com/review-pulse/backend/pkg/config"
	"github.com/review-pulse/backend/pkg/logger"
)

// Store is the persistence the read endpoints need.
type Store interface {
	handlers.RunStore
	handlers.ThemeHistoryStore
}

type Dependencies struct {
	Runner   handlers.Runner
	Taxonomy *taxonomy.Taxonomy
	// Store is nil when persistence is disabled.
	Store Store
	// Cache is nil when the classification cache is disabled.
	Cache        handlers.CacheInvalidator
	ReadyChecks  map[string]handlers.Pinger
	ServeMetrics bool
}

// NewApp builds the fiber app. The returned stop function releases
// middleware resources and must be called after shutdown.
func NewApp(cfg config.ServerConfig, deps Dependencies) (*fiber.App, func()) {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: !cfg.IsDevelopment,
	})

	allowOrigins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + ratelimit.ClientHeader,
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.IsDevelopment,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimitPerMin,
		Logger:               logger.GetLogger(),
	})

	health := handlers.NewHealthHandler(deps.ReadyChecks)
	app.Get("/health", health.Health)
	app.Get("/ready", health.Ready)
	if deps.ServeMetrics {
		app.Get("/metrics", metrics.MetricsHandler())
	}

	var store handlers.RunStore
	var history handlers.ThemeHistoryStore
	if deps.Store != nil {
		store, history = deps.Store, deps.Store
	}
	runs := handlers.NewRunsHandler(deps.Runner, store)
	themes := handlers.NewThemesHandler(deps.Taxonomy, history)

	api := app.Group("/api/v1")

	api.Post("/runs",
		limiter.Middleware(),
		validation.RunRequestMiddleware(validation.Config{
			MaxReviews: cfg.MaxReviewsPerRun,
			Logger:     logger.GetLogger(),
		}),
		runs.CreateRun,
	)
	api.Get("/runs", runs.ListRuns)
	api.Get("/runs/:id/report", runs.GetReport)
	api.Get("/runs/:id/classifications", runs.ListClassifications)

	api.Get("/themes", themes.ListThemes)
	api.Get("/themes/:id/history", themes.ThemeHistory)

	if deps.Cache != nil {
		api.Delete("/cache", handlers.NewCacheHandler(deps.Cache).Invalidate)
	}

	logger.Info("HTTP routes registered",
		zap.Bool("storage", deps.Store != nil),
		zap.Bool("cache", deps.Cache != nil),
		zap.Bool("metrics", deps.ServeMetrics),
	)

	return app, limiter.Stop
}
