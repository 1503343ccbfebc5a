package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/api"
	"github.com/review-pulse/backend/internal/api/handlers"
	"github.com/review-pulse/backend/internal/bootstrap"
	"github.com/review-pulse/backend/internal/metrics"
	"github.com/review-pulse/backend/internal/scheduler"
	"github.com/review-pulse/backend/pkg/config"
	appLogger "github.com/review-pulse/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Review Pulse API Server",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
	)

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	components, err := bootstrap.Build(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer components.Close()

	deps := api.Dependencies{
		Runner:       components.Engine,
		Taxonomy:     components.Taxonomy,
		ReadyChecks:  map[string]handlers.Pinger{},
		ServeMetrics: cfg.Metrics.Enabled,
	}
	if components.Store != nil {
		deps.Store = components.Store
		deps.ReadyChecks["sqlite"] = components.Store
	}
	if components.Cache != nil {
		deps.Cache = components.Cache
		deps.ReadyChecks["redis"] = components.Cache
	}

	app, stopMiddleware := api.NewApp(cfg.Server, deps)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(scheduler.Config{
			Spec:       cfg.Scheduler.Cron,
			InputDir:   cfg.Scheduler.InputDir,
			ReportDir:  cfg.Scheduler.ReportDir,
			Location:   components.Location,
			RunTimeout: time.Hour,
		}, components.Processor, components.Engine)
		if err != nil {
			appLogger.Fatal("Failed to create scheduler", zap.Error(err))
		}
		sched.Start()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(ctx); err != nil {
			appLogger.Warn("Scheduled run did not stop in time", zap.Error(err))
		}
	}
	if err := app.ShutdownWithContext(ctx); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	stopMiddleware()

	appLogger.Info("Server stopped")
}
