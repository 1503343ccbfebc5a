// Package bootstrap wires the pipeline from configuration. It is shared by the
// API server and the pulsectl CLI.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/aggregator"
	rediscache "github.com/review-pulse/backend/internal/cache/redis"
	"github.com/review-pulse/backend/internal/classifier"
	"github.com/review-pulse/backend/internal/guardrail"
	"github.com/review-pulse/backend/internal/ingestion"
	"github.com/review-pulse/backend/internal/llm"
	"github.com/review-pulse/backend/internal/pipeline"
	"github.com/review-pulse/backend/internal/storage/sqlite"
	"github.com/review-pulse/backend/internal/taxonomy"
	"github.com/review-pulse/backend/pkg/config"
	"github.com/review-pulse/backend/pkg/logger"
)

type Components struct {
	Taxonomy   *taxonomy.Taxonomy
	Processor  *ingestion.Processor
	Classifier *classifier.Classifier
	Engine     *pipeline.Engine
	Location   *time.Location

	// Store and Cache are nil when disabled in configuration.
	Store *sqlite.Client
	Cache *rediscache.Client
}

// LoadTaxonomy reads the taxonomy file when one is configured and falls back
// to the built-in themes otherwise.
func LoadTaxonomy(cfg config.TaxonomyConfig) (*taxonomy.Taxonomy, error) {
	tax := taxonomy.Default()
	if cfg.Path != "" {
		loaded, err := taxonomy.LoadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		tax = loaded
	}
	if cfg.DefaultTheme != "" {
		return tax.WithDefault(cfg.DefaultTheme)
	}
	return tax, nil
}

// Build connects the configured backends and assembles the pipeline. The
// caller owns the returned components and must Close them.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	tax, err := LoadTaxonomy(cfg.Taxonomy)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	logger.Info("Taxonomy loaded",
		zap.Int("themes", len(tax.IDs())),
		zap.String("default_theme", tax.DefaultTheme().ID),
	)

	loc, err := cfg.Aggregation.Location()
	if err != nil {
		return nil, err
	}
	weekStart, err := cfg.Aggregation.Weekday()
	if err != nil {
		return nil, err
	}

	remote, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	c := &Components{
		Taxonomy:  tax,
		Processor: ingestion.NewProcessor(),
		Location:  loc,
	}

	var clsOpts []classifier.Option
	if cfg.Redis.Enabled {
		cache, err := rediscache.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.Cache = cache
		clsOpts = append(clsOpts, classifier.WithCache(cache))
	}

	var engineOpts []pipeline.Option
	if cfg.SQLite.Enabled {
		store, err := openStore(cfg.SQLite.Path)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Store = store
		engineOpts = append(engineOpts, pipeline.WithStore(store))
	}

	// The LLM client applies cfg.LLM.Timeout to each completion itself, so
	// time spent waiting on its circuit breaker does not end an attempt.
	cls := classifier.New(tax, remote, classifier.Config{
		BatchSize:   cfg.Classifier.BatchSize,
		MaxRetries:  cfg.Classifier.MaxRetries,
		Concurrency: cfg.Classifier.Concurrency,
		RetryDelay:  cfg.Classifier.RetryDelay(),
	}, clsOpts...)
	c.Classifier = cls

	c.Engine = pipeline.NewEngine(
		c.Processor,
		guardrail.New(cfg.Guardrail.MinTextLength),
		cls,
		aggregator.New(tax, weekStart, loc),
		engineOpts...,
	)
	return c, nil
}

func openStore(path string) (*sqlite.Client, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := sqlite.NewClient(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (c *Components) Close() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Failed to close sqlite", zap.Error(err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
}
