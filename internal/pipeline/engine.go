// Package pipeline runs raw reviews through validation, the guardrail,
// classification and weekly aggregation, and stores the outcome.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/aggregator"
	"github.com/review-pulse/backend/internal/classifier"
	"github.com/review-pulse/backend/internal/guardrail"
	"github.com/review-pulse/backend/internal/ingestion"
	"github.com/review-pulse/backend/internal/metrics"
	"github.com/review-pulse/backend/internal/report"
	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/pkg/logger"
)

// Store persists completed runs.
type Store interface {
	SaveRun(ctx context.Context, run models.RunRecord, classifications []models.Classification, result *models.AggregationResult) error
}

type Engine struct {
	processor  *ingestion.Processor
	guardrail  *guardrail.Filter
	classifier *classifier.Classifier
	aggregator *aggregator.Aggregator
	store      Store
	now        func() time.Time
}

type Option func(*Engine)

// WithStore persists every successful run.
func WithStore(store Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

type RunResult struct {
	ID              string                          `json:"run_id"`
	CreatedAt       time.Time                       `json:"created_at"`
	Validation      ingestion.ValidationSummary     `json:"validation"`
	DroppedCount    int                             `json:"dropped_count"`
	Dropped         []models.Review                 `json:"-"`
	Classifications []models.Classification         `json:"-"`
	Log             []models.ClassificationLogEntry `json:"classifications"`
	Aggregation     *models.AggregationResult       `json:"aggregation"`
}

func NewEngine(processor *ingestion.Processor, filter *guardrail.Filter, cls *classifier.Classifier, agg *aggregator.Aggregator, opts ...Option) *Engine {
	e := &Engine{
		processor:  processor,
		guardrail:  filter,
		classifier: cls,
		aggregator: agg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run validates raw reviews and processes the accepted ones.
func (e *Engine) Run(ctx context.Context, raws []ingestion.RawReview) (*RunResult, error) {
	reviews, summary := e.processor.Process(raws)
	return e.run(ctx, reviews, summary)
}

func (e *Engine) run(ctx context.Context, reviews []models.Review, summary ingestion.ValidationSummary) (result *RunResult, err error) {
	start := time.Now()
	runID := uuid.New().String()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RunsTotal.WithLabelValues(status).Inc()
		metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	logger.Info("Pipeline run started",
		zap.String("run_id", runID),
		zap.Int("reviews", len(reviews)),
	)

	kept, dropped, err := e.guardrail.Filter(reviews)
	if err != nil {
		return nil, fmt.Errorf("guardrail: %w", err)
	}

	classifications := e.classifier.Classify(ctx, kept)
	// Classify degrades to fallbacks on cancellation; such a run is not
	// complete and must not be reported or stored as one.
	if err := ctx.Err(); err != nil {
		logger.Warn("Pipeline run cancelled",
			zap.String("run_id", runID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("run %s cancelled: %w", runID, err)
	}
	aggregation := e.aggregator.Aggregate(classifications, models.IndexReviews(kept))

	result = &RunResult{
		ID:              runID,
		CreatedAt:       e.now().UTC(),
		Validation:      summary,
		DroppedCount:    len(dropped),
		Dropped:         dropped,
		Classifications: classifications,
		Log:             models.NewClassificationLog(classifications),
		Aggregation:     aggregation,
	}

	if e.store != nil {
		data, err := report.Marshal(aggregation)
		if err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		record := models.RunRecord{
			ID:           runID,
			CreatedAt:    result.CreatedAt,
			InputCount:   summary.Total,
			DroppedCount: len(dropped),
			Report:       data,
		}
		if err := e.store.SaveRun(ctx, record, classifications, aggregation); err != nil {
			return nil, fmt.Errorf("failed to store run %s: %w", runID, err)
		}
	}

	logger.Info("Pipeline run completed",
		zap.String("run_id", runID),
		zap.Int("classified", len(classifications)),
		zap.Int("dropped", len(dropped)),
		zap.Int("weeks", len(aggregation.WeeklyCounts)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}
