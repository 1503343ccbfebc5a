package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/review-pulse/backend/internal/aggregator"
	"github.com/review-pulse/backend/internal/classifier"
	"github.com/review-pulse/backend/internal/guardrail"
	"github.com/review-pulse/backend/internal/ingestion"
	"github.com/review-pulse/backend/internal/llm"
	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/internal/taxonomy"
)

type recordingStore struct {
	run             models.RunRecord
	classifications []models.Classification
	result          *models.AggregationResult
	err             error
}

func (s *recordingStore) SaveRun(_ context.Context, run models.RunRecord, cls []models.Classification, result *models.AggregationResult) error {
	s.run, s.classifications, s.result = run, cls, result
	return s.err
}

func newEngine(opts ...Option) *Engine {
	tax := taxonomy.Default()
	cfg := classifier.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	return NewEngine(
		ingestion.NewProcessor(),
		guardrail.New(10),
		classifier.New(tax, llm.NewStub(), cfg),
		aggregator.New(tax, time.Monday, time.UTC),
		opts...,
	)
}

func rawWeek() []ingestion.RawReview {
	return []ingestion.RawReview{
		{ReviewID: "1", Text: "App crashes every time I log in", Rating: 1, Date: "2024-03-04T09:00:00Z"},
		{ReviewID: "2", Text: "Order stuck in pending for hours", Rating: 1, Date: "2024-03-05T09:00:00Z"},
		{ReviewID: "3", Text: "Found a bug in the watchlist", Rating: 2, Date: "2024-03-06T09:00:00Z"},
		{ReviewID: "4", Text: "Love the new layout and colours", Rating: 5, Date: "2024-03-08T09:00:00Z"},
		{ReviewID: "5", Text: "meh", Rating: 3, Date: "2024-03-08T09:00:00Z"},
		{ReviewID: "", Text: "missing id is rejected", Rating: 3, Date: "2024-03-08T09:00:00Z"},
	}
}

func TestRunEndToEnd(t *testing.T) {
	store := &recordingStore{}
	created := time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC)
	e := newEngine(WithStore(store), WithClock(func() time.Time { return created }))

	result, err := e.Run(context.Background(), rawWeek())
	require.NoError(t, err)

	assert.Equal(t, ingestion.ValidationSummary{Total: 6, Accepted: 5, Rejected: 1}, result.Validation)
	assert.Equal(t, 1, result.DroppedCount)
	require.Len(t, result.Log, 4)

	agg := result.Aggregation
	require.Len(t, agg.WeeklyCounts, 1)
	assert.Equal(t, map[string]int{"glitches": 3, "ui_ux": 1}, agg.WeeklyCounts[0].ThemeCounts)
	assert.Equal(t, 4, agg.WeeklyCounts[0].TotalReviews)
	assert.Equal(t, map[string]int{"glitches": 3, "ui_ux": 1}, agg.OverallCounts)
	assert.Equal(t, []models.ThemeCount{{ThemeID: "glitches", Count: 3}, {ThemeID: "ui_ux", Count: 1}}, agg.TopThemes)

	assert.Equal(t, result.ID, store.run.ID)
	assert.Equal(t, created, store.run.CreatedAt)
	assert.Equal(t, 6, store.run.InputCount)
	assert.Len(t, store.classifications, 4)

	var stored models.AggregationResult
	require.NoError(t, json.Unmarshal(store.run.Report, &stored))
	assert.Equal(t, agg.OverallCounts, stored.OverallCounts)
}

func TestRunStoreFailure(t *testing.T) {
	e := newEngine(WithStore(&recordingStore{err: errors.New("disk full")}))

	_, err := e.Run(context.Background(), rawWeek())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunGuardrailRejectsMissingID(t *testing.T) {
	e := newEngine()

	summary := ingestion.ValidationSummary{Total: 1, Accepted: 1}
	_, err := e.run(context.Background(), []models.Review{{ID: "", Text: "long enough text"}}, summary)
	require.ErrorIs(t, err, guardrail.ErrMissingReviewID)
}

func TestRunCancelledIsNotStored(t *testing.T) {
	store := &recordingStore{}
	e := newEngine(WithStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.Run(ctx, rawWeek())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.Empty(t, store.run.ID)
	assert.Nil(t, store.classifications)
	assert.Nil(t, store.result)
}

func TestRunEmptyInput(t *testing.T) {
	result, err := newEngine().Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Log)
	assert.Empty(t, result.Aggregation.WeeklyCounts)
	assert.NotEmpty(t, result.ID)
}
