package evaluation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/review-pulse/backend/internal/classifier"
	"github.com/review-pulse/backend/internal/llm"
	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/internal/taxonomy"
)

type fixedClassifier map[string]models.Classification

func (f fixedClassifier) Classify(_ context.Context, reviews []models.Review) []models.Classification {
	out := make([]models.Classification, len(reviews))
	for i, r := range reviews {
		out[i] = f[r.ID]
	}
	return out
}

func dataset() *Dataset {
	return &Dataset{Items: []LabeledReview{
		{ReviewID: "1", Text: "App keeps crashing", ExpectedTheme: "glitches"},
		{ReviewID: "2", Text: "Brokerage fee too high", ExpectedTheme: "fees_financial_concerns"},
		{ReviewID: "3", Text: "Support never replies", ExpectedTheme: "customer_support"},
		{ReviewID: "4", Text: "Hmm whatever", ExpectedTheme: "Slow"},
	}}
}

func TestRunScoresPredictions(t *testing.T) {
	cls := fixedClassifier{
		"1": {ReviewID: "1", ThemeID: "glitches", Provenance: models.ProvenanceRemote},
		"2": {ReviewID: "2", ThemeID: "fees_financial_concerns", Provenance: models.ProvenanceFuzzyRepaired},
		"3": {ReviewID: "3", ThemeID: "glitches", Provenance: models.ProvenanceRemote},
		"4": {ReviewID: "4", ThemeID: "ui_ux", Provenance: models.ProvenanceInvalidLabelFallback},
	}

	report, err := NewEvaluator(cls, taxonomy.Default()).Run(context.Background(), dataset())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Correct)
	assert.InDelta(t, 0.5, report.Accuracy, 1e-9)
	assert.Equal(t, 1, report.FallbackCount)
	assert.InDelta(t, 25.0, report.FallbackPercentage, 1e-9)

	require.Len(t, report.Themes, 6)
	glitches := report.Themes[0]
	assert.Equal(t, "glitches", glitches.ThemeID)
	assert.Equal(t, 1, glitches.Support)
	assert.Equal(t, 2, glitches.Predicted)
	assert.InDelta(t, 0.5, glitches.Precision, 1e-9)
	assert.InDelta(t, 1.0, glitches.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, glitches.F1, 1e-9)

	assert.Equal(t, []Miss{
		{ReviewID: "3", Expected: "customer_support", Got: "glitches", Provenance: models.ProvenanceRemote},
		{ReviewID: "4", Expected: "slow", Got: "ui_ux", Provenance: models.ProvenanceInvalidLabelFallback},
	}, report.Misses)

	text := GenerateReport(report)
	assert.Contains(t, text, "Accuracy: 50.0%")
	assert.Contains(t, text, "Misclassified: 2")
}

func TestRunWithStubClassifier(t *testing.T) {
	tax := taxonomy.Default()
	cfg := classifier.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	ev := NewEvaluator(classifier.New(tax, llm.NewStub(), cfg), tax)

	report, err := ev.Run(context.Background(), &Dataset{Items: []LabeledReview{
		{ReviewID: "1", Text: "App keeps crashing", ExpectedTheme: "glitches"},
		{ReviewID: "2", Text: "Support never replies", ExpectedTheme: "customer_support"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Correct)
	assert.Empty(t, report.Misses)
}

func TestRunRejectsBadInput(t *testing.T) {
	ev := NewEvaluator(fixedClassifier{}, taxonomy.Default())

	_, err := ev.Run(context.Background(), &Dataset{})
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = ev.Run(context.Background(), &Dataset{Items: []LabeledReview{
		{ReviewID: "1", Text: "text", ExpectedTheme: "weather"},
	}})
	assert.ErrorContains(t, err, "weather")
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()

	arrayPath := filepath.Join(dir, "array.json")
	require.NoError(t, os.WriteFile(arrayPath, []byte(`[{"review_id":"1","text":"x","expected_theme":"slow"}]`), 0o644))
	ds, err := LoadDataset(arrayPath)
	require.NoError(t, err)
	require.Len(t, ds.Items, 1)
	assert.Equal(t, "slow", ds.Items[0].ExpectedTheme)

	objectPath := filepath.Join(dir, "object.json")
	require.NoError(t, os.WriteFile(objectPath, []byte(` {"items":[{"review_id":"1","text":"x","expected_theme":"ui_ux"},{"review_id":"2","text":"y","expected_theme":"slow"}]}`), 0o644))
	ds, err = LoadDataset(objectPath)
	require.NoError(t, err)
	assert.Len(t, ds.Items, 2)

	_, err = LoadDataset(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
