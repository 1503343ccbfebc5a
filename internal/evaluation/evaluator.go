// Package evaluation measures classifier accuracy against a hand-labeled set
// of reviews.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/ingestion"
	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/internal/taxonomy"
	"github.com/review-pulse/backend/pkg/logger"
)

var ErrEmptyDataset = errors.New("evaluation dataset is empty")

type Classifier interface {
	Classify(ctx context.Context, reviews []models.Review) []models.Classification
}

type LabeledReview struct {
	ReviewID      string `json:"review_id"`
	Title         string `json:"title,omitempty"`
	Text          string `json:"text"`
	ExpectedTheme string `json:"expected_theme"`
}

type Dataset struct {
	Items []LabeledReview `json:"items"`
}

type ThemeScore struct {
	ThemeID   string  `json:"theme_id"`
	Support   int     `json:"support"`
	Predicted int     `json:"predicted"`
	Correct   int     `json:"correct"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

type Miss struct {
	ReviewID   string            `json:"review_id"`
	Expected   string            `json:"expected"`
	Got        string            `json:"got"`
	Provenance models.Provenance `json:"provenance"`
}

type Report struct {
	Total              int          `json:"total"`
	Correct            int          `json:"correct"`
	Accuracy           float64      `json:"accuracy"`
	FallbackCount      int          `json:"fallback_count"`
	FallbackPercentage float64      `json:"fallback_percentage"`
	Themes             []ThemeScore `json:"themes"`
	Misses             []Miss       `json:"misses"`
}

type Evaluator struct {
	classifier Classifier
	taxonomy   *taxonomy.Taxonomy
}

func NewEvaluator(cls Classifier, tax *taxonomy.Taxonomy) *Evaluator {
	return &Evaluator{
		classifier: cls,
		taxonomy:   tax,
	}
}

// LoadDataset reads a labeled dataset. Both a bare array of items and an
// object with an "items" array are accepted.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var dataset Dataset
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &dataset.Items)
	} else {
		err = json.Unmarshal(data, &dataset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}

	return &dataset, nil
}

// Run classifies every labeled review and scores the predictions. Expected
// themes must exist in the taxonomy.
func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) (*Report, error) {
	if dataset == nil || len(dataset.Items) == 0 {
		return nil, ErrEmptyDataset
	}

	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	reviews := make([]models.Review, len(dataset.Items))
	expected := make([]string, len(dataset.Items))
	for i, item := range dataset.Items {
		theme, ok := e.taxonomy.Lookup(item.ExpectedTheme)
		if !ok {
			return nil, fmt.Errorf("item %d (%s): unknown expected theme %q", i, item.ReviewID, item.ExpectedTheme)
		}
		expected[i] = theme.ID
		id := item.ReviewID
		if id == "" {
			id = fmt.Sprintf("eval_%d", i)
		}
		reviews[i] = models.Review{
			ID:    id,
			Title: ingestion.CleanText(item.Title),
			Text:  ingestion.CleanText(item.Text),
		}
	}

	classifications := e.classifier.Classify(ctx, reviews)
	if len(classifications) != len(reviews) {
		return nil, fmt.Errorf("classifier returned %d results for %d reviews", len(classifications), len(reviews))
	}

	report := &Report{Total: len(reviews), Misses: []Miss{}}
	support := map[string]int{}
	predicted := map[string]int{}
	correct := map[string]int{}

	for i, cl := range classifications {
		want := expected[i]
		support[want]++
		predicted[cl.ThemeID]++
		if cl.Provenance.IsFallback() {
			report.FallbackCount++
		}
		if cl.ThemeID == want {
			report.Correct++
			correct[want]++
			continue
		}
		report.Misses = append(report.Misses, Miss{
			ReviewID:   cl.ReviewID,
			Expected:   want,
			Got:        cl.ThemeID,
			Provenance: cl.Provenance,
		})
	}

	report.Accuracy = ratio(report.Correct, report.Total)
	report.FallbackPercentage = ratio(report.FallbackCount, report.Total) * 100

	for _, id := range e.taxonomy.IDs() {
		score := ThemeScore{
			ThemeID:   id,
			Support:   support[id],
			Predicted: predicted[id],
			Correct:   correct[id],
			Precision: ratio(correct[id], predicted[id]),
			Recall:    ratio(correct[id], support[id]),
		}
		if score.Precision+score.Recall > 0 {
			score.F1 = 2 * score.Precision * score.Recall / (score.Precision + score.Recall)
		}
		report.Themes = append(report.Themes, score)
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.Total),
		zap.Int("correct", report.Correct),
		zap.Float64("accuracy", report.Accuracy),
		zap.Int("fallbacks", report.FallbackCount),
	)

	return report, nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func GenerateReport(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Evaluation Report
=================

Total Reviews: %d
Correct: %d
Accuracy: %.1f%%
Fallbacks: %d (%.1f%%)

Per Theme:
`,
		report.Total,
		report.Correct,
		report.Accuracy*100,
		report.FallbackCount, report.FallbackPercentage,
	)
	for _, t := range report.Themes {
		fmt.Fprintf(&b, "- %s: support %d, precision %.2f, recall %.2f, f1 %.2f\n",
			t.ThemeID, t.Support, t.Precision, t.Recall, t.F1)
	}
	if len(report.Misses) > 0 {
		fmt.Fprintf(&b, "\nMisclassified: %d\n", len(report.Misses))
		for _, m := range report.Misses {
			fmt.Fprintf(&b, "- %s: expected %s, got %s (%s)\n", m.ReviewID, m.Expected, m.Got, m.Provenance)
		}
	}
	return b.String()
}
