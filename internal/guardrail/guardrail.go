package guardrail

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/metrics"
	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/pkg/logger"
)

const DefaultMinTextLength = 10

var ErrMissingReviewID = errors.New("review is missing an identifier")

type Filter struct {
	minChars int
}

func New(minChars int) *Filter {
	if minChars <= 0 {
		minChars = DefaultMinTextLength
	}
	return &Filter{minChars: minChars}
}

func (f *Filter) MinChars() int {
	return f.minChars
}

// Filter splits reviews into those long enough to classify and those that
// are not. Length is counted in characters after trimming whitespace; a text
// of exactly the minimum length is kept. Order is preserved in both outputs.
func (f *Filter) Filter(reviews []models.Review) (kept, dropped []models.Review, err error) {
	kept = make([]models.Review, 0, len(reviews))
	for i, r := range reviews {
		if strings.TrimSpace(r.ID) == "" {
			return nil, nil, fmt.Errorf("review at position %d: %w", i, ErrMissingReviewID)
		}
		if utf8.RuneCountInString(strings.TrimSpace(r.Text)) < f.minChars {
			dropped = append(dropped, r)
			continue
		}
		kept = append(kept, r)
	}

	if len(dropped) > 0 {
		metrics.ReviewsDropped.Add(float64(len(dropped)))
		logger.Info("Guardrail dropped short reviews",
			zap.Int("dropped", len(dropped)),
			zap.Int("kept", len(kept)),
			zap.Int("min_chars", f.minChars),
		)
	}

	return kept, dropped, nil
}
