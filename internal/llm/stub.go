package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/review-pulse/backend/internal/storage/models"
)

// UnclassifiedLabel is what the stub returns when no keyword matches.
const UnclassifiedLabel = "unclassified"

// StubClassifier labels reviews by keyword lookup without any network access.
// It is deterministic and is meant for local runs and tests.
type StubClassifier struct{}

func NewStub() *StubClassifier {
	return &StubClassifier{}
}

func (s *StubClassifier) ClassifyBatch(ctx context.Context, req models.BatchRequest) ([]models.RemoteLabel, error) {
	labels := make([]models.RemoteLabel, len(req.Items))
	for i, item := range req.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tokens, err := tokenize(item.Title + " " + item.Text)
		if err != nil {
			return nil, fmt.Errorf("tokenize review %s: %w", item.ReviewID, err)
		}

		label := models.RemoteLabel{
			ReviewID: item.ReviewID,
			Label:    UnclassifiedLabel,
			Reason:   "No theme keyword found in the review.",
		}
		if theme, keyword, ok := matchKeyword(tokens, req.Themes); ok {
			label.Label = theme
			label.Reason = fmt.Sprintf("Review mentions %q.", keyword)
		}
		labels[i] = label
	}
	return labels, nil
}

func tokenize(text string) ([]string, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return nil, err
	}

	var tokens []string
	for _, tok := range doc.Tokens() {
		t := strings.ToLower(strings.TrimSpace(tok.Text))
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens, nil
}

// matchKeyword returns the first theme, in declaration order, with a keyword
// present in tokens. Multi-word keywords must appear as a contiguous phrase.
func matchKeyword(tokens []string, themes []models.ThemeDefinition) (string, string, bool) {
	joined := " " + strings.Join(tokens, " ") + " "
	for _, theme := range themes {
		for _, kw := range theme.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(kw, " ") {
				if strings.Contains(joined, " "+kw+" ") {
					return theme.ID, kw, true
				}
				continue
			}
			for _, tok := range tokens {
				if tok == kw || (len(kw) >= 4 && strings.HasPrefix(tok, kw)) {
					return theme.ID, kw, true
				}
			}
		}
	}
	return "", "", false
}
