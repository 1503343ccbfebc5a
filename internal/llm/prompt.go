package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/review-pulse/backend/internal/storage/models"
)

const maxReviewPreviewChars = 400

const systemPromptTemplate = `You are tagging app store reviews into a fixed set of themes.

Allowed themes:
%s

For each review, output:
- review_id: the exact review_id from the input
- chosen_theme: exactly one theme id from the list above (one of: %s)
- short_reason: one sentence explaining why this theme was chosen (no names, emails or other personal information)

Return only a JSON object, no additional text, with exactly one entry per review in input order:
{"classifications": [{"review_id": "...", "chosen_theme": "%s", "short_reason": "..."}]}`

// BuildPrompts renders the taxonomy and batch into system and user prompts.
func BuildPrompts(req models.BatchRequest) (string, string) {
	var themeLines strings.Builder
	ids := make([]string, 0, len(req.Themes))
	for i, theme := range req.Themes {
		fmt.Fprintf(&themeLines, "%d. %s (%s) – %s\n", i+1, theme.Name, theme.ID, theme.Description)
		ids = append(ids, theme.ID)
	}

	example := ""
	if len(ids) > 0 {
		example = ids[0]
	}
	systemPrompt := fmt.Sprintf(systemPromptTemplate, strings.TrimRight(themeLines.String(), "\n"), strings.Join(ids, ", "), example)

	blocks := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		var b strings.Builder
		fmt.Fprintf(&b, "review_id: %s\n", item.ReviewID)
		if title := strings.TrimSpace(item.Title); title != "" {
			fmt.Fprintf(&b, "title: %s\n", title)
		}
		fmt.Fprintf(&b, "text: %s", preview(item.Text))
		blocks = append(blocks, b.String())
	}
	userPrompt := "Reviews:\n\n" + strings.Join(blocks, "\n\n---\n\n")

	return systemPrompt, userPrompt
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxReviewPreviewChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxReviewPreviewChars]) + "..."
}
