package ingestion

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	urlPattern        = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	emojiPattern      = regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}\x{2B00}-\x{2BFF}\x{24C2}\x{FE0F}\x{200D}]`)
)

// CleanText strips markup, links and emoji from review text, masks contact
// details and collapses whitespace.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	cleaned := stripHTML(text)
	cleaned = urlPattern.ReplaceAllString(cleaned, "")
	cleaned = RedactPII(cleaned)
	cleaned = emojiPattern.ReplaceAllString(cleaned, "")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

func stripHTML(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return text
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}

	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr, td").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})

	return doc.Text()
}
