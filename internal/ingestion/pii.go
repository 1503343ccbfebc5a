package ingestion

import "regexp"

const RedactionMask = "[REDACTED]"

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[-.\s]?)?(?:\(\d{2,4}\)|\d{3,5})[-.\s]?\d{3}[-.\s]?\d{3,4}`)
)

// RedactPII masks e-mail addresses and phone numbers so they never reach the
// remote classifier.
func RedactPII(text string) string {
	text = emailPattern.ReplaceAllString(text, RedactionMask)
	return phonePattern.ReplaceAllString(text, RedactionMask)
}
