package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/review-pulse/backend/internal/storage/models"
)

// ErrMalformedResponse covers any service output that cannot be aligned
// one-to-one with the request batch.
var ErrMalformedResponse = errors.New("malformed classification response")

// flexString accepts JSON strings and numbers; models sometimes emit numeric ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type labelEntry struct {
	ReviewID    flexString `json:"review_id"`
	ChosenTheme flexString `json:"chosen_theme"`
	ThemeID     flexString `json:"theme_id"`
	Theme       flexString `json:"theme"`
	ShortReason string     `json:"short_reason"`
	Reason      string     `json:"reason"`
}

func (e labelEntry) label() string {
	for _, v := range []flexString{e.ChosenTheme, e.ThemeID, e.Theme} {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

func (e labelEntry) reason() string {
	if r := strings.TrimSpace(e.ShortReason); r != "" {
		return r
	}
	return strings.TrimSpace(e.Reason)
}

func (e labelEntry) empty() bool {
	return e.ReviewID == "" && e.label() == "" && e.reason() == ""
}

type labelEnvelope struct {
	Classifications []labelEntry `json:"classifications"`
	Reviews         []labelEntry `json:"reviews"`
}

// ParseLabels decodes a service response and aligns it with items. Entries
// are matched by review_id when every entry carries one, otherwise by position.
func ParseLabels(raw string, items []models.BatchItem) ([]models.RemoteLabel, error) {
	entries, err := decodeEntries(extractJSON(raw))
	if err != nil {
		return nil, err
	}

	if len(entries) != len(items) {
		return nil, fmt.Errorf("%w: got %d labels for %d reviews", ErrMalformedResponse, len(entries), len(items))
	}

	allKeyed := true
	for _, e := range entries {
		if strings.TrimSpace(string(e.ReviewID)) == "" {
			allKeyed = false
			break
		}
	}

	labels := make([]models.RemoteLabel, len(items))
	if allKeyed {
		positions := make(map[string]int, len(items))
		for i, item := range items {
			positions[item.ReviewID] = i
		}
		seen := make([]bool, len(items))
		for _, e := range entries {
			id := strings.TrimSpace(string(e.ReviewID))
			pos, ok := positions[id]
			if !ok {
				return nil, fmt.Errorf("%w: unknown review_id %q", ErrMalformedResponse, id)
			}
			if seen[pos] {
				return nil, fmt.Errorf("%w: duplicate review_id %q", ErrMalformedResponse, id)
			}
			seen[pos] = true
			labels[pos] = models.RemoteLabel{ReviewID: id, Label: e.label(), Reason: e.reason()}
		}
		return labels, nil
	}

	for i, e := range entries {
		id := strings.TrimSpace(string(e.ReviewID))
		if id != "" && id != items[i].ReviewID {
			return nil, fmt.Errorf("%w: review_id %q at position %d, expected %q", ErrMalformedResponse, id, i, items[i].ReviewID)
		}
		labels[i] = models.RemoteLabel{ReviewID: items[i].ReviewID, Label: e.label(), Reason: e.reason()}
	}
	return labels, nil
}

func decodeEntries(payload string) ([]labelEntry, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	if strings.HasPrefix(payload, "[") {
		var entries []labelEntry
		if err := json.Unmarshal([]byte(payload), &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return entries, nil
	}

	var envelope labelEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v (response: %s)", ErrMalformedResponse, err, truncate(payload, 200))
	}
	switch {
	case envelope.Classifications != nil:
		return envelope.Classifications, nil
	case envelope.Reviews != nil:
		return envelope.Reviews, nil
	}

	var single labelEntry
	if err := json.Unmarshal([]byte(payload), &single); err != nil || single.empty() {
		return nil, fmt.Errorf("%w: no classifications in response", ErrMalformedResponse)
	}
	return []labelEntry{single}, nil
}

// extractJSON strips Markdown code fences and any prose around the JSON body.
func extractJSON(response string) string {
	cleaned := strings.TrimSpace(response)

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		if nl := strings.Index(cleaned, "\n"); nl >= 0 {
			cleaned = cleaned[nl+1:]
		} else {
			cleaned = strings.TrimPrefix(cleaned, "json")
		}
		if end := strings.LastIndex(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	if strings.HasPrefix(cleaned, "[") || strings.HasPrefix(cleaned, "{") {
		return cleaned
	}

	start := strings.IndexAny(cleaned, "[{")
	if start < 0 {
		return cleaned
	}
	closer := "}"
	if cleaned[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(cleaned, closer)
	if end <= start {
		return cleaned
	}
	return cleaned[start : end+1]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(" + strconv.Itoa(len(s)-max) + " more bytes)"
}
