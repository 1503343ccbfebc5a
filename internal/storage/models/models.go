package models

import "time"

type Review struct {
	ID       string    `json:"review_id"`
	Title    string    `json:"title,omitempty"`
	Text     string    `json:"text"`
	Rating   int       `json:"rating"`
	PostedAt time.Time `json:"date"`
	Author   string    `json:"author,omitempty"`
	Locale   string    `json:"locale,omitempty"`
	Source   string    `json:"product_tag,omitempty"`
}

// IndexReviews builds the review lookup the aggregator resolves timestamps from.
// On duplicate ids the first review wins.
func IndexReviews(reviews []Review) map[string]Review {
	index := make(map[string]Review, len(reviews))
	for _, r := range reviews {
		if _, ok := index[r.ID]; ok {
			continue
		}
		index[r.ID] = r
	}
	return index
}

type ThemeDefinition struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords"`
	Default     bool     `json:"default,omitempty" yaml:"default"`
}

type Provenance string

const (
	ProvenanceRemote                 Provenance = "remote"
	ProvenanceFuzzyRepaired          Provenance = "fuzzy-repaired"
	ProvenanceInvalidLabelFallback   Provenance = "invalid-label-fallback"
	ProvenanceServiceFailureFallback Provenance = "service-failure-fallback"
)

// IsFallback reports whether the theme was assigned without a usable label.
func (p Provenance) IsFallback() bool {
	return p == ProvenanceInvalidLabelFallback || p == ProvenanceServiceFailureFallback
}

type Classification struct {
	ReviewID   string     `json:"review_id"`
	ThemeID    string     `json:"theme_id"`
	ThemeName  string     `json:"theme_name"`
	Reason     string     `json:"reason"`
	Provenance Provenance `json:"provenance"`
	Label      string     `json:"label,omitempty"`
}

type ClassificationLogEntry struct {
	ReviewID   string     `json:"review_id"`
	ThemeID    string     `json:"theme_id"`
	ThemeName  string     `json:"theme_name"`
	Reason     string     `json:"reason"`
	Provenance Provenance `json:"provenance"`
}

func NewClassificationLog(classifications []Classification) []ClassificationLogEntry {
	entries := make([]ClassificationLogEntry, len(classifications))
	for i, c := range classifications {
		entries[i] = ClassificationLogEntry{
			ReviewID:   c.ReviewID,
			ThemeID:    c.ThemeID,
			ThemeName:  c.ThemeName,
			Reason:     c.Reason,
			Provenance: c.Provenance,
		}
	}
	return entries
}

type CachedClassification struct {
	ThemeID    string     `json:"theme_id"`
	Reason     string     `json:"reason"`
	Provenance Provenance `json:"provenance"`
	Label      string     `json:"label,omitempty"`
}

type BatchItem struct {
	ReviewID string
	Title    string
	Text     string
}

type BatchRequest struct {
	Themes []ThemeDefinition
	Items  []BatchItem
}

type RemoteLabel struct {
	ReviewID string `json:"review_id"`
	Label    string `json:"chosen_theme"`
	Reason   string `json:"short_reason"`
}

type WeeklyBucket struct {
	WeekStart       string           `json:"week_start_date"`
	WeekEnd         string           `json:"week_end_date"`
	ThemeCounts     map[string]int   `json:"theme_counts"`
	TotalReviews    int              `json:"total_reviews"`
	Classifications []Classification `json:"-"`
}

type ThemeCount struct {
	ThemeID string `json:"theme_id"`
	Count   int    `json:"count"`
}

type AggregationResult struct {
	WeeklyCounts             []WeeklyBucket `json:"weekly_counts"`
	OverallCounts            map[string]int `json:"overall_counts"`
	TopThemes                []ThemeCount   `json:"top_themes"`
	UnmatchedClassifications int            `json:"unmatched_classifications,omitempty"`
}

type RunRecord struct {
	ID           string
	CreatedAt    time.Time
	InputCount   int
	DroppedCount int
	Report       []byte
}

type RunSummary struct {
	ID                  string    `json:"id"`
	CreatedAt           time.Time `json:"created_at"`
	InputCount          int       `json:"input_count"`
	DroppedCount        int       `json:"dropped_count"`
	ClassificationCount int       `json:"classification_count"`
}

// ThemeWeekCount is one theme's count in one week of a stored run.
type ThemeWeekCount struct {
	RunID     string `json:"run_id"`
	WeekStart string `json:"week_start_date"`
	WeekEnd   string `json:"week_end_date"`
	Count     int    `json:"count"`
}
