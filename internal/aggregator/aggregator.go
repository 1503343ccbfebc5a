// Package aggregator groups classified reviews into calendar weeks and ranks
// themes by how often they occur.
package aggregator

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/internal/taxonomy"
	"github.com/review-pulse/backend/pkg/logger"
)

const dateLayout = "2006-01-02"

type Aggregator struct {
	taxonomy  *taxonomy.Taxonomy
	weekStart time.Weekday
	location  *time.Location
}

// New returns an aggregator whose weeks begin on weekStart at midnight in loc.
// A nil loc means UTC.
func New(tax *taxonomy.Taxonomy, weekStart time.Weekday, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{taxonomy: tax, weekStart: weekStart, location: loc}
}

// WeekStart returns midnight of the first day of the week containing t.
func (a *Aggregator) WeekStart(t time.Time) time.Time {
	local := t.In(a.location)
	offset := (int(local.Weekday()) - int(a.weekStart) + 7) % 7
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.location)
	return day.AddDate(0, 0, -offset)
}

// Aggregate builds weekly and overall theme counts. Classifications whose
// review is missing from reviewsByID are skipped and reported as unmatched.
// The result depends only on its inputs.
func (a *Aggregator) Aggregate(classifications []models.Classification, reviewsByID map[string]models.Review) *models.AggregationResult {
	buckets := make(map[string]*models.WeeklyBucket)
	overall := make(map[string]int)
	unmatched := 0

	for _, cl := range classifications {
		review, ok := reviewsByID[cl.ReviewID]
		if !ok {
			unmatched++
			continue
		}

		start := a.WeekStart(review.PostedAt)
		key := start.Format(dateLayout)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &models.WeeklyBucket{
				WeekStart:   key,
				WeekEnd:     start.AddDate(0, 0, 6).Format(dateLayout),
				ThemeCounts: make(map[string]int),
			}
			buckets[key] = bucket
		}
		bucket.ThemeCounts[cl.ThemeID]++
		bucket.TotalReviews++
		bucket.Classifications = append(bucket.Classifications, cl)
		overall[cl.ThemeID]++
	}

	if unmatched > 0 {
		logger.Warn("Classifications without a matching review were skipped",
			zap.Int("unmatched", unmatched),
		)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	// YYYY-MM-DD sorts chronologically as a string.
	sort.Strings(keys)

	weekly := make([]models.WeeklyBucket, 0, len(keys))
	for _, k := range keys {
		weekly = append(weekly, *buckets[k])
	}

	return &models.AggregationResult{
		WeeklyCounts:             weekly,
		OverallCounts:            overall,
		TopThemes:                a.rank(overall),
		UnmatchedClassifications: unmatched,
	}
}

// rank orders themes by count descending. Ties go to the theme declared
// first in the taxonomy; ids outside the taxonomy sort last by id.
func (a *Aggregator) rank(counts map[string]int) []models.ThemeCount {
	top := make([]models.ThemeCount, 0, len(counts))
	for id, n := range counts {
		if n > 0 {
			top = append(top, models.ThemeCount{ThemeID: id, Count: n})
		}
	}

	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		pi, iKnown := a.taxonomy.Position(top[i].ThemeID)
		pj, jKnown := a.taxonomy.Position(top[j].ThemeID)
		switch {
		case iKnown && jKnown:
			return pi < pj
		case iKnown != jKnown:
			return iKnown
		default:
			return top[i].ThemeID < top[j].ThemeID
		}
	})
	return top
}
