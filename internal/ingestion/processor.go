package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/pkg/logger"
)

const WeekFilePattern = "week_*.json"

var ErrNoInput = errors.New("no review files found")

// RawReview is a review as delivered by the scraper, before validation.
type RawReview struct {
	ReviewID   string `json:"review_id"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	Rating     int    `json:"rating"`
	Date       string `json:"date"`
	Author     string `json:"author,omitempty"`
	Locale     string `json:"locale,omitempty"`
	ProductTag string `json:"product_tag,omitempty"`
}

type ValidationSummary struct {
	Total      int `json:"total"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
}

type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

// LoadPath reads raw reviews from a JSON file, or from every week_*.json file
// in a directory in name order.
func (p *Processor) LoadPath(path string) ([]RawReview, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, WeekFilePattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list week files: %w", err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w in %s", ErrNoInput, path)
		}
		sort.Strings(files)
	}

	var raws []RawReview
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		var batch []RawReview
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", file, err)
		}
		raws = append(raws, batch...)
	}

	logger.Info("Raw reviews loaded",
		zap.String("path", path),
		zap.Int("files", len(files)),
		zap.Int("reviews", len(raws)),
	)
	return raws, nil
}

// Process cleans and validates raw reviews. Invalid records are rejected and
// repeated review ids are dropped, keeping the first occurrence.
func (p *Processor) Process(raws []RawReview) ([]models.Review, ValidationSummary) {
	summary := ValidationSummary{Total: len(raws)}
	reviews := make([]models.Review, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))

	for i, raw := range raws {
		review, err := p.toReview(raw)
		if err != nil {
			summary.Rejected++
			logger.Warn("Dropping invalid review",
				zap.Int("position", i),
				zap.String("review_id", raw.ReviewID),
				zap.Error(err),
			)
			continue
		}
		if _, dup := seen[review.ID]; dup {
			summary.Duplicates++
			logger.Debug("Dropping duplicate review", zap.String("review_id", review.ID))
			continue
		}
		seen[review.ID] = struct{}{}
		reviews = append(reviews, review)
	}

	summary.Accepted = len(reviews)
	logger.Info("Reviews validated",
		zap.Int("total", summary.Total),
		zap.Int("accepted", summary.Accepted),
		zap.Int("rejected", summary.Rejected),
		zap.Int("duplicates", summary.Duplicates),
	)
	return reviews, summary
}

func (p *Processor) toReview(raw RawReview) (models.Review, error) {
	id := strings.TrimSpace(raw.ReviewID)
	if id == "" {
		return models.Review{}, errors.New("review_id is required")
	}

	text := CleanText(raw.Text)
	if text == "" {
		return models.Review{}, errors.New("text is empty after cleaning")
	}

	if raw.Rating < 1 || raw.Rating > 5 {
		return models.Review{}, fmt.Errorf("rating %d outside 1-5", raw.Rating)
	}

	postedAt, err := ParseDate(raw.Date)
	if err != nil {
		return models.Review{}, err
	}

	return models.Review{
		ID:       id,
		Title:    CleanText(raw.Title),
		Text:     text,
		Rating:   raw.Rating,
		PostedAt: postedAt,
		Author:   strings.TrimSpace(raw.Author),
		Locale:   strings.TrimSpace(raw.Locale),
		Source:   strings.TrimSpace(raw.ProductTag),
	}, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts ISO-8601 timestamps. Values without a zone are UTC.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}
