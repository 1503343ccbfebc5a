// Package report writes the aggregation report and classification log as
// JSON files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/pkg/logger"
)

const (
	AggregationFile    = "theme_aggregation.json"
	ClassificationFile = "review_classifications.json"
)

// Marshal renders v as indented JSON with a trailing newline.
func Marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func WriteAggregation(path string, result *models.AggregationResult) error {
	return writeJSON(path, result)
}

func WriteClassificationLog(path string, entries []models.ClassificationLogEntry) error {
	if entries == nil {
		entries = []models.ClassificationLogEntry{}
	}
	return writeJSON(path, entries)
}

// WriteDir writes both artifacts into dir under their default names.
func WriteDir(dir string, result *models.AggregationResult, entries []models.ClassificationLogEntry) error {
	if err := WriteAggregation(filepath.Join(dir, AggregationFile), result); err != nil {
		return err
	}
	return WriteClassificationLog(filepath.Join(dir, ClassificationFile), entries)
}

func writeJSON(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logger.Info("Report written", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
