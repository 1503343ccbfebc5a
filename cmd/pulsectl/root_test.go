package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/review-pulse/backend/internal/ingestion"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: stub
sqlite:
  enabled: false
logging:
  level: error
`), 0o644))
	return path
}

func TestClassifyCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "reviews.json")
	data, err := json.Marshal([]ingestion.RawReview{
		{ReviewID: "1", Text: "App crashes when I open the portfolio", Rating: 1, Date: "2024-03-04T09:00:00Z"},
		{ReviewID: "2", Text: "The new layout is lovely", Rating: 5, Date: "2024-03-05T09:00:00Z"},
		{ReviewID: "3", Text: "ok", Rating: 4, Date: "2024-03-05T09:00:00Z"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(input, data, 0o644))

	reportPath := filepath.Join(dir, "out", "report.json")
	logPath := filepath.Join(dir, "out", "log.json")

	out, err := execute(t, "classify",
		"--config", writeConfig(t, dir),
		"--input", input,
		"--report", reportPath,
		"--log", logPath,
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "classified: 2")
	assert.Contains(t, out, "1 dropped by guardrail")

	report, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var agg struct {
		OverallCounts map[string]int `json:"overall_counts"`
	}
	require.NoError(t, json.Unmarshal(report, &agg))
	assert.Equal(t, map[string]int{"glitches": 1, "ui_ux": 1}, agg.OverallCounts)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(log, &entries))
	assert.Len(t, entries, 2)
}

func TestClassifyRequiresInput(t *testing.T) {
	_, err := execute(t, "classify", "--config", writeConfig(t, t.TempDir()))
	assert.ErrorContains(t, err, "input")
}

func TestClassifyMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "classify",
		"--config", writeConfig(t, dir),
		"--input", filepath.Join(dir, "missing.json"),
	)
	assert.Error(t, err)
}

func TestThemesCommand(t *testing.T) {
	out, err := execute(t, "themes", "--config", writeConfig(t, t.TempDir()))
	require.NoError(t, err)
	assert.Contains(t, out, "glitches")
	assert.Contains(t, out, "fees_financial_concerns")
	assert.Contains(t, out, "DEFAULT")
}

func TestEvaluateCommand(t *testing.T) {
	dir := t.TempDir()
	dataset := filepath.Join(dir, "gold.json")
	require.NoError(t, os.WriteFile(dataset, []byte(`[
		{"review_id":"1","text":"App keeps crashing","expected_theme":"glitches"},
		{"review_id":"2","text":"Support never replies","expected_theme":"slow"}
	]`), 0o644))

	out, err := execute(t, "evaluate", "--config", writeConfig(t, dir), "--dataset", dataset)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Accuracy: 50.0%")
	assert.Contains(t, out, "2: expected slow, got customer_support")
}
