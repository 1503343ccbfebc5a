package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/pkg/logger"
)

var ErrRunNotFound = errors.New("run not found")

const defaultListLimit = 50

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		input_count INTEGER NOT NULL,
		dropped_count INTEGER NOT NULL,
		report TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS classifications (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		review_id TEXT NOT NULL,
		theme_id TEXT NOT NULL,
		theme_name TEXT NOT NULL,
		reason TEXT,
		provenance TEXT NOT NULL,
		label TEXT,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_classifications_theme ON classifications(run_id, theme_id);

	CREATE TABLE IF NOT EXISTS weekly_theme_counts (
		run_id TEXT NOT NULL,
		week_start TEXT NOT NULL,
		week_end TEXT NOT NULL,
		theme_id TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (run_id, week_start, theme_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_weekly_theme ON weekly_theme_counts(theme_id, week_start);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// SaveRun stores a run with its classification log and weekly counts in one
// transaction.
func (c *Client) SaveRun(ctx context.Context, run models.RunRecord, classifications []models.Classification, result *models.AggregationResult) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, input_count, dropped_count, report) VALUES (?, ?, ?, ?, ?)`,
		run.ID,
		run.CreatedAt.UnixMilli(),
		run.InputCount,
		run.DroppedCount,
		string(run.Report),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO classifications (run_id, position, review_id, theme_id, theme_name, reason, provenance, label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare classification insert: %w", err)
	}
	defer stmt.Close()

	for i, cl := range classifications {
		_, err = stmt.ExecContext(ctx, run.ID, i, cl.ReviewID, cl.ThemeID, cl.ThemeName, cl.Reason, string(cl.Provenance), cl.Label)
		if err != nil {
			return fmt.Errorf("failed to insert classification %s: %w", cl.ReviewID, err)
		}
	}

	if result != nil {
		for _, bucket := range result.WeeklyCounts {
			for themeID, count := range bucket.ThemeCounts {
				_, err = tx.ExecContext(ctx,
					`INSERT INTO weekly_theme_counts (run_id, week_start, week_end, theme_id, count) VALUES (?, ?, ?, ?, ?)`,
					run.ID, bucket.WeekStart, bucket.WeekEnd, themeID, count,
				)
				if err != nil {
					return fmt.Errorf("failed to insert weekly count: %w", err)
				}
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	logger.Info("Run stored",
		zap.String("run_id", run.ID),
		zap.Int("classifications", len(classifications)),
	)
	return nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var (
		run       models.RunRecord
		createdAt int64
		report    string
	)

	err := c.db.QueryRowContext(ctx,
		`SELECT id, created_at, input_count, dropped_count, report FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &createdAt, &run.InputCount, &run.DroppedCount, &report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.Report = []byte(report)
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query, args, err := sq.Select("r.id", "r.created_at", "r.input_count", "r.dropped_count", "COUNT(c.position)").
		From("runs r").
		LeftJoin("classifications c ON c.run_id = r.id").
		GroupBy("r.id").
		OrderBy("r.created_at DESC", "r.id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		var (
			s         models.RunSummary
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &createdAt, &s.InputCount, &s.DroppedCount, &s.ClassificationCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.CreatedAt = time.UnixMilli(createdAt).UTC()
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

type ClassificationFilter struct {
	ThemeID    string
	Provenance models.Provenance
	Limit      int
	Offset     int
}

// ListClassifications returns a run's classification log in input order.
func (c *Client) ListClassifications(ctx context.Context, runID string, filter ClassificationFilter) ([]models.Classification, error) {
	if _, err := c.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	builder := sq.Select("review_id", "theme_id", "theme_name", "reason", "provenance", "label").
		From("classifications").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("position")
	if filter.ThemeID != "" {
		builder = builder.Where(sq.Eq{"theme_id": filter.ThemeID})
	}
	if filter.Provenance != "" {
		builder = builder.Where(sq.Eq{"provenance": string(filter.Provenance)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			builder = builder.Limit(uint64(1<<62))
		}
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list classifications: %w", err)
	}
	defer rows.Close()

	classifications := []models.Classification{}
	for rows.Next() {
		var (
			cl         models.Classification
			reason     sql.NullString
			label      sql.NullString
			provenance string
		)
		if err := rows.Scan(&cl.ReviewID, &cl.ThemeID, &cl.ThemeName, &reason, &provenance, &label); err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		cl.Reason = reason.String
		cl.Label = label.String
		cl.Provenance = models.Provenance(provenance)
		classifications = append(classifications, cl)
	}
	return classifications, rows.Err()
}

// ThemeHistory returns a theme's weekly counts across stored runs, oldest week first.
func (c *Client) ThemeHistory(ctx context.Context, themeID string, limit int) ([]models.ThemeWeekCount, error) {
	builder := sq.Select("w.run_id", "w.week_start", "w.week_end", "w.count").
		From("weekly_theme_counts w").
		Join("runs r ON r.id = w.run_id").
		Where(sq.Eq{"w.theme_id": themeID}).
		OrderBy("w.week_start", "r.created_at", "w.run_id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query theme history: %w", err)
	}
	defer rows.Close()

	history := []models.ThemeWeekCount{}
	for rows.Next() {
		var h models.ThemeWeekCount
		if err := rows.Scan(&h.RunID, &h.WeekStart, &h.WeekEnd, &h.Count); err != nil {
			return nil, fmt.Errorf("failed to scan theme history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}
