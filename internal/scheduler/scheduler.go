// Package scheduler runs the review pipeline on a cron schedule over the
// weekly input directory and writes the report files for each run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/ingestion"
	"github.com/review-pulse/backend/internal/pipeline"
	"github.com/review-pulse/backend/internal/report"
	"github.com/review-pulse/backend/pkg/logger"
)

var ErrEmptySchedule = errors.New("schedule is empty")

type Runner interface {
	Run(ctx context.Context, raws []ingestion.RawReview) (*pipeline.RunResult, error)
}

type Loader interface {
	LoadPath(path string) ([]ingestion.RawReview, error)
}

type Config struct {
	// Spec is a standard 5-field cron expression or a descriptor such as @weekly.
	Spec      string
	InputDir  string
	ReportDir string
	Location  *time.Location
	// RunTimeout bounds a single scheduled run. Zero means no limit.
	RunTimeout time.Duration
}

type Scheduler struct {
	cfg    Config
	loader Loader
	runner Runner
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New validates the schedule and prepares the job. Call Start to begin.
func New(cfg Config, loader Loader, runner Runner) (*Scheduler, error) {
	spec := strings.TrimSpace(cfg.Spec)
	if spec == "" {
		return nil, ErrEmptySchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	cronLog := zapCronLogger{logger.GetLogger().Sugar()}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:    cfg,
		loader: loader,
		runner: runner,
		cron:   c,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := c.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register job: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		logger.Info("Weekly run scheduled",
			zap.String("schedule", s.cfg.Spec),
			zap.String("input_dir", s.cfg.InputDir),
			zap.Time("next", entry.Next),
		)
	}
}

// Stop cancels any in-flight run and waits for it to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	var done context.Context
	s.once.Do(func() {
		s.cancel()
		done = s.cron.Stop()
	})
	if done == nil {
		return nil
	}
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	if _, _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ingestion.ErrNoInput) {
			logger.Warn("Scheduled run skipped", zap.Error(err))
			return
		}
		logger.Error("Scheduled run failed", zap.Error(err))
	}
}

// RunOnce loads the input directory, runs the pipeline and writes both report
// files into a per-run directory under ReportDir. It returns that directory.
func (s *Scheduler) RunOnce(ctx context.Context) (*pipeline.RunResult, string, error) {
	raws, err := s.loader.LoadPath(s.cfg.InputDir)
	if err != nil {
		return nil, "", err
	}

	result, err := s.runner.Run(ctx, raws)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline run: %w", err)
	}

	dir := filepath.Join(s.cfg.ReportDir, RunDirName(result, s.cfg.Location))
	if err := report.WriteDir(dir, result.Aggregation, result.Log); err != nil {
		return result, "", err
	}

	logger.Info("Scheduled run completed",
		zap.String("run_id", result.ID),
		zap.String("report_dir", dir),
		zap.Int("classified", len(result.Log)),
		zap.Int("dropped", result.DroppedCount),
	)
	return result, dir, nil
}

// RunDirName names a run's report directory by its local creation date and id.
func RunDirName(result *pipeline.RunResult, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return result.CreatedAt.In(loc).Format("2006-01-02") + "_" + result.ID
}

type zapCronLogger struct {
	log *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
