package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/guardrail"
	"github.com/review-pulse/backend/internal/ingestion"
	"github.com/review-pulse/backend/internal/middleware/validation"
	"github.com/review-pulse/backend/internal/pipeline"
	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/internal/storage/sqlite"
	"github.com/review-pulse/backend/pkg/logger"
)

type Runner interface {
	Run(ctx context.Context, raws []ingestion.RawReview) (*pipeline.RunResult, error)
}

type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListClassifications(ctx context.Context, runID string, filter sqlite.ClassificationFilter) ([]models.Classification, error)
}

type RunsHandler struct {
	runner Runner
	store  RunStore
}

// NewRunsHandler serves run endpoints. store may be nil when persistence is
// disabled; read endpoints then answer 503.
func NewRunsHandler(runner Runner, store RunStore) *RunsHandler {
	return &RunsHandler{runner: runner, store: store}
}

func (h *RunsHandler) CreateRun(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.RunRequestKey).(*validation.RunRequest)
	if !ok {
		req = &validation.RunRequest{}
		if err := c.BodyParser(req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	result, err := h.runner.Run(c.Context(), req.Reviews)
	if err != nil {
		if errors.Is(err, guardrail.ErrMissingReviewID) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to process run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process run",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *RunsHandler) ListRuns(c *fiber.Ctx) error {
	if h.store == nil {
		return storageDisabled(c)
	}

	runs, err := h.store.ListRuns(c.Context(), c.QueryInt("limit", 20))
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}
	if runs == nil {
		runs = []models.RunSummary{}
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *RunsHandler) GetReport(c *fiber.Ctx) error {
	if h.store == nil {
		return storageDisabled(c)
	}

	run, err := h.store.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return runLookupError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(run.Report)
}

func (h *RunsHandler) ListClassifications(c *fiber.Ctx) error {
	if h.store == nil {
		return storageDisabled(c)
	}

	filter := sqlite.ClassificationFilter{
		ThemeID:    c.Query("theme"),
		Provenance: models.Provenance(c.Query("provenance")),
		Limit:      c.QueryInt("limit", 0),
		Offset:     c.QueryInt("offset", 0),
	}

	classifications, err := h.store.ListClassifications(c.Context(), c.Params("id"), filter)
	if err != nil {
		return runLookupError(c, err)
	}

	return c.JSON(fiber.Map{
		"run_id":          c.Params("id"),
		"classifications": models.NewClassificationLog(classifications),
	})
}

func runLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, sqlite.ErrRunNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}
	logger.Error("Failed to load run", zap.String("run_id", c.Params("id")), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to load run",
	})
}

func storageDisabled(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "Run storage is disabled",
	})
}
