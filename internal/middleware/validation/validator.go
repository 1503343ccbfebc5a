package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/ingestion"
)

// RunRequestKey is the fiber.Locals key holding the validated *RunRequest.
const RunRequestKey = "run_request"

type RunRequest struct {
	Reviews []ingestion.RawReview `json:"reviews"`
}

type Config struct {
	MaxReviews    int
	MaxTextLength int
	Logger        *zap.Logger
}

// RunRequestMiddleware checks a run submission before it reaches the handler.
// Per-review content rules are left to ingestion; this rejects requests that
// are malformed as a whole.
func RunRequestMiddleware(cfg Config) fiber.Handler {
	if cfg.MaxReviews <= 0 {
		cfg.MaxReviews = 5000
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 20000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Content-Type must be application/json",
			})
		}

		var req RunRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if len(req.Reviews) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "reviews must be a non-empty array",
			})
		}
		if len(req.Reviews) > cfg.MaxReviews {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": fmt.Sprintf("at most %d reviews per run", cfg.MaxReviews),
			})
		}

		for i := range req.Reviews {
			r := &req.Reviews[i]
			if strings.TrimSpace(r.ReviewID) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": fmt.Sprintf("review at position %d is missing review_id", i),
				})
			}
			if len(r.Text) > cfg.MaxTextLength {
				cfg.Logger.Warn("Oversized review rejected",
					zap.String("ip", c.IP()),
					zap.String("review_id", r.ReviewID),
					zap.Int("length", len(r.Text)),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": fmt.Sprintf("review %s exceeds maximum text length", r.ReviewID),
				})
			}
			r.ReviewID = sanitizeString(r.ReviewID)
			r.Title = sanitizeString(r.Title)
			r.Text = sanitizeString(r.Text)
		}

		c.Locals(RunRequestKey, &req)
		return c.Next()
	}
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	return strings.ReplaceAll(input, "\x00", "")
}
