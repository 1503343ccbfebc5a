package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/internal/taxonomy"
	"github.com/review-pulse/backend/pkg/logger"
)

type ThemeHistoryStore interface {
	ThemeHistory(ctx context.Context, themeID string, limit int) ([]models.ThemeWeekCount, error)
}

type ThemesHandler struct {
	taxonomy *taxonomy.Taxonomy
	history  ThemeHistoryStore
}

func NewThemesHandler(tax *taxonomy.Taxonomy, history ThemeHistoryStore) *ThemesHandler {
	return &ThemesHandler{taxonomy: tax, history: history}
}

func (h *ThemesHandler) ListThemes(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"themes":        h.taxonomy.ListThemes(),
		"default_theme": h.taxonomy.DefaultTheme().ID,
	})
}

func (h *ThemesHandler) ThemeHistory(c *fiber.Ctx) error {
	theme, ok := h.taxonomy.Lookup(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Theme not found",
		})
	}
	if h.history == nil {
		return storageDisabled(c)
	}

	history, err := h.history.ThemeHistory(c.Context(), theme.ID, c.QueryInt("limit", 0))
	if err != nil {
		logger.Error("Failed to load theme history", zap.String("theme_id", theme.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load theme history",
		})
	}

	return c.JSON(fiber.Map{
		"theme_id": theme.ID,
		"history":  history,
	})
}
