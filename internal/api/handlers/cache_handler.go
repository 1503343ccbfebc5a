package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/pkg/logger"
)

type CacheInvalidator interface {
	InvalidateClassifications(ctx context.Context) (int, error)
}

type CacheHandler struct {
	cache CacheInvalidator
}

func NewCacheHandler(cache CacheInvalidator) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// Invalidate drops every cached classification, e.g. after a prompt change.
func (h *CacheHandler) Invalidate(c *fiber.Ctx) error {
	deleted, err := h.cache.InvalidateClassifications(c.Context())
	if err != nil {
		logger.Error("Failed to invalidate classification cache", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to invalidate cache",
			"deleted": deleted,
		})
	}
	return c.JSON(fiber.Map{"deleted": deleted})
}
