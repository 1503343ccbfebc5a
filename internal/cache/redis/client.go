package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/pkg/config"
	"github.com/review-pulse/backend/pkg/logger"
)

const classificationPrefix = "classification:"

// Client caches resolved review classifications.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr), zap.Duration("ttl", cfg.TTL()))

	return &Client{client: client, ttl: cfg.TTL()}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Set(ctx context.Context, key string, value models.CachedClassification) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal classification: %w", err)
	}

	if err := c.client.Set(ctx, classificationPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set classification cache: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, key string) (*models.CachedClassification, bool, error) {
	data, err := c.client.Get(ctx, classificationPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get classification cache: %w", err)
	}

	var cached models.CachedClassification
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal classification: %w", err)
	}

	logger.Debug("Classification cache hit", zap.String("key", key))
	return &cached, true, nil
}

// InvalidateClassifications removes every cached classification and returns
// how many keys were deleted.
func (c *Client) InvalidateClassifications(ctx context.Context) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, classificationPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Classification cache invalidated", zap.Int("deleted", deleted))
	return deleted, nil
}
