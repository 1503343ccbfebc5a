// Package classifier assigns every review exactly one theme from the taxonomy.
//
// Reviews are sent to a RemoteClassifier in fixed-size batches. Labels coming
// back are resolved against the taxonomy (exact, then fuzzy) and anything that
// cannot be resolved falls back to the default theme. A batch whose remote
// call keeps failing after the retry ceiling is assigned the default theme as
// a whole, so Classify never returns fewer results than it was given.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/review-pulse/backend/internal/metrics"
	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/internal/taxonomy"
	"github.com/review-pulse/backend/pkg/logger"
	"github.com/review-pulse/backend/pkg/retry"
	"github.com/review-pulse/backend/pkg/utils"
)

const (
	DefaultBatchSize   = 8
	DefaultMaxRetries  = 2
	DefaultConcurrency = 1
)

var (
	// ErrShortResponse is returned when the service answers a batch with the
	// wrong number of labels.
	ErrShortResponse = errors.New("classification count does not match batch size")
	// ErrMisalignedResponse is returned when a label names a different review
	// than the one at its position.
	ErrMisalignedResponse = errors.New("classification does not match review order")
)

// RemoteClassifier labels one batch of reviews. Implementations return one
// label per item in item order, or an error.
type RemoteClassifier interface {
	ClassifyBatch(ctx context.Context, req models.BatchRequest) ([]models.RemoteLabel, error)
}

// Cache stores resolved classifications keyed by taxonomy and review text.
type Cache interface {
	Get(ctx context.Context, key string) (*models.CachedClassification, bool, error)
	Set(ctx context.Context, key string, value models.CachedClassification) error
}

type Config struct {
	BatchSize int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries  int
	Concurrency int
	RetryDelay  time.Duration
	// AttemptTimeout bounds a single remote call; zero means no limit.
	AttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		MaxRetries:  DefaultMaxRetries,
		Concurrency: DefaultConcurrency,
		RetryDelay:  500 * time.Millisecond,
	}
}

type Classifier struct {
	taxonomy *taxonomy.Taxonomy
	remote   RemoteClassifier
	cache    Cache
	cfg      Config
}

type Option func(*Classifier)

func WithCache(cache Cache) Option {
	return func(c *Classifier) {
		c.cache = cache
	}
}

func New(tax *taxonomy.Taxonomy, remote RemoteClassifier, cfg Config, opts ...Option) *Classifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	c := &Classifier{taxonomy: tax, remote: remote, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) Taxonomy() *taxonomy.Taxonomy {
	return c.taxonomy
}

// Classify returns one Classification per review in input order. It does not
// fail: service errors end in fallback classifications.
func (c *Classifier) Classify(ctx context.Context, reviews []models.Review) []models.Classification {
	results := make([]models.Classification, len(reviews))
	if len(reviews) == 0 {
		return results
	}

	start := time.Now()
	keys := make([]string, len(reviews))
	pending := make([]int, 0, len(reviews))
	for i, r := range reviews {
		if c.cache != nil {
			keys[i] = c.cacheKey(r)
			if cached, ok := c.lookupCache(ctx, keys[i]); ok {
				results[i] = c.fromCache(r.ID, cached)
				continue
			}
		}
		pending = append(pending, i)
	}

	batches := partition(pending, c.cfg.BatchSize)

	// Each batch writes only its own result slots.
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for n, batch := range batches {
		n, batch := n, batch
		g.Go(func() error {
			c.classifyBatch(ctx, n, reviews, batch, results, keys)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		metrics.ClassificationsTotal.WithLabelValues(string(r.Provenance)).Inc()
	}

	logger.Info("Reviews classified",
		zap.Int("reviews", len(reviews)),
		zap.Int("cached", len(reviews)-len(pending)),
		zap.Int("batches", len(batches)),
		zap.Duration("duration", time.Since(start)),
	)

	return results
}

func (c *Classifier) classifyBatch(ctx context.Context, n int, reviews []models.Review, batch []int, results []models.Classification, keys []string) {
	req := models.BatchRequest{
		Themes: c.taxonomy.ListThemes(),
		Items:  make([]models.BatchItem, len(batch)),
	}
	for i, idx := range batch {
		req.Items[i] = models.BatchItem{
			ReviewID: reviews[idx].ID,
			Title:    reviews[idx].Title,
			Text:     reviews[idx].Text,
		}
	}

	retryCfg := retry.Config{
		MaxAttempts:    c.cfg.MaxRetries + 1,
		InitialDelay:   c.cfg.RetryDelay,
		MaxDelay:       10 * c.cfg.RetryDelay,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		AttemptTimeout: c.cfg.AttemptTimeout,
		Logger:         logger.GetLogger().With(zap.Int("batch", n)),
	}

	labels, attempts, err := retry.DoWithResult(ctx, retryCfg, func(ctx context.Context) ([]models.RemoteLabel, error) {
		labels, err := c.remote.ClassifyBatch(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := checkAlignment(labels, req.Items); err != nil {
			return nil, err
		}
		return labels, nil
	})
	metrics.BatchAttempts.Observe(float64(attempts))

	if err != nil {
		metrics.BatchesTotal.WithLabelValues("fallback").Inc()
		logger.Warn("Batch classification failed, assigning default theme",
			zap.Int("batch", n),
			zap.Int("size", len(batch)),
			zap.Int("attempts", int(attempts)),
			zap.Error(err),
		)
		fallback := c.taxonomy.DefaultTheme()
		reason := fmt.Sprintf("Classification service failed after %d attempt(s): %v", attempts, err)
		for _, idx := range batch {
			results[idx] = models.Classification{
				ReviewID:   reviews[idx].ID,
				ThemeID:    fallback.ID,
				ThemeName:  fallback.Name,
				Reason:     reason,
				Provenance: models.ProvenanceServiceFailureFallback,
			}
		}
		return
	}

	metrics.BatchesTotal.WithLabelValues("ok").Inc()
	for i, idx := range batch {
		cl := c.resolve(reviews[idx].ID, labels[i])
		results[idx] = cl
		if c.cache != nil && !cl.Provenance.IsFallback() {
			c.storeCache(ctx, keys[idx], cl)
		}
	}
}

// resolve validates a remote label against the taxonomy.
func (c *Classifier) resolve(reviewID string, label models.RemoteLabel) models.Classification {
	res := c.taxonomy.Resolve(label.Label)
	if !res.OK {
		fallback := c.taxonomy.DefaultTheme()
		reason := fmt.Sprintf("Unrecognized theme label %q; assigned default theme.", label.Label)
		if label.Label == "" {
			reason = "No theme label returned; assigned default theme."
		}
		return models.Classification{
			ReviewID:   reviewID,
			ThemeID:    fallback.ID,
			ThemeName:  fallback.Name,
			Reason:     reason,
			Provenance: models.ProvenanceInvalidLabelFallback,
			Label:      label.Label,
		}
	}

	theme, _ := c.taxonomy.Lookup(res.ThemeID)
	provenance := models.ProvenanceRemote
	if !res.Exact {
		provenance = models.ProvenanceFuzzyRepaired
	}
	reason := label.Reason
	if reason == "" {
		reason = "No reason provided."
	}
	return models.Classification{
		ReviewID:   reviewID,
		ThemeID:    theme.ID,
		ThemeName:  theme.Name,
		Reason:     reason,
		Provenance: provenance,
		Label:      label.Label,
	}
}

func (c *Classifier) cacheKey(r models.Review) string {
	return utils.HashString(c.taxonomy.Fingerprint(), r.Title, r.Text)
}

func (c *Classifier) lookupCache(ctx context.Context, key string) (*models.CachedClassification, bool) {
	cached, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Classification cache lookup failed", zap.Error(err))
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if _, known := c.taxonomy.Lookup(cached.ThemeID); !known {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return cached, true
}

func (c *Classifier) fromCache(reviewID string, cached *models.CachedClassification) models.Classification {
	theme, _ := c.taxonomy.Lookup(cached.ThemeID)
	return models.Classification{
		ReviewID:   reviewID,
		ThemeID:    theme.ID,
		ThemeName:  theme.Name,
		Reason:     cached.Reason,
		Provenance: cached.Provenance,
		Label:      cached.Label,
	}
}

func (c *Classifier) storeCache(ctx context.Context, key string, cl models.Classification) {
	err := c.cache.Set(ctx, key, models.CachedClassification{
		ThemeID:    cl.ThemeID,
		Reason:     cl.Reason,
		Provenance: cl.Provenance,
		Label:      cl.Label,
	})
	if err != nil {
		logger.Warn("Classification cache write failed", zap.Error(err))
	}
}

func checkAlignment(labels []models.RemoteLabel, items []models.BatchItem) error {
	if len(labels) != len(items) {
		return fmt.Errorf("%w: got %d labels for %d reviews", ErrShortResponse, len(labels), len(items))
	}
	for i, l := range labels {
		if l.ReviewID != "" && l.ReviewID != items[i].ReviewID {
			return fmt.Errorf("%w: position %d has review %q, expected %q", ErrMisalignedResponse, i, l.ReviewID, items[i].ReviewID)
		}
	}
	return nil
}

// partition splits indices into consecutive chunks of at most size.
func partition(indices []int, size int) [][]int {
	var batches [][]int
	for start := 0; start < len(indices); start += size {
		end := start + size
		if end > len(indices) {
			end = len(indices)
		}
		batches = append(batches, indices[start:end])
	}
	return batches
}
