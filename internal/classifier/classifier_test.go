package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/internal/taxonomy"
)

// remoteFunc adapts a function to RemoteClassifier and counts calls.
type remoteFunc struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int, req models.BatchRequest) ([]models.RemoteLabel, error)
}

func (r *remoteFunc) ClassifyBatch(ctx context.Context, req models.BatchRequest) ([]models.RemoteLabel, error) {
	n := int(r.calls.Add(1))
	return r.fn(ctx, n, req)
}

// labelFromText treats each review text as the label the service returns.
func labelFromText(_ context.Context, _ int, req models.BatchRequest) ([]models.RemoteLabel, error) {
	labels := make([]models.RemoteLabel, len(req.Items))
	for i, item := range req.Items {
		labels[i] = models.RemoteLabel{ReviewID: item.ReviewID, Label: item.Text, Reason: "because " + item.Text}
	}
	return labels, nil
}

func testConfig() Config {
	return Config{BatchSize: 8, MaxRetries: 2, Concurrency: 1, RetryDelay: time.Millisecond}
}

func makeReviews(n int, text string) []models.Review {
	reviews := make([]models.Review, n)
	for i := range reviews {
		reviews[i] = models.Review{ID: fmt.Sprintf("r%02d", i), Text: text}
	}
	return reviews
}

func TestClassifyEmptyInput(t *testing.T) {
	remote := &remoteFunc{fn: labelFromText}
	c := New(taxonomy.Default(), remote, testConfig())

	got := c.Classify(context.Background(), nil)
	assert.Empty(t, got)
	assert.Zero(t, remote.calls.Load())
}

func TestClassifyRetryExhaustion(t *testing.T) {
	remote := &remoteFunc{fn: func(context.Context, int, models.BatchRequest) ([]models.RemoteLabel, error) {
		return nil, errors.New("service unavailable")
	}}
	c := New(taxonomy.Default(), remote, testConfig())

	got := c.Classify(context.Background(), makeReviews(8, "anything at all"))

	require.Len(t, got, 8)
	assert.Equal(t, int32(3), remote.calls.Load())
	for i, cl := range got {
		assert.Equal(t, fmt.Sprintf("r%02d", i), cl.ReviewID)
		assert.Equal(t, taxonomy.DefaultThemeID, cl.ThemeID)
		assert.Equal(t, models.ProvenanceServiceFailureFallback, cl.Provenance)
		assert.Contains(t, cl.Reason, "service unavailable")
		assert.Contains(t, cl.Reason, "3 attempt(s)")
	}
}

func TestClassifyTotalCoverageAndOrder(t *testing.T) {
	var batchSizes []int
	var mu sync.Mutex
	remote := &remoteFunc{fn: func(ctx context.Context, call int, req models.BatchRequest) ([]models.RemoteLabel, error) {
		mu.Lock()
		batchSizes = append(batchSizes, len(req.Items))
		mu.Unlock()
		assert.Len(t, req.Themes, 6)
		return labelFromText(ctx, call, req)
	}}
	c := New(taxonomy.Default(), remote, testConfig())

	reviews := makeReviews(20, "slow")
	got := c.Classify(context.Background(), reviews)

	require.Len(t, got, len(reviews))
	for i, cl := range got {
		assert.Equal(t, reviews[i].ID, cl.ReviewID)
		assert.Equal(t, "slow", cl.ThemeID)
		assert.Equal(t, models.ProvenanceRemote, cl.Provenance)
	}
	assert.Equal(t, []int{8, 8, 4}, batchSizes)
}

func TestClassifyLabelRepair(t *testing.T) {
	c := New(taxonomy.Default(), &remoteFunc{fn: labelFromText}, testConfig())

	reviews := []models.Review{
		{ID: "exact", Text: "glitches"},
		{ID: "name", Text: "UI/UX"},
		{ID: "fuzzy", Text: "Glitch issues"},
		{ID: "garbage", Text: "garbage123"},
		{ID: "blank", Text: ""},
	}
	got := c.Classify(context.Background(), reviews)
	require.Len(t, got, 5)

	assert.Equal(t, "glitches", got[0].ThemeID)
	assert.Equal(t, models.ProvenanceRemote, got[0].Provenance)
	assert.Equal(t, "because glitches", got[0].Reason)

	assert.Equal(t, "ui_ux", got[1].ThemeID)
	assert.Equal(t, models.ProvenanceRemote, got[1].Provenance)

	assert.Equal(t, "glitches", got[2].ThemeID)
	assert.Equal(t, models.ProvenanceFuzzyRepaired, got[2].Provenance)
	assert.Equal(t, "Glitch issues", got[2].Label)

	assert.Equal(t, taxonomy.DefaultThemeID, got[3].ThemeID)
	assert.Equal(t, models.ProvenanceInvalidLabelFallback, got[3].Provenance)
	assert.Contains(t, got[3].Reason, `"garbage123"`)

	assert.Equal(t, taxonomy.DefaultThemeID, got[4].ThemeID)
	assert.Equal(t, models.ProvenanceInvalidLabelFallback, got[4].Provenance)

	ids := taxonomy.Default().IDs()
	for _, cl := range got {
		assert.Contains(t, ids, cl.ThemeID)
		assert.NotEmpty(t, cl.ThemeName)
	}
}

func TestClassifyShortResponseIsRetried(t *testing.T) {
	remote := &remoteFunc{fn: func(ctx context.Context, call int, req models.BatchRequest) ([]models.RemoteLabel, error) {
		labels, _ := labelFromText(ctx, call, req)
		if call == 1 {
			return labels[:len(labels)-1], nil
		}
		return labels, nil
	}}
	c := New(taxonomy.Default(), remote, testConfig())

	got := c.Classify(context.Background(), makeReviews(3, "payments"))
	assert.Equal(t, int32(2), remote.calls.Load())
	for _, cl := range got {
		assert.Equal(t, "payments_statements", cl.ThemeID)
		assert.Equal(t, models.ProvenanceFuzzyRepaired, cl.Provenance)
	}
}

func TestClassifyMisalignedResponseFallsBack(t *testing.T) {
	remote := &remoteFunc{fn: func(ctx context.Context, call int, req models.BatchRequest) ([]models.RemoteLabel, error) {
		labels, _ := labelFromText(ctx, call, req)
		labels[0], labels[1] = labels[1], labels[0]
		return labels, nil
	}}
	c := New(taxonomy.Default(), remote, testConfig())

	got := c.Classify(context.Background(), makeReviews(2, "slow"))
	assert.Equal(t, int32(3), remote.calls.Load())
	for _, cl := range got {
		assert.Equal(t, models.ProvenanceServiceFailureFallback, cl.Provenance)
		assert.Contains(t, cl.Reason, "does not match review order")
	}
}

func TestClassifyFailureIsolation(t *testing.T) {
	remote := &remoteFunc{fn: func(ctx context.Context, call int, req models.BatchRequest) ([]models.RemoteLabel, error) {
		for _, item := range req.Items {
			if item.Text == "boom" {
				return nil, errors.New("boom")
			}
		}
		return labelFromText(ctx, call, req)
	}}
	cfg := testConfig()
	cfg.BatchSize = 2
	c := New(taxonomy.Default(), remote, cfg)

	reviews := []models.Review{
		{ID: "a", Text: "slow"},
		{ID: "b", Text: "slow"},
		{ID: "c", Text: "boom"},
		{ID: "d", Text: "slow"},
		{ID: "e", Text: "slow"},
	}
	got := c.Classify(context.Background(), reviews)
	require.Len(t, got, 5)

	want := []models.Provenance{
		models.ProvenanceRemote,
		models.ProvenanceRemote,
		models.ProvenanceServiceFailureFallback,
		models.ProvenanceServiceFailureFallback,
		models.ProvenanceRemote,
	}
	for i, cl := range got {
		assert.Equal(t, want[i], cl.Provenance, "review %s", cl.ReviewID)
	}
	// two healthy batches once each, failing batch three times
	assert.Equal(t, int32(5), remote.calls.Load())
}

func TestClassifyAttemptTimeoutCountsAsFailure(t *testing.T) {
	remote := &remoteFunc{fn: func(ctx context.Context, call int, req models.BatchRequest) ([]models.RemoteLabel, error) {
		if call < 3 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return labelFromText(ctx, call, req)
	}}
	cfg := testConfig()
	cfg.AttemptTimeout = 20 * time.Millisecond
	c := New(taxonomy.Default(), remote, cfg)

	got := c.Classify(context.Background(), makeReviews(2, "fees"))
	assert.Equal(t, int32(3), remote.calls.Load())
	for _, cl := range got {
		assert.Equal(t, "fees_financial_concerns", cl.ThemeID)
	}
}

func TestClassifyConcurrentBatches(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inFlight, peak atomic.Int32
	remote := &remoteFunc{fn: func(ctx context.Context, call int, req models.BatchRequest) ([]models.RemoteLabel, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if strings.HasSuffix(req.Items[0].ReviewID, "16") {
			return nil, errors.New("flaky")
		}
		return labelFromText(ctx, call, req)
	}}
	cfg := testConfig()
	cfg.BatchSize = 4
	cfg.Concurrency = 3
	c := New(taxonomy.Default(), remote, cfg)

	reviews := makeReviews(40, "crash")
	got := c.Classify(context.Background(), reviews)

	require.Len(t, got, 40)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	for i, cl := range got {
		assert.Equal(t, reviews[i].ID, cl.ReviewID)
		if i >= 16 && i < 20 {
			assert.Equal(t, models.ProvenanceServiceFailureFallback, cl.Provenance)
		} else {
			assert.Equal(t, "glitches", cl.ThemeID)
		}
	}
}

type memCache struct {
	mu    sync.Mutex
	items map[string]models.CachedClassification
	err   error
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string]models.CachedClassification)}
}

func (m *memCache) Get(_ context.Context, key string) (*models.CachedClassification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (m *memCache) Set(_ context.Context, key string, value models.CachedClassification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items[key] = value
	return nil
}

func TestClassifyUsesCache(t *testing.T) {
	cache := newMemCache()
	remote := &remoteFunc{fn: labelFromText}
	c := New(taxonomy.Default(), remote, testConfig(), WithCache(cache))

	reviews := []models.Review{
		{ID: "1", Text: "glitches"},
		{ID: "2", Text: "Glitch issues"},
		{ID: "3", Text: "garbage123"},
	}
	first := c.Classify(context.Background(), reviews)
	require.Equal(t, int32(1), remote.calls.Load())
	assert.Len(t, cache.items, 2, "fallbacks are not cached")

	second := c.Classify(context.Background(), reviews)
	assert.Equal(t, int32(2), remote.calls.Load(), "only the uncached review is sent again")
	assert.Equal(t, first, second)
}

func TestClassifyIgnoresCacheErrors(t *testing.T) {
	cache := newMemCache()
	cache.err = errors.New("redis down")
	c := New(taxonomy.Default(), &remoteFunc{fn: labelFromText}, testConfig(), WithCache(cache))

	got := c.Classify(context.Background(), []models.Review{{ID: "1", Text: "slow"}})
	require.Len(t, got, 1)
	assert.Equal(t, models.ProvenanceRemote, got[0].Provenance)
}

func TestPartition(t *testing.T) {
	assert.Nil(t, partition(nil, 8))
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4}}, partition([]int{0, 1, 2, 3, 4}, 3))
	assert.Equal(t, [][]int{{7}}, partition([]int{7}, 8))
}
