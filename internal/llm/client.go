package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/review-pulse/backend/internal/metrics"
	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/pkg/circuitbreaker"
	"github.com/review-pulse/backend/pkg/config"
	"github.com/review-pulse/backend/pkg/logger"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderStub      = "stub"
)

// BatchClassifier labels one batch of reviews against the taxonomy.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, req models.BatchRequest) ([]models.RemoteLabel, error)
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// completer is a single chat-style call to a hosted model.
type completer interface {
	Provider() string
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)
}

// minBreakerWait is the polling floor while another caller holds the
// half-open slot.
const minBreakerWait = 250 * time.Millisecond

type Client struct {
	completer completer
	cb        *circuitbreaker.CircuitBreaker
	// callTimeout bounds one completion; time spent waiting on the breaker
	// is not part of it.
	callTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func newClient(c completer, callTimeout time.Duration) *Client {
	return &Client{
		completer:   c,
		cb:          newBreaker(c.Provider(), time.Now),
		callTimeout: callTimeout,
		sleep:       sleepContext,
	}
}

// newBreaker is shared by every batch of a client. While it is open, batches
// wait for it to half-open instead of failing.
func newBreaker(provider string, now func() time.Time) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker("llm-"+provider, circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Logger:           logger.GetLogger(),
		Now:              now,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// New builds the batch classifier for the configured provider.
func New(ctx context.Context, cfg config.LLMConfig) (BatchClassifier, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider != ProviderStub && cfg.APIKey == "" {
		return nil, fmt.Errorf("llm provider %q requires an API key", provider)
	}

	var (
		c   completer
		err error
	)
	switch provider {
	case ProviderOpenAI, "":
		c = newOpenAICompleter(cfg)
	case ProviderAnthropic:
		c = newAnthropicCompleter(cfg)
	case ProviderGemini:
		c, err = newGeminiCompleter(ctx, cfg)
	case ProviderStub:
		logger.Info("Using offline stub classifier")
		return NewStub(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("LLM client initialized",
		zap.String("provider", c.Provider()),
		zap.String("model", cfg.Model),
	)
	return newClient(c, cfg.Timeout()), nil
}

func (c *Client) ClassifyBatch(ctx context.Context, req models.BatchRequest) ([]models.RemoteLabel, error) {
	systemPrompt, userPrompt := BuildPrompts(req)
	provider := c.completer.Provider()

	var raw string
	start := time.Now()
	err := c.execute(ctx, func(ctx context.Context) error {
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}
		content, usage, err := c.completer.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			return fmt.Errorf("%s completion failed: %w", provider, err)
		}
		metrics.LLMTokensUsed.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
		raw = content
		return nil
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RemoteCallDuration.WithLabelValues(provider, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	labels, err := ParseLabels(raw, req.Items)
	if err != nil {
		logger.Debug("Unparseable classification response",
			zap.String("provider", provider),
			zap.Int("response_length", len(raw)),
			zap.Error(err),
		)
		return nil, err
	}
	return labels, nil
}

// execute runs fn through the breaker. A rejected call waits until the
// breaker admits requests again, so an open circuit delays a batch but never
// fails it without the service being called.
func (c *Client) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		err := c.cb.Execute(ctx, fn)
		if !errors.Is(err, circuitbreaker.ErrCircuitOpen) && !errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return err
		}

		wait := c.cb.RetryAfter()
		if wait < minBreakerWait {
			wait = minBreakerWait
		}
		logger.Debug("Waiting for circuit breaker",
			zap.String("breaker", c.cb.Name()),
			zap.String("state", c.cb.State().String()),
			zap.Duration("wait", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
