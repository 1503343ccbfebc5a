package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/review-pulse/backend/pkg/config"
)

type anthropicCompleter struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

func newAnthropicCompleter(cfg config.LLMConfig) *anthropicCompleter {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &anthropicCompleter{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		temperature: float64(cfg.Temperature),
		maxTokens:   maxTokens,
	}
}

func (c *anthropicCompleter) Provider() string { return ProviderAnthropic }

func (c *anthropicCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", Usage{}, err
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", Usage{}, errors.New("no text content in message response")
	}

	usage := Usage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}
	return sb.String(), usage, nil
}
