package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/review-pulse/backend/pkg/config"
)

type geminiCompleter struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func newGeminiCompleter(ctx context.Context, cfg config.LLMConfig) (*geminiCompleter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiCompleter{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

func (c *geminiCompleter) Provider() string { return ProviderGemini }

func (c *geminiCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(c.temperature),
		MaxOutputTokens:   c.maxTokens,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", Usage{}, err
	}

	text := resp.Text()
	if text == "" {
		return "", Usage{}, errors.New("empty gemini response")
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return text, usage, nil
}
