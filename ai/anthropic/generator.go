// Package anthropic implements ai.Generator with the Claude Messages API.
package anthropic

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/poiesic/contentpulse/ai"
)

// Generator implements ai.Generator using Claude models.
type Generator struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
	logger      *slog.Logger
}

// NewGenerator creates a Claude generator from config. Extra request options
// are passed to the SDK client. Retries are left to the caller.
func NewGenerator(config *ai.Config, opts ...option.RequestOption) (ai.Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.GeneratorProvider != ai.ProviderAnthropic {
		return nil, errors.New("anthropic: config does not select the anthropic generator provider")
	}

	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(config.GeneratorAPIKey),
		option.WithMaxRetries(0),
	}, opts...)

	return &Generator{
		client:      anthropic.NewClient(clientOpts...),
		model:       config.GeneratorModel,
		temperature: config.Temperature,
		maxTokens:   int64(config.MaxTokens),
		timeout:     config.RequestTimeout,
		logger:      slog.Default().With("component", "anthropic-generator"),
	}, nil
}

// Generate sends a single user message with system as the system prompt.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   g.maxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(g.temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		g.logger.Error("message request failed", "err", err)
		return "", classifyError(err)
	}

	if string(resp.StopReason) == "refusal" {
		return "", ai.ErrSafetyRejected
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", ai.ErrEmptyResponse
	}
	return text.String(), nil
}

func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if kind := ai.ClassifyStatus(apiErr.StatusCode); kind != nil {
			return errors.Join(kind, err)
		}
	}
	return ai.Classify(err)
}
