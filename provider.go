package contentpulse

import (
	"context"
	"fmt"

	"github.com/poiesic/contentpulse/ai"
	"github.com/poiesic/contentpulse/ai/anthropic"
	"github.com/poiesic/contentpulse/ai/cohere"
	"github.com/poiesic/contentpulse/ai/gemini"
	"github.com/poiesic/contentpulse/ai/openai"
)

// NewProvider builds the embedder and generator selected by config. The two
// may come from different vendors.
func NewProvider(ctx context.Context, config *ai.Config) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.EmbeddingProvider == ai.ProviderOpenAI && config.GeneratorProvider == ai.ProviderOpenAI {
		return openai.NewProvider(config)
	}

	geminiFor := newGeminiClients(ctx).get

	var (
		embedder ai.Embedder
		err      error
	)
	switch config.EmbeddingProvider {
	case ai.ProviderOpenAI:
		embedder, err = openai.NewEmbedder(config)
	case ai.ProviderCohere:
		embedder, err = cohere.NewEmbedder(config)
	case ai.ProviderGemini:
		var client *gemini.Client
		if client, err = geminiFor(config.EmbeddingAPIKey); err == nil {
			embedder, err = gemini.NewEmbedder(client, config)
		}
	default:
		err = fmt.Errorf("unknown embedding provider %q", config.EmbeddingProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	var generator ai.Generator
	switch config.GeneratorProvider {
	case ai.ProviderOpenAI:
		generator, err = openai.NewGenerator(config)
	case ai.ProviderAnthropic:
		generator, err = anthropic.NewGenerator(config)
	case ai.ProviderGemini:
		var client *gemini.Client
		if client, err = geminiFor(config.GeneratorAPIKey); err == nil {
			generator, err = gemini.NewGenerator(client, config)
		}
	default:
		err = fmt.Errorf("unknown generator provider %q", config.GeneratorProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	return ai.NewProvider(embedder, generator), nil
}

// geminiClients hands out one Gemini client per API key.
type geminiClients struct {
	ctx   context.Context
	byKey map[string]*gemini.Client
}

func newGeminiClients(ctx context.Context) *geminiClients {
	return &geminiClients{ctx: ctx, byKey: make(map[string]*gemini.Client)}
}

func (g *geminiClients) get(apiKey string) (*gemini.Client, error) {
	if client, ok := g.byKey[apiKey]; ok {
		return client, nil
	}
	client, err := gemini.NewClient(g.ctx, apiKey)
	if err != nil {
		return nil, err
	}
	g.byKey[apiKey] = client
	return client, nil
}
