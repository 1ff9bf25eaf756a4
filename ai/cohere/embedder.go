// Package cohere implements ai.Embedder on top of the Cohere Embed API.
package cohere

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	coherecore "github.com/cohere-ai/cohere-go/v2/core"
	"github.com/cohere-ai/cohere-go/v2/option"
	"github.com/poiesic/contentpulse/ai"
)

// Embedder implements ai.Embedder using the Cohere v2 embed endpoint.
type Embedder struct {
	client  *cohereclient.Client
	model   string
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Embedder.
type Option func(*Embedder) error

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(e *Embedder) error {
		if url == "" {
			return errors.New("cohere: base URL cannot be empty")
		}
		e.baseURL = url
		return nil
	}
}

func newEmbedder(config *ai.Config, opts ...Option) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.EmbeddingProvider != ai.ProviderCohere {
		return nil, errors.New("cohere: config does not select the cohere embedding provider")
	}

	e := &Embedder{
		model:   config.EmbeddingModel,
		timeout: config.RequestTimeout,
		logger:  slog.Default().With("component", "cohere-embedder"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	clientOpts := []option.RequestOption{
		cohereclient.WithToken(config.EmbeddingAPIKey),
		cohereclient.WithHTTPClient(&http.Client{Timeout: e.timeout}),
	}
	if e.baseURL != "" {
		clientOpts = append(clientOpts, cohereclient.WithBaseURL(e.baseURL))
	}
	e.client = cohereclient.NewClient(clientOpts...)
	return e, nil
}

// NewEmbedder creates a Cohere embedder from config.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config, opts ...Option) (ai.Embedder, error) {
	return newEmbedder(config, opts...)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts as search documents in one request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Texts:          texts,
		Model:          e.model,
		InputType:      cohere.EmbedInputTypeSearchDocument,
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	})
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, classifyError(err)
	}
	if resp == nil || resp.Embeddings == nil || len(resp.Embeddings.Float) == 0 {
		return nil, ai.ErrEmptyResponse
	}

	out := make([][]float32, len(resp.Embeddings.Float))
	for i, vec := range resp.Embeddings.Float {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		out[i] = fv
	}
	return out, nil
}

// classifyError maps Cohere API errors onto the ai error taxonomy.
func classifyError(err error) error {
	var apiErr *coherecore.APIError
	if errors.As(err, &apiErr) {
		if kind := ai.ClassifyStatus(apiErr.StatusCode); kind != nil {
			return errors.Join(kind, err)
		}
	}
	return ai.Classify(err)
}
